package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// RowReader reads the raw rows of an export
type RowReader interface {
	ReadRows(ctx context.Context, path string) ([]normalizer.RawRow, error)
}

// Loader builds datasets from exports
type Loader struct {
	reader  RowReader
	builder *normalizer.Builder
	logger  *zap.Logger
	now     func() time.Time
}

// NewLoader creates a loader. A nil builder selects the default rules.
func NewLoader(reader RowReader, builder *normalizer.Builder, logger *zap.Logger) *Loader {
	if builder == nil {
		builder = normalizer.NewBuilder(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		reader:  reader,
		builder: builder,
		logger:  logger,
		now:     time.Now,
	}
}

// Load reads and decomposes the export at path. On any fatal error no
// dataset is returned.
func (l *Loader) Load(ctx context.Context, path string) (*Dataset, error) {
	start := l.now()

	rows, err := l.reader.ReadRows(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	records, stats, err := l.builder.Build(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	ds := &Dataset{
		records:  records,
		envs:     l.builder.Environments(),
		stats:    stats,
		source:   path,
		loadedAt: l.now(),
	}

	fields := []zap.Field{
		zap.String("path", path),
		zap.Int("records", ds.Len()),
		zap.Float64("total_cost", Round2(ds.Total())),
		zap.Int("unknown_quantity", stats.NonFiniteQuantity),
		zap.Duration("elapsed", ds.loadedAt.Sub(start)),
	}
	for _, dim := range []extract.Dimension{extract.Server, extract.UnitCost, extract.Unit} {
		if n := stats.Unmatched[dim]; n > 0 {
			fields = append(fields, zap.Int("unmatched_"+string(dim), n))
		}
	}
	l.logger.Info("Dataset loaded", fields...)

	return ds, nil
}

// ErrNotLoaded is returned by Snapshot.Current before the first load
var ErrNotLoaded = errors.New("dataset not loaded")

// Snapshot holds the current dataset. Reload swaps in a complete new
// dataset or leaves the previous one in place.
type Snapshot struct {
	loader  *Loader
	path    string
	current atomic.Pointer[Dataset]
}

// NewSnapshot creates an empty snapshot reading from path
func NewSnapshot(loader *Loader, path string) *Snapshot {
	return &Snapshot{loader: loader, path: path}
}

// Reload loads the export and replaces the current dataset
func (s *Snapshot) Reload(ctx context.Context) (*Dataset, error) {
	ds, err := s.loader.Load(ctx, s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(ds)
	return ds, nil
}

// Current returns the current dataset
func (s *Snapshot) Current() (*Dataset, error) {
	ds := s.current.Load()
	if ds == nil {
		return nil, ErrNotLoaded
	}
	return ds, nil
}

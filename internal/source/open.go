package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// DefaultPath is the export read when no input is given
const DefaultPath = "data/costs.txt"

// S3API is the subset of the S3 client used to fetch exports
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener opens export files from the local disk or S3
type Opener struct {
	s3     S3API
	region string
	logger *zap.Logger
}

// Option configures an Opener
type Option func(*Opener)

// WithS3Client sets the S3 client used for s3:// paths
func WithS3Client(client S3API) Option {
	return func(o *Opener) {
		o.s3 = client
	}
}

// WithRegion sets the region used when the S3 client is created lazily
func WithRegion(region string) Option {
	return func(o *Opener) {
		o.region = region
	}
}

// NewOpener creates an opener
func NewOpener(logger *zap.Logger, opts ...Option) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Opener{logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open returns a reader over the export at path. Paths ending in .gz are
// decompressed. Paths of the form s3://bucket/key are fetched from S3.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if path == "" {
		path = DefaultPath
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if strings.HasPrefix(path, "s3://") {
		rc, err = o.openS3(ctx, path)
	} else {
		rc, err = os.Open(path)
	}
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		return &gzipReadCloser{Reader: gz, underlying: rc}, nil
	}
	return rc, nil
}

// ReadRows opens path and parses it as a TSV export
func (o *Opener) ReadRows(ctx context.Context, path string) ([]normalizer.RawRow, error) {
	rc, err := o.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer rc.Close()

	rows, err := ReadTSV(rc)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Export read", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

func (o *Opener) openS3(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URL(path)
	if err != nil {
		return nil, err
	}

	if o.s3 == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		o.s3 = s3.NewFromConfig(awsCfg)
	}

	o.logger.Info("Fetching export from S3", zap.String("bucket", bucket), zap.String("key", key))
	out, err := o.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("can't get export from bucket '%s' with key '%s': %w", bucket, key, err)
	}
	return out.Body, nil
}

// ParseS3URL splits s3://bucket/key into its parts
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: expected s3://bucket/key", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: missing key", raw)
	}
	return u.Host, key, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.underlying.Close(); err != nil {
		return err
	}
	return gzErr
}

package aggregator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

func raw(usage, desc, name, cost string) normalizer.RawRow {
	return normalizer.RawRow{
		normalizer.ColumnUsageType:       usage,
		normalizer.ColumnItemDescription: desc,
		normalizer.ColumnName:            name,
		normalizer.ColumnUnblendedCost:   cost,
	}
}

func sampleRows() []normalizer.RawRow {
	return []normalizer.RawRow{
		raw("USE1-EC2-BoxUsage:m5.large", "$0.096 per On Demand Linux m5.large Instance Hour", "uc3-mrt-prd-1", "2.304"),
		raw("USE1-EBS:VolumeUsage.gp2", "$0.10 per GB-month of General Purpose SSD (gp2)", "uc3-mrt-prd-1 /dev/xvda", "10.00"),
		raw("USE1-EBS:VolumeUsage.gp2", "$0.10 per GB-month of General Purpose SSD (gp2)", "uc3-mrt-prd-1 swap", "1.00"),
		raw("USE1-EC2-BoxUsage:m5.large", "$0.096 per On Demand Linux m5.large Instance Hour", "uc3-mrt-prd-2", "2.304"),
		raw("USE1-EC2-BoxUsage:t3.medium", "$0.0416 per On Demand Linux t3.medium Instance Hour", "uc3-mrt-stg-1", "0.9984"),
		raw("USE1-EC2-BoxUsage:t3.small", "$0.0208 per On Demand Linux t3.small Instance Hour", "uc3-mrt-dev-1", "0.4992"),
		raw("USE1-EC2-BoxUsage:t3.small", "$0.0208 per On Demand Linux t3.small Instance Hour", "uc3-dash-prd-1", "0.4992"),
		raw("USE1-DataTransfer-Out-Bytes", "$0.09 per GB - first 10 TB / month data transfer out", "", "4.50"),
		raw("USE1-S3-Requests-Tier1", "Tax for product code AmazonS3", "", "0.75"),
	}
}

func sampleDataset(t *testing.T) *Dataset {
	t.Helper()
	b := normalizer.NewBuilder(nil, nil)
	records, _, err := b.Build(sampleRows())
	require.NoError(t, err)
	return New(records, nil)
}

func TestFilterPreservesOrder(t *testing.T) {
	ds := sampleDataset(t)

	mrt := ds.Filter(extract.Service, "mrt")
	require.Equal(t, 6, mrt.Len())

	all := ds.Records()
	var expected []normalizer.CostRecord
	for _, r := range all {
		if r.Service == "mrt" {
			expected = append(expected, r)
		}
	}
	assert.Equal(t, expected, mrt.Records())
}

func TestFilterNoMatchIsEmpty(t *testing.T) {
	ds := sampleDataset(t)

	none := ds.Filter(extract.Service, "missing")
	assert.True(t, none.Empty())
	assert.Equal(t, 0.0, none.Total())
	assert.Empty(t, none.GroupAndSum(extract.Env))
	assert.Empty(t, none.DrillDown("missing").Envs)
}

func TestDistinct(t *testing.T) {
	ds := sampleDataset(t)

	assert.Equal(t, []string{"dash", "mrt", "other"}, ds.Services())
	assert.Equal(t, []string{"production", "stage", "development", "n/a"}, ds.Envs())
	assert.Equal(t, []string{"DataTransfer", "EBS", "EC2", "S3"}, ds.AWSServices())
}

func TestGroupAndSumPreservesTotal(t *testing.T) {
	ds := sampleDataset(t)
	total := ds.Total()

	fields := []Field{
		extract.Service, extract.Env, extract.Server, extract.Device,
		extract.AWSService, extract.UsageType, extract.Zone, extract.Unit,
	}
	for _, f := range fields {
		var sum float64
		for _, v := range ds.GroupAndSum(f) {
			sum += v
		}
		assert.InDelta(t, total, sum, 1e-9, string(f))
	}
}

func TestGroupAndSumIncludesUnknownQuantity(t *testing.T) {
	ds := sampleDataset(t)

	other := ds.Filter(extract.Service, "other")
	var unknown int
	for _, r := range other.Records() {
		if !r.HasQuantity() {
			unknown++
		}
	}
	require.Equal(t, 1, unknown)
	assert.InDelta(t, 5.25, ds.GroupAndSum(extract.Service)["other"], 1e-9)
}

func TestRankedTieBreak(t *testing.T) {
	records := []normalizer.CostRecord{
		{Service: "b", Env: "stage", Cost: 1},
		{Service: "a", Env: "production", Cost: 1},
		{Service: "c", Env: "qa", Cost: 3},
	}
	ds := New(records, nil)

	assert.Equal(t, []LabeledTotal{
		{Label: "c", Total: 3},
		{Label: "a", Total: 1},
		{Label: "b", Total: 1},
	}, ds.Ranked(extract.Service))

	assert.Equal(t, []LabeledTotal{
		{Label: "production", Total: 1},
		{Label: "stage", Total: 1},
		{Label: "qa", Total: 3},
	}, ds.Ascending(extract.Env))

	assert.Equal(t, []LabeledTotal{{Label: "c", Total: 3}}, ds.TopN(extract.Service, 1))
	assert.Len(t, ds.TopN(extract.Service, 10), 3)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 2.3, Round2(2.304))
	assert.Equal(t, 2.31, Round2(2.305))
	assert.Equal(t, 0.0, Round2(0.001))
	assert.True(t, math.IsNaN(Round2(math.NaN())))
	assert.True(t, math.IsInf(Round2(math.Inf(1)), 1))
}

func TestDrillDown(t *testing.T) {
	ds := sampleDataset(t)

	rollup := ds.DrillDown("mrt")
	assert.Equal(t, "mrt", rollup.Service)
	assert.InDelta(t, 17.1056, rollup.Total, 1e-9)

	require.Len(t, rollup.Envs, 3)
	assert.Equal(t, "production", rollup.Envs[0].Env)
	assert.Equal(t, "stage", rollup.Envs[1].Env)
	assert.Equal(t, "development", rollup.Envs[2].Env)

	prod := rollup.Envs[0]
	assert.InDelta(t, 15.608, prod.Total, 1e-9)
	require.Len(t, prod.Servers, 2)
	assert.Equal(t, "uc3-mrt-prd-1", prod.Servers[0].Server)
	assert.Equal(t, "uc3-mrt-prd-2", prod.Servers[1].Server)
	assert.InDelta(t, 13.304, prod.Servers[0].Total, 1e-9)
	require.Len(t, prod.Servers[0].Records, 3)
	assert.Equal(t, "", prod.Servers[0].Records[0].Device)
	assert.Equal(t, "/dev/xvda", prod.Servers[0].Records[1].Device)
	assert.Equal(t, "swap", prod.Servers[0].Records[2].Device)
}

func TestDrillDownUnattributedStaysInService(t *testing.T) {
	ds := sampleDataset(t)

	rollup := ds.DrillDown("other")
	require.Len(t, rollup.Envs, 1)
	assert.Equal(t, "n/a", rollup.Envs[0].Env)
	require.Len(t, rollup.Envs[0].Servers, 1)
	assert.Equal(t, "", rollup.Envs[0].Servers[0].Server)
	assert.Len(t, rollup.Envs[0].Servers[0].Records, 2)

	assert.Len(t, ds.DrillDownAll(), 3)
}

func TestFilterChainEqualsConjunction(t *testing.T) {
	ds := sampleDataset(t)

	for _, service := range ds.Services() {
		for _, env := range ds.Envs() {
			for _, server := range ds.ServersFor(service, env) {
				chained := ds.ForService(service).Filter(extract.Env, env).Filter(extract.Server, server)
				direct := ds.Where(
					Eq(extract.Service, service),
					Eq(extract.Env, env),
					Eq(extract.Server, server),
				)
				assert.Equal(t, direct.Records(), chained.Records())
			}
		}
	}
}

func TestForServerAndAWSService(t *testing.T) {
	ds := sampleDataset(t)

	ebs := ds.ForServerAndAWSService("uc3-mrt-prd-1", "EBS")
	assert.Equal(t, 2, ebs.Len())
	assert.InDelta(t, 11.0, ebs.Total(), 1e-9)
	assert.Equal(t, 3, ds.ForServer("uc3-mrt-prd-1").Len())
}

func TestRecordsIsCopy(t *testing.T) {
	ds := sampleDataset(t)

	recs := ds.Records()
	recs[0].Service = "mutated"
	assert.NotEqual(t, "mutated", ds.Records()[0].Service)
}

func TestConcurrentReads(t *testing.T) {
	ds := sampleDataset(t)
	want := ds.GroupAndSum(extract.Service)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, ds.GroupAndSum(extract.Service))
			_ = ds.DrillDown("mrt")
		}()
	}
	wg.Wait()
}

type fakeReader struct {
	rows []normalizer.RawRow
	err  error
}

func (f *fakeReader) ReadRows(ctx context.Context, path string) ([]normalizer.RawRow, error) {
	return f.rows, f.err
}

func TestLoaderAndSnapshot(t *testing.T) {
	reader := &fakeReader{rows: sampleRows()}
	snap := NewSnapshot(NewLoader(reader, nil, nil), "costs.txt")

	_, err := snap.Current()
	assert.ErrorIs(t, err, ErrNotLoaded)

	ds, err := snap.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, ds.Len())
	assert.Equal(t, "costs.txt", ds.Source())
	assert.False(t, ds.LoadedAt().IsZero())
	assert.Equal(t, 9, ds.Stats().Rows)
	assert.Equal(t, 2, ds.Stats().Unmatched[extract.Server])

	current, err := snap.Current()
	require.NoError(t, err)
	assert.Same(t, ds, current)

	// a failed reload keeps the previous dataset
	reader.rows = append(sampleRows(), normalizer.RawRow{normalizer.ColumnName: "uc3-mrt-prd-9"})
	_, err = snap.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, normalizer.ErrMissingRequiredColumn))

	current, err = snap.Current()
	require.NoError(t, err)
	assert.Same(t, ds, current)
}

func TestLoaderReaderError(t *testing.T) {
	loader := NewLoader(&fakeReader{err: errors.New("boom")}, nil, nil)

	ds, err := loader.Load(context.Background(), "costs.txt")
	assert.Nil(t, ds)
	assert.EqualError(t, err, "failed to load costs.txt: boom")
}

package normalizer

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/finops-decomposer/internal/extract"
)

func row(usage, desc, name, cost string) RawRow {
	return RawRow{
		ColumnUsageType:       usage,
		ColumnItemDescription: desc,
		ColumnName:            name,
		ColumnUnblendedCost:   cost,
	}
}

func TestRecordScenario(t *testing.T) {
	b := NewBuilder(nil, nil)

	rec, _, err := b.Record(row(
		"USE1-EC2-BoxUsage:m5.large",
		"$0.096 per On Demand Linux m5.large Instance Hour",
		"uc3-mrt-prd-1",
		"2.304",
	))
	require.NoError(t, err)

	assert.Equal(t, "USE1", rec.Zone)
	assert.True(t, rec.HasZone())
	assert.Equal(t, "EC2", rec.AWSService)
	assert.Equal(t, "m5.large", rec.UsageType)
	assert.Equal(t, "uc3-mrt-prd-1", rec.Server)
	assert.Equal(t, "production", rec.Env)
	assert.Equal(t, "mrt", rec.Service)
	assert.Equal(t, "", rec.Device)
	assert.Equal(t, 0.096, rec.UnitCost)
	assert.Equal(t, "instance hour", rec.Unit)
	assert.Equal(t, 2.304, rec.Cost)
	assert.InDelta(t, 24.0, rec.Quantity, 1e-9)
}

func TestRecordWithoutUnitCost(t *testing.T) {
	b := NewBuilder(nil, nil)

	rec, values, err := b.Record(row("USE1-EC2-Tax", "Tax for product code AmazonEC2", "uc3-mrt-stg-1", "1.50"))
	require.NoError(t, err)

	assert.True(t, math.IsNaN(rec.UnitCost))
	assert.False(t, rec.HasUnitCost())
	assert.False(t, rec.HasQuantity())
	assert.Equal(t, 1.5, rec.Cost)
	assert.Equal(t, "mrt", rec.Service)
	assert.Equal(t, "stage", rec.Env)
	assert.False(t, values[extract.UnitCost].Matched)
}

func TestRecordZeroUnitCost(t *testing.T) {
	b := NewBuilder(nil, nil)

	rec, _, err := b.Record(row("USE1-EC2-BoxUsage:t3.nano", "$0.000 per Linux t3.nano Instance Hour", "uc3-mrt-dev-1", "0"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.UnitCost)
	assert.False(t, rec.HasQuantity())

	rec, _, err = b.Record(row("USE1-EC2-BoxUsage:t3.nano", "$0.000 per Linux t3.nano Instance Hour", "uc3-mrt-dev-1", "1.25"))
	require.NoError(t, err)
	assert.True(t, math.IsInf(rec.Quantity, 1))
	assert.False(t, rec.HasQuantity())
}

func TestRecordDefaults(t *testing.T) {
	b := NewBuilder(nil, nil)

	rec, _, err := b.Record(RawRow{ColumnUnblendedCost: "3"})
	require.NoError(t, err)

	assert.Equal(t, "", rec.Zone)
	assert.False(t, rec.HasZone())
	assert.Equal(t, "", rec.AWSService)
	assert.Equal(t, "Other", rec.UsageType)
	assert.Equal(t, "", rec.Server)
	assert.Equal(t, "n/a", rec.Env)
	assert.Equal(t, "other", rec.Service)
	assert.Equal(t, "", rec.Device)
	assert.Equal(t, "", rec.Unit)
	assert.Equal(t, 3.0, rec.Cost)
}

func TestRecordUnknownEnvPassesThrough(t *testing.T) {
	b := NewBuilder(nil, nil)

	rec, _, err := b.Record(row("", "", "uc3-mrt-qa-1", "1"))
	require.NoError(t, err)
	assert.Equal(t, "qa", rec.Env)
}

func TestBuildMissingCostAborts(t *testing.T) {
	b := NewBuilder(nil, nil)

	rows := []RawRow{
		row("USE1-EC2-BoxUsage:m5.large", "", "uc3-mrt-prd-1", "1"),
		{ColumnUsageType: "USE1-EC2-BoxUsage:m5.large", ColumnName: "uc3-mrt-prd-1"},
	}
	records, _, err := b.Build(rows)

	require.Error(t, err)
	assert.Nil(t, records)
	assert.True(t, errors.Is(err, ErrMissingRequiredColumn))

	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, ColumnUnblendedCost, missing.Column)
	assert.Equal(t, 2, missing.Row)
}

func TestBuildInvalidCostAborts(t *testing.T) {
	b := NewBuilder(nil, nil)

	records, _, err := b.Build([]RawRow{row("", "", "", "abc")})
	require.Error(t, err)
	assert.Nil(t, records)
	assert.True(t, errors.Is(err, ErrInvalidCost))
	assert.Contains(t, err.Error(), "row 1")

	_, _, err = b.Build([]RawRow{row("", "", "", "NaN")})
	assert.ErrorIs(t, err, ErrInvalidCost)
}

func TestBuildSortsCanonically(t *testing.T) {
	b := NewBuilder(nil, nil)

	rows := []RawRow{
		row("USE1-EBS:VolumeUsage.gp2", "$0.10 per GB-month", "uc3-mrt-dev-1 /dev/xvda", "1"),
		row("USE1-EC2-BoxUsage:m5.large", "$0.096 per Instance Hour", "uc3-mrt-prd-2", "2"),
		row("USE1-EC2-BoxUsage:m5.large", "$0.096 per Instance Hour", "uc3-mrt-stg-1", "3"),
		row("USE1-EC2-BoxUsage:m5.large", "$0.096 per Instance Hour", "uc3-mrt-prd-1", "4"),
		row("USE1-EC2-BoxUsage:t3.small", "", "uc3-dash-prd-1", "5"),
		row("USE1-DataTransfer-Out-Bytes", "", "", "6"),
		row("USE1-EBS:VolumeUsage.gp2", "$0.10 per GB-month", "uc3-mrt-prd-1 /dev/xvda", "7"),
	}

	records, stats, err := b.Build(rows)
	require.NoError(t, err)
	require.Len(t, records, len(rows))

	var costs []float64
	for _, r := range records {
		costs = append(costs, r.Cost)
	}
	// dash < mrt < other; within mrt: production, stage, development;
	// within uc3-mrt-prd-1: device "" before /dev/xvda.
	assert.Equal(t, []float64{5, 4, 7, 2, 3, 1, 6}, costs)

	assert.Equal(t, 7, stats.Rows)
	assert.Equal(t, 1, stats.Unmatched[extract.Server])
	assert.Equal(t, 1, stats.Unmatched[extract.Service])
	assert.Equal(t, 2, stats.NonFiniteQuantity)
}

func TestBuildStableForEqualKeys(t *testing.T) {
	b := NewBuilder(nil, nil)

	rows := []RawRow{
		row("USE1-EC2-BoxUsage:m5.large", "", "uc3-mrt-prd-1", "1"),
		row("USE1-EC2-BoxUsage:m5.large", "", "uc3-mrt-prd-1", "2"),
		row("USE1-EC2-BoxUsage:m5.large", "", "uc3-mrt-prd-1", "3"),
	}

	records, _, err := b.Build(rows)
	require.NoError(t, err)
	assert.Equal(t, 1.0, records[0].Cost)
	assert.Equal(t, 2.0, records[1].Cost)
	assert.Equal(t, 3.0, records[2].Cost)
}

func TestBuildEnvOrderIndependentOfInput(t *testing.T) {
	b := NewBuilder(nil, nil)

	rows := []RawRow{
		row("", "", "uc3-mrt-dev-1", "1"),
		row("", "", "uc3-mrt", "1"),
		row("", "", "uc3-mrt-stg-1", "1"),
		row("", "", "uc3-mrt-prd-1", "1"),
	}

	records, _, err := b.Build(rows)
	require.NoError(t, err)

	var envs []string
	for _, r := range records {
		envs = append(envs, r.Env)
	}
	assert.Equal(t, []string{"production", "stage", "development", "n/a"}, envs)
}

func TestSummarize(t *testing.T) {
	b := NewBuilder(nil, nil)

	records, _, err := b.Build([]RawRow{
		row("USE1-EC2-BoxUsage:m5.large", "$0.096 per Instance Hour", "uc3-mrt-prd-1", "2.304"),
		row("USE1-EBS:VolumeUsage.gp2", "$0.10 per GB-month", "uc3-mrt-prd-1 /dev/xvda", "1.0"),
		row("USE1-EC2-Tax", "Tax", "", "0.5"),
	})
	require.NoError(t, err)

	summary := Summarize(records)
	assert.Equal(t, 3, summary.Records)
	assert.InDelta(t, 3.804, summary.TotalCost, 1e-9)
	assert.InDelta(t, 3.304, summary.ByService["mrt"], 1e-9)
	assert.InDelta(t, 0.5, summary.ByService["other"], 1e-9)
	assert.InDelta(t, 3.304, summary.ByEnv["production"], 1e-9)
	assert.InDelta(t, 2.804, summary.ByAWSService["EC2"], 1e-9)
	assert.InDelta(t, 3.804, summary.ByZone["USE1"], 1e-9)
	assert.Equal(t, 1, summary.UnknownQuantity)
}

func TestFieldAccess(t *testing.T) {
	rec := CostRecord{
		Zone: "USE1", AWSService: "EC2", UsageType: "m5.large", Server: "uc3-mrt-prd-1",
		Env: "production", Service: "mrt", Device: "swap", Unit: "instance hour",
	}

	assert.Equal(t, "USE1", rec.Field(extract.Zone))
	assert.Equal(t, "EC2", rec.Field(extract.AWSService))
	assert.Equal(t, "m5.large", rec.Field(extract.UsageType))
	assert.Equal(t, "uc3-mrt-prd-1", rec.Field(extract.Server))
	assert.Equal(t, "production", rec.Field(extract.Env))
	assert.Equal(t, "mrt", rec.Field(extract.Service))
	assert.Equal(t, "swap", rec.Field(extract.Device))
	assert.Equal(t, "instance hour", rec.Field(extract.Unit))
	assert.Equal(t, "", rec.Field(extract.UnitCost))
}

// Package reconcile compares billing export totals against AWS Cost Explorer
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/config"
)

const (
	dateLayout    = "2006-01-02"
	costMetric    = "UnblendedCost"
	maxConcurrent = 4
)

// CostExplorerAPI is the part of the Cost Explorer client used for reconciliation
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Period is a billing period, start inclusive and end exclusive
type Period struct {
	Start time.Time
	End   time.Time
}

// ParsePeriod parses YYYY-MM-DD bounds
func ParsePeriod(start, end string) (Period, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Period{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Period{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if !e.After(s) {
		return Period{}, fmt.Errorf("end date %s is not after start date %s", end, start)
	}
	return Period{Start: s, End: e}, nil
}

func (p Period) String() string {
	return p.Start.Format(dateLayout) + "/" + p.End.Format(dateLayout)
}

// AccountTotal is the Cost Explorer total of one linked account. An empty
// AccountID stands for the whole payer account.
type AccountTotal struct {
	AccountID string  `json:"account_id"`
	Cost      float64 `json:"cost"`
}

// Result compares the export against Cost Explorer
type Result struct {
	Period          Period         `json:"-"`
	ExportTotal     float64        `json:"export_total"`
	ExplorerTotal   float64        `json:"explorer_total"`
	Delta           float64        `json:"delta"`
	DeltaPct        float64        `json:"delta_pct"`
	TolerancePct    float64        `json:"tolerance_pct"`
	WithinTolerance bool           `json:"within_tolerance"`
	Accounts        []AccountTotal `json:"accounts"`
}

// Reconciler queries Cost Explorer for the totals of a period
type Reconciler struct {
	client CostExplorerAPI
	config config.AWSConfig
	logger *zap.Logger
}

// New creates a Reconciler using the default AWS credential chain, assuming
// cfg.RoleARN when set
func New(ctx context.Context, cfg config.AWSConfig, logger *zap.Logger) (*Reconciler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// If role ARN specified, assume role
	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return NewWithClient(costexplorer.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewWithClient creates a Reconciler over an existing client
func NewWithClient(client CostExplorerAPI, cfg config.AWSConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{client: client, config: cfg, logger: logger}
}

// ExplorerTotals returns the unblended cost of every configured account.
// Accounts are queried concurrently; the first failure cancels the rest.
func (r *Reconciler) ExplorerTotals(ctx context.Context, period Period) ([]AccountTotal, error) {
	accounts := r.config.AccountIDs
	if len(accounts) == 0 {
		accounts = []string{""}
	}

	totals := make([]AccountTotal, len(accounts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			cost, err := r.accountTotal(ctx, period, account)
			if err != nil {
				if account == "" {
					return err
				}
				return fmt.Errorf("account %s: %w", account, err)
			}
			r.logger.Debug("Cost Explorer total",
				zap.String("account", account),
				zap.Stringer("period", period),
				zap.Float64("cost", cost),
			)
			totals[i] = AccountTotal{AccountID: account, Cost: cost}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *Reconciler) accountTotal(ctx context.Context, period Period, account string) (float64, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(period.Start.Format(dateLayout)),
			End:   aws.String(period.End.Format(dateLayout)),
		},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{costMetric},
	}
	if account != "" {
		input.Filter = &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionLinkedAccount,
				Values: []string{account},
			},
		}
	}

	var total float64

	// Handle pagination manually
	for {
		output, err := r.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to get cost data: %w", err)
		}

		for _, result := range output.ResultsByTime {
			metric, ok := result.Total[costMetric]
			if !ok || metric.Amount == nil {
				continue
			}
			cost, err := strconv.ParseFloat(*metric.Amount, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid %s amount %q: %w", costMetric, *metric.Amount, err)
			}
			total += cost
		}

		// Check for more pages
		if output.NextPageToken == nil {
			break
		}
		input.NextPageToken = output.NextPageToken
	}

	return total, nil
}

// Reconcile compares the dataset total against Cost Explorer for period
func (r *Reconciler) Reconcile(ctx context.Context, ds *aggregator.Dataset, period Period) (*Result, error) {
	accounts, err := r.ExplorerTotals(ctx, period)
	if err != nil {
		return nil, err
	}

	var explorer float64
	for _, a := range accounts {
		explorer += a.Cost
	}

	result := Compare(ds.Total(), explorer, r.config.TolerancePct)
	result.Period = period
	result.Accounts = accounts

	r.logger.Info("Reconciled billing export",
		zap.Stringer("period", period),
		zap.Float64("export_total", result.ExportTotal),
		zap.Float64("explorer_total", result.ExplorerTotal),
		zap.Float64("delta_pct", result.DeltaPct),
		zap.Bool("within_tolerance", result.WithinTolerance),
	)
	return result, nil
}

// Compare computes the delta between two totals. The percentage is relative
// to the Cost Explorer total.
func Compare(exportTotal, explorerTotal, tolerancePct float64) *Result {
	delta := exportTotal - explorerTotal

	var pct float64
	switch {
	case explorerTotal != 0:
		pct = delta / explorerTotal * 100
	case delta != 0:
		pct = math.Inf(1)
		if delta < 0 {
			pct = math.Inf(-1)
		}
	}

	return &Result{
		ExportTotal:     exportTotal,
		ExplorerTotal:   explorerTotal,
		Delta:           delta,
		DeltaPct:        pct,
		TolerancePct:    tolerancePct,
		WithinTolerance: math.Abs(pct) <= tolerancePct,
	}
}

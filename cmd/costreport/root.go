package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
	"github.com/lvonguyen/finops-decomposer/internal/config"
	"github.com/lvonguyen/finops-decomposer/internal/environment"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/logging"
	"github.com/lvonguyen/finops-decomposer/internal/metrics"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
	"github.com/lvonguyen/finops-decomposer/internal/reporter"
	"github.com/lvonguyen/finops-decomposer/internal/source"
)

// app holds the state shared by all subcommands
type app struct {
	cfgFile     string
	input       string
	verbose     bool
	metricsFile string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "costreport",
		Short: "Decompose an AWS billing export into service cost reports",
		Long: `costreport decomposes the line items of an AWS billing export into
service, environment, server and device dimensions and renders rollups
and drill-down reports.

Examples:
  costreport toc
  costreport summary mrt --input data/costs.txt
  costreport report --format markdown,json --out reports
  costreport chargeback --out chargeback.csv
  costreport reconcile --start 2018-05-01 --end 2018-06-01
  costreport budget --config costreport.yaml --fail-at 100`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&a.input, "input", "i", source.DefaultPath, "billing export: local TSV, .gz or s3://bucket/key")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")

	rootCmd.AddCommand(
		newReportCmd(a),
		newTOCCmd(a),
		newSummaryCmd(a),
		newChargebackCmd(a),
		newReconcileCmd(a),
		newBudgetCmd(a),
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if a.cfgFile != "" {
		loaded, err := config.Load(a.cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("input") || a.cfgFile == "" {
		cfg.Input.Path = a.input
	}
	if a.metricsFile != "" {
		cfg.Metrics.Textfile = a.metricsFile
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.metrics = metrics.New()

	a.logger.Debug("Starting costreport",
		zap.String("command", cmd.Name()),
		zap.String("config", a.cfgFile),
		zap.String("input", cfg.Input.Path),
	)
	return nil
}

func (a *app) teardown() error {
	defer a.logger.Sync()
	return a.writeMetrics()
}

func (a *app) writeMetrics() error {
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	a.logger.Debug("Metrics written", zap.String("path", a.cfg.Metrics.Textfile))
	return nil
}

// newReporter renders to w with the configured budgets
func (a *app) newReporter(cfg config.ReporterConfig, w io.Writer) *reporter.Reporter {
	return reporter.New(cfg, reporter.NewMarkdownWriter(w)).WithBudgets(a.cfg.Budgets)
}

// load reads and decomposes the configured export
func (a *app) load(ctx context.Context) (*aggregator.Dataset, error) {
	rules, err := extract.NewRules(a.cfg.Extraction)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}
	builder := normalizer.NewBuilder(rules, environment.New(a.cfg.Environments))

	reader := source.NewOpener(a.logger, source.WithRegion(a.cfg.Input.Region))
	snapshot := aggregator.NewSnapshot(aggregator.NewLoader(reader, builder, a.logger), a.cfg.Input.Path)

	start := time.Now()
	ds, err := snapshot.Reload(ctx)
	if err != nil {
		a.metrics.ObserveFailure()
		a.logger.Error("Load failed", zap.String("path", a.cfg.Input.Path), zap.Error(err))
		// post-run hooks are skipped on error
		if werr := a.writeMetrics(); werr != nil {
			a.logger.Warn("Failed to write metrics", zap.Error(werr))
		}
		return nil, err
	}
	a.metrics.ObserveLoad(ds, time.Since(start).Seconds())
	a.metrics.ObserveBudgets(ds.CheckBudgets(a.cfg.Budgets))

	return ds, nil
}

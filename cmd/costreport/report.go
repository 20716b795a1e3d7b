package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		outDir  string
		formats []string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the full report in one or more formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}

			cfg := a.cfg.Reporter
			if cmd.Flags().Changed("out") {
				cfg.OutputDir = outDir
			}
			if cmd.Flags().Changed("format") {
				cfg.Formats = formats
			}

			r := a.newReporter(cfg, cmd.OutOrStdout())
			paths, err := r.Write(ds, cfg.Formats)
			for _, p := range paths {
				a.logger.Info("Report generated", zap.String("path", p), zap.String("run_id", r.RunID()))
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config, ./reports)")
	cmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "output formats: markdown, csv, json, html")

	return cmd
}

func newTOCCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toc",
		Short: "Print services ranked by cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			r := a.newReporter(a.cfg.Reporter, cmd.OutOrStdout())
			return r.TableOfContents(ds)
		},
	}
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary [SERVICE]",
		Short: "Print the drill-down of one service, or of every service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			r := a.newReporter(a.cfg.Reporter, cmd.OutOrStdout())
			if len(args) == 0 {
				return r.Full(ds)
			}
			if ds.ForService(args[0]).Empty() {
				a.logger.Warn("Service has no line items", zap.String("service", args[0]))
			}
			return r.ServiceSummary(ds, args[0])
		},
	}
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/finops-decomposer/internal/chargeback"
)

func newChargebackCmd(a *app) *cobra.Command {
	var (
		out    string
		period string
	)

	cmd := &cobra.Command{
		Use:   "chargeback",
		Short: "Allocate cost to services, spreading unattributed cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}

			allocator := chargeback.NewAllocator(chargeback.ConfigFrom(a.cfg.Chargeback))
			report := chargeback.GenerateReport(allocator.Allocate(ds), period, ds.Envs())

			if out != "" {
				if err := report.SaveCSV(out); err != nil {
					return err
				}
				a.logger.Info("Chargeback report saved",
					zap.String("path", out),
					zap.Int("services", len(report.Allocations)),
				)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "Service\tTotal\tDirect\tAllocated\t")
			for _, alloc := range report.Allocations {
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t\n", alloc.Service, alloc.TotalCost, alloc.DirectCost, alloc.AllocatedCost)
			}
			fmt.Fprintf(w, "TOTAL\t%.2f\t\t\t\n", report.TotalCost)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report as CSV to this file")
	cmd.Flags().StringVar(&period, "period", "", "billing period label, e.g. 2018-05")

	return cmd
}

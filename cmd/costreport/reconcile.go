package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/finops-decomposer/internal/reconcile"
	"github.com/lvonguyen/finops-decomposer/internal/reporter"
)

func newReconcileCmd(a *app) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the export total with AWS Cost Explorer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := reconcile.ParsePeriod(start, end)
			if err != nil {
				return err
			}

			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}

			r, err := reconcile.New(cmd.Context(), a.cfg.AWS, a.logger)
			if err != nil {
				return err
			}
			result, err := r.Reconcile(cmd.Context(), ds, period)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, acct := range result.Accounts {
				if acct.AccountID != "" {
					fmt.Fprintf(out, "account %s: $%s\n", acct.AccountID, reporter.Money(acct.Cost))
				}
			}
			fmt.Fprintf(out, "period:         %s\n", period)
			fmt.Fprintf(out, "export total:   $%s\n", reporter.Money(result.ExportTotal))
			fmt.Fprintf(out, "explorer total: $%s\n", reporter.Money(result.ExplorerTotal))
			fmt.Fprintf(out, "delta:          $%s (%.2f%%)\n", reporter.Money(result.Delta), result.DeltaPct)

			if !result.WithinTolerance {
				return fmt.Errorf("export differs from Cost Explorer by %.2f%%, tolerance %.2f%%",
					result.DeltaPct, result.TolerancePct)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD, exclusive)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}

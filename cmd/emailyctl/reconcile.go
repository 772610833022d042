package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var reconcileListLimit int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Debits that failed after a survey was sent",
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending debits, oldest first",
	RunE:  runReconcileList,
}

func init() {
	reconcileListCmd.Flags().IntVar(&reconcileListLimit, "limit", 50, "Maximum number of records to show")

	reconcileCmd.AddCommand(reconcileListCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcileList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, s *store) error {
		debits, err := s.reconciliations.ListPending(ctx, reconcileListLimit)
		if err != nil {
			return fmt.Errorf("list pending debits: %w", err)
		}
		if len(debits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending debits")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACCOUNT\tSURVEY\tCREDITS\tCREATED\tERROR")
		for _, d := range debits {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", d.ID, d.AccountID, d.SurveyID, d.Credits, d.CreatedAt.Format(time.RFC3339), d.Error)
		}
		return w.Flush()
	})
}

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
)

func refundsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refunds",
		Short: "Reconcile refunds",
	}
	cmd.AddCommand(refundsListCmd(a))
	cmd.AddCommand(refundsRequeueCmd(a))
	return cmd
}

func refundsListCmd(a *app) *cobra.Command {
	var (
		date   string
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List refunds of one day, optionally by status",
		Example: `  ledgerctl refunds list --status failed
  ledgerctl refunds list --date 2026-10-19 --status "in progress"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day := a.now()
			if date != "" {
				parsed, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = parsed
			}

			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			refunds, err := a.refundService(store, nil).ListByStatus(cmd.Context(), ledger.PartitionKey(day), refund.Status(status))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REFUND\tTRANSACTION\tSEQ\tAMOUNT\tSTATUS\tCREATED")
			for _, rf := range refunds {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					rf.ID, rf.OriginalTransactionID, rf.Sequence, rf.Amount.StringFixed(2), rf.Status, rf.CreationDate)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "bucket day (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&status, "status", "", `filter by status: "in progress", refunded, unknown, failed`)
	return cmd
}

func refundsRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <refund-id>",
		Short: "Reset a failed refund to in progress and publish it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			jobs, closeQueue, err := a.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeQueue()

			rf, err := a.refundService(store, jobs).Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(rf)
		},
	}
}

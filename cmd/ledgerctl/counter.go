package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

func counterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect and drive sequence counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "allocate <scope-key> [sub-scope...]",
		Short: "Allocate the next id in a scope, healing the counter if it drifted",
		Example: `  ledgerctl counter allocate transactions::2026-10-19 TX
  ledgerctl counter allocate transactions::2026-10-19 refund::`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			next, err := sequence.NewAllocator(store).Allocate(cmd.Context(), args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, next)
			return nil
		},
	})
	return cmd
}

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
)

func transactionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "Create and reconcile ledger transactions",
	}
	cmd.AddCommand(transactionsCreateCmd(a))
	cmd.AddCommand(transactionsMarkPaidCmd(a))
	cmd.AddCommand(transactionsGetCmd(a))
	return cmd
}

func transactionsCreateCmd(a *app) *cobra.Command {
	var (
		userID   string
		amount   string
		currency string
		trnID    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a transaction in today's bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}

			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			txn, err := a.ledgerService(store).CreateTransaction(cmd.Context(), ledger.CreateInput{
				UserID:   owner,
				Amount:   amt,
				Currency: currency,
				TrnID:    trnID,
			})
			if err != nil {
				return err
			}
			return a.printJSON(txn)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id (uuid)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 100.00")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "ISO currency code")
	cmd.Flags().StringVar(&trnID, "trn-id", "", "gateway payment reference")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func transactionsMarkPaidCmd(a *app) *cobra.Command {
	var trnID string
	cmd := &cobra.Command{
		Use:   "mark-paid <transaction-id>",
		Short: "Record a captured payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			txn, err := a.ledgerService(store).MarkPaid(cmd.Context(), args[0], trnID)
			if err != nil {
				return err
			}
			return a.printJSON(txn)
		},
	}
	cmd.Flags().StringVar(&trnID, "trn-id", "", "gateway capture reference")
	return cmd
}

func transactionsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <transaction-id>",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			txn, err := a.ledgerService(store).GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(txn)
		},
	}
}

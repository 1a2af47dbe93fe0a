package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
	"github.com/mwork/booking-ledger/internal/pkg/database"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/logger"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

var Version = "dev"

// app carries what every subcommand needs. The open funcs are swapped out in tests.
type app struct {
	cfg       *config.Config
	out       io.Writer
	now       func() time.Time
	openStore func(ctx context.Context) (kv.Store, func(), error)
	openQueue func(ctx context.Context) (queue.Queue, func(), error)
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg: cfg,
		out: os.Stdout,
		now: time.Now,
		openStore: func(ctx context.Context) (kv.Store, func(), error) {
			return database.NewStore(ctx, cfg)
		},
		openQueue: func(ctx context.Context) (queue.Queue, func(), error) {
			return database.NewQueue(ctx, cfg)
		},
	}
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: "warn", Environment: "development", Service: "ledgerctl"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd(newApp(cfg)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the booking ledger: counters, transactions and refund reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(counterCmd(a))
	rootCmd.AddCommand(transactionsCmd(a))
	rootCmd.AddCommand(refundsCmd(a))
	rootCmd.AddCommand(tokenCmd(a))
	rootCmd.AddCommand(dlqCmd(a))
	return rootCmd
}

func (a *app) compiler() *fieldaction.Compiler {
	return fieldaction.NewCompiler(a.now)
}

func (a *app) ledgerService(store kv.Store) *ledger.Service {
	return ledger.NewService(ledger.NewRepository(store), sequence.NewAllocator(store), a.compiler(), a.cfg.SchemaDeveloperMode)
}

func (a *app) refundService(store kv.Store, pub queue.Publisher) *refund.Service {
	return refund.NewService(store, ledger.NewRepository(store), refund.NewRepository(store), sequence.NewAllocator(store), a.compiler(), pub, refund.Config{
		IdempotencyWindow: a.cfg.IdempotencyWindow,
		DeveloperMode:     a.cfg.SchemaDeveloperMode,
	})
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
	"github.com/mwork/booking-ledger/internal/pkg/database"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/gateway"
	"github.com/mwork/booking-ledger/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, Service: "refund-worker"}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}
	if cfg.GatewayBaseURL == "" {
		log.Fatal().Msg("GATEWAY_BASE_URL is required")
	}

	log.Info().Str("store", cfg.StoreDriver).Str("queue", cfg.QueueDriver).Msg("Starting refund-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := database.NewStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	jobs, closeQueue, err := database.NewQueue(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue")
	}
	defer closeQueue()

	archive, err := database.NewArchive(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open settlement archive")
	}

	compiler := fieldaction.NewCompiler(nil)
	processor := refund.NewProcessor(
		store,
		ledger.NewRepository(store),
		refund.NewRepository(store),
		compiler,
		gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken, cfg.GatewayTimeout(), "booking-refund-worker/1.0"),
		archive,
		refund.ProcessorConfig{GatewayTimeout: cfg.GatewayTimeout(), DeveloperMode: cfg.SchemaDeveloperMode},
	)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	newWorker(jobs, processor).run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
	log.Info().Msg("refund-worker stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
	"github.com/mwork/booking-ledger/internal/middleware"
	"github.com/mwork/booking-ledger/internal/pkg/database"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/jwt"
	"github.com/mwork/booking-ledger/internal/pkg/logger"
	pkgresponse "github.com/mwork/booking-ledger/internal/pkg/response"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, Service: "api"}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Str("queue", cfg.QueueDriver).
		Msg("Starting booking ledger API")

	ctx := context.Background()

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

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Services ----------
	compiler := fieldaction.NewCompiler(nil)
	allocator := sequence.NewAllocator(store)
	ledgerRepo := ledger.NewRepository(store)
	refundRepo := refund.NewRepository(store)

	ledgerService := ledger.NewService(ledgerRepo, allocator, compiler, cfg.SchemaDeveloperMode)
	refundService := refund.NewService(store, ledgerRepo, refundRepo, allocator, compiler, jobs, refund.Config{
		IdempotencyWindow: cfg.IdempotencyWindow,
		DeveloperMode:     cfg.SchemaDeveloperMode,
	})

	r := newRouter(cfg, middleware.Auth(jwtService), ledger.NewHandler(ledgerService), refund.NewHandler(refundService))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(cfg *config.Config, authMiddleware func(http.Handler) http.Handler, ledgerHandler *ledger.Handler, refundHandler *refund.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/transactions", ledgerHandler.Routes(authMiddleware))
		r.Mount("/transactions/{id}/refunds", refundHandler.Routes(authMiddleware))
	})

	return r
}

// Package main runs the remote sync endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emarzona/backend/internal/config"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/server/auth"
	"github.com/emarzona/backend/internal/server/handlers"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/server/store/pgstore"
	"github.com/emarzona/backend/internal/server/store/sqlstore"
	"github.com/emarzona/backend/internal/server/syncapi"
	"github.com/emarzona/backend/internal/telemetry"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logging.Error("Invalid configuration", err)
		os.Exit(2)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.ErrorWithCode("Server exited with error", string(errors.CodeOf(err)), err)
		os.Exit(1)
	}
	logging.Info("Server exited")
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	exporter, err := telemetry.ParseExporter(cfg.MetricsExporter)
	if err != nil {
		return err
	}
	provider, err := telemetry.Setup(ctx, exporter)
	if err != nil {
		return err
	}
	defer shutdownWithin(5*time.Second, "telemetry", provider.Shutdown)

	meter := provider.Meter("github.com/emarzona/backend/server")
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(meter)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	processor := syncapi.NewProcessor(st, handlers.NewRegistry(nil), &syncapi.ProcessorConfig{
		MaxBatchSize: cfg.MaxBatchSize,
		Metrics:      syncMetrics,
	})
	router := syncapi.NewRouter(syncapi.Deps{
		Handler:     syncapi.NewSyncHandler(processor),
		Verifier:    auth.NewVerifier([]byte(cfg.JWTSecret)),
		Store:       st,
		HTTPMetrics: httpMetrics,
		Metrics:     provider.Handler(),
	})

	pruner := syncapi.NewPruner(st, cfg.IdempotencyRetention, cfg.PruneInterval)
	pruner.Start(ctx)
	defer pruner.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.Get().StdLogger(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Sync endpoint listening", map[string]interface{}{
			"address":        server.Addr,
			"max_batch_size": processor.MaxBatchSize(),
			"exporter":       string(exporter),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	return nil
}

// openStore picks Postgres when DATABASE_URL is set and SQLite otherwise.
func openStore(ctx context.Context, cfg *config.ServerConfig) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		logging.Info("Using PostgreSQL store")
		return pgstore.Open(ctx, cfg.DatabaseURL)
	}
	logging.Info("Using SQLite store", map[string]interface{}{"path": cfg.SQLitePath})
	return sqlstore.Open(cfg.SQLitePath)
}

func shutdownWithin(d time.Duration, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := fn(ctx); err != nil {
		logging.Error("Shutdown of "+what+" failed", err)
	}
}

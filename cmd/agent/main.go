// Package main runs the local agent: the action queue, the sync scheduler
// and the localhost REST/WebSocket API the UI talks to.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emarzona/backend/cmd/agent/handlers"
	"github.com/emarzona/backend/internal/config"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	syncpkg "github.com/emarzona/backend/internal/sync"
	"github.com/emarzona/backend/internal/sync/queue"
	"github.com/emarzona/backend/internal/sync/scheduler"
	"github.com/emarzona/backend/internal/telemetry"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		logging.Error("Invalid configuration", err)
		os.Exit(2)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.ErrorWithCode("Agent exited with error", string(errors.CodeOf(err)), err)
		os.Exit(1)
	}
	logging.Info("Agent exited")
}

// agent holds the running components so shutdown can unwind them in order.
type agent struct {
	queue     *queue.LocalQueue
	scheduler *scheduler.Scheduler
	prober    *syncpkg.Prober
	hub       *WSHub
	router    http.Handler
}

func newAgent(cfg *config.AgentConfig, q *queue.LocalQueue, provider *telemetry.Provider) (*agent, error) {
	meter := provider.Meter("github.com/emarzona/backend/agent")
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	transport := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{
		BaseURL: cfg.ServerURL,
		Tokens:  syncpkg.StaticToken(cfg.Token),
		Timeout: cfg.RequestTimeout,
	})

	hub := NewWSHub()
	sched := scheduler.NewScheduler(q, transport, cfg.SchedulerConfig(),
		scheduler.WithEventSink(hub),
		scheduler.WithMetrics(syncMetrics),
	)
	prober := syncpkg.NewProber(transport, cfg.ProbeInterval, sched.SetOnlineStatus)

	router := handlers.NewRouter(handlers.Routes{
		Actions:     handlers.NewActionHandler(q, sched.NotifyForeground),
		Sync:        handlers.NewSyncHandler(sched),
		WebSocket:   HandleWebSocket(hub),
		Metrics:     provider.Handler(),
		HTTPMetrics: httpMetrics,
	})

	return &agent{queue: q, scheduler: sched, prober: prober, hub: hub, router: router}, nil
}

func (a *agent) start(ctx context.Context) {
	a.scheduler.Start(ctx)
	a.prober.Start(ctx)
}

func (a *agent) stop() {
	a.prober.Stop()
	a.scheduler.Stop()
	a.hub.Close()
}

// cleanupLoop applies the queue's cleanup policy every interval.
func (a *agent) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.queue.CleanupFailedActions(ctx); err != nil {
				logging.Error("Periodic queue cleanup failed", err)
			}
		}
	}
}

func run(ctx context.Context, cfg *config.AgentConfig) error {
	provider, err := telemetry.Setup(ctx, telemetry.ExporterPrometheus)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		provider.Shutdown(shutdownCtx)
	}()

	q, conn, err := queue.Open(cfg.DataDir, &queue.Config{Policy: cfg.CleanupPolicy()})
	if err != nil {
		return err
	}
	defer conn.Close()

	a, err := newAgent(cfg, q, provider)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.start(runCtx)
	defer a.stop()
	go a.cleanupLoop(runCtx, cfg.CleanupInterval)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.Get().StdLogger(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Agent listening", map[string]interface{}{
			"address": server.Addr,
			"server":  cfg.ServerURL,
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

	logging.Info("Shutting down agent...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Agent server forced to shutdown", err)
	}
	return nil
}

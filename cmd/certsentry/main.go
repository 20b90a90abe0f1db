package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certsentry/certsentry/internal/alert"
	"github.com/certsentry/certsentry/internal/api"
	"github.com/certsentry/certsentry/internal/batch"
	"github.com/certsentry/certsentry/internal/config"
	"github.com/certsentry/certsentry/internal/engine"
	"github.com/certsentry/certsentry/internal/ledger"
	"github.com/certsentry/certsentry/internal/metrics"
	"github.com/certsentry/certsentry/internal/publish"
	"github.com/certsentry/certsentry/internal/store"
	"github.com/certsentry/certsentry/internal/target"
	"github.com/certsentry/certsentry/internal/webhook"
	"github.com/certsentry/certsentry/internal/ws"
)

// reloadableSource serves the configured targets and swaps them atomically
// on config reload.
type reloadableSource struct {
	mu      sync.RWMutex
	targets []target.Target
}

func (s *reloadableSource) Active(ctx context.Context) ([]target.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]target.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *reloadableSource) swap(targets []target.Target) {
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single monitoring pass and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("certsentry starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"targets", len(cfg.Targets),
		"webhooks", len(cfg.Webhooks),
		"interval", cfg.Engine.Interval,
		"ledger", cfg.Ledger.Backend,
		"storage", cfg.Storage.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := buildLedger(cfg)
	if err != nil {
		slog.Error("failed to build notification ledger", "err", err)
		os.Exit(1)
	}

	recStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to build record store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	policy, err := alert.NewPolicy(cfg.Engine.Thresholds, cfg.Engine.Locale, led)
	if err != nil {
		slog.Error("invalid alert policy", "err", err)
		os.Exit(1)
	}

	endpoints := make([]webhook.Endpoint, 0, len(cfg.Webhooks))
	for _, wh := range cfg.Webhooks {
		if wh.URL() == "" {
			slog.Warn("webhook URL env is unset, skipping endpoint",
				"type", wh.Type, "env", wh.URLEnv)
			continue
		}
		endpoints = append(endpoints, webhook.Endpoint{Type: wh.Type, URL: wh.URL()})
	}
	sink := webhook.New(endpoints)

	runner := batch.New(batch.Options{
		Concurrency:     cfg.Engine.Concurrency,
		Timeout:         cfg.Engine.ProbeTimeout,
		Retries:         cfg.Engine.Retries,
		ExpiringHorizon: cfg.Engine.ExpiringHorizon,
	})

	var publisher *publish.Publisher
	if cfg.Events.Enabled {
		publisher = publish.New(cfg.Events.Brokers, cfg.Events.Topic)
		defer publisher.Close() //nolint:errcheck
		slog.Info("event publishing enabled",
			"brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}

	reg := metrics.NewRegistry()

	source := &reloadableSource{}
	source.swap(cfg.BuildTargets())

	eng := engine.New(source, runner, recStore, policy, sink, enginePublisher(publisher), reg)

	if *once {
		rep, err := eng.RunNow(ctx)
		if err != nil {
			slog.Error("monitoring run failed", "err", err)
			os.Exit(1)
		}
		slog.Info("monitoring run finished",
			"run_id", rep.RunID,
			"processed", rep.TotalProcessed,
			"succeeded", rep.Succeeded,
			"failed", rep.Failed,
			"alerts", rep.AlertsSent,
		)
		return
	}

	hub := ws.New()
	go hub.Run(ctx)

	// Hot reload swaps the target list; other settings need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			source.swap(next.BuildTargets())
			slog.Info("targets reloaded", "targets", len(next.Targets))
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if cfg.Engine.Interval > 0 {
		go runScheduled(ctx, eng, hub, cfg.Engine.Interval)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(eng, recStore, hub, reg.Handler()),
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("certsentry shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// runScheduled executes one run immediately and then on every tick.
func runScheduled(ctx context.Context, eng *engine.Engine, hub *ws.Hub, interval time.Duration) {
	runOnce := func() {
		rep, err := eng.RunNow(ctx)
		if errors.Is(err, engine.ErrRunInProgress) {
			slog.Warn("scheduled run skipped, another run is in progress")
			return
		}
		if err != nil {
			slog.Error("scheduled run failed", "err", err)
			return
		}
		hub.Broadcast(rep)
	}

	runOnce()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runOnce()
		}
	}
}

// buildLedger constructs the configured notification ledger backend.
func buildLedger(cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Ledger.Addr,
			Password: cfg.Ledger.Password(),
			DB:       cfg.Ledger.DB,
		})
		return ledger.NewRedis(client), nil
	default:
		return ledger.NewMemory(), nil
	}
}

// buildStore constructs the configured record store backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.RecordStore, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		dsn := cfg.Storage.DSN()
		if dsn == "" {
			return nil, nil, fmt.Errorf("storage: $%s is unset", cfg.Storage.DSNEnv)
		}
		pg, err := store.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil //nolint:errcheck
	default:
		return store.NewMemory(), func() {}, nil
	}
}

// enginePublisher converts a possibly-nil concrete publisher into the
// engine's optional interface without producing a typed-nil.
func enginePublisher(p *publish.Publisher) engine.Publisher {
	if p == nil {
		return nil
	}
	return p
}

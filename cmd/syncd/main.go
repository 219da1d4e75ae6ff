// syncd is the client synchronization server.
// Usage: go run ./cmd/syncd -config configs/syncd.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/srsync/internal/config"
	"github.com/rickgao/srsync/internal/connection"
	"github.com/rickgao/srsync/internal/database"
	"github.com/rickgao/srsync/internal/events"
	"github.com/rickgao/srsync/internal/metrics"
	"github.com/rickgao/srsync/internal/presence"
	"github.com/rickgao/srsync/internal/registry"
	"github.com/rickgao/srsync/internal/router"
	"github.com/rickgao/srsync/internal/status"
	"github.com/rickgao/srsync/internal/version"
)

const shutdownTimeout = 30 * time.Second

// sink consumes the registry change feed and must be stopped after the
// listener so it sees the final removals.
type sink interface {
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/syncd.example.yaml", "path to config file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"build", version.Current().String(),
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("syncd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("syncd stopped")
}

func run(ctx context.Context, cfg *config.SyncConfig, logger *slog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	reg := registry.New(logger.With("component", "registry"))
	rtr := router.New(reg, logger.With("component", "router"), router.WithMetrics(m))

	connCfg := connection.Config{
		ReadBufferSize:  cfg.Server.ReadBufferSize,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		NoDelay:         cfg.Server.TCPNoDelay(),
		OutboxCapacity:  cfg.Server.OutboxCapacity,
	}
	mgr := connection.NewManager(connCfg, reg, rtr, logger.With("component", "listener"), connection.WithMetrics(m))

	// Sinks run on their own context so a shutdown signal does not end them
	// before they have seen the registry being emptied.
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	var (
		sinks     []sink
		checks    []status.Option
		refresher *presence.Refresher
	)

	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Host,
			"port", cfg.Journal.Port,
			"database", cfg.Journal.Name,
		)
		journal, pool, err := database.OpenJournal(ctx, cfg.Journal, logger.With("component", "journal"))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer pool.Close()

		changes, unsubscribe := reg.Subscribe(registry.DefaultChangeBuffer)
		defer unsubscribe()
		if err := journal.Start(sinkCtx, changes); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}

		sinks = append(sinks, journal)
		checks = append(checks, status.WithCheck("journal", journal.Ping))
	}

	if cfg.Presence.Enabled {
		logger.Info("connecting to presence store", "addr", cfg.Presence.Addr)
		store, err := presence.Dial(ctx, cfg.Presence)
		if err != nil {
			return fmt.Errorf("connect presence: %w", err)
		}
		defer store.Close()

		mirror := presence.NewMirror(store, cfg.Presence.KeyPrefix, cfg.Presence.TTL, cfg.Instance.ID,
			logger.With("component", "presence"))
		changes, unsubscribe := reg.Subscribe(registry.DefaultChangeBuffer)
		defer unsubscribe()
		if err := mirror.Start(sinkCtx, changes); err != nil {
			return fmt.Errorf("start presence mirror: %w", err)
		}

		refresher = presence.NewRefresher(presence.RefresherConfig{
			Interval:    cfg.Presence.RefreshInterval,
			Concurrency: cfg.Presence.Concurrency,
		}, mirror, reg, logger.With("component", "presence_refresher"))
		if err := refresher.Start(sinkCtx); err != nil {
			return fmt.Errorf("start presence refresher: %w", err)
		}

		sinks = append(sinks, mirror)
		checks = append(checks, status.WithCheck("presence", store.Ping))
	}

	if cfg.Events.Enabled {
		logger.Info("connecting to nats", "url", cfg.Events.URL)
		nc, err := events.Connect(cfg.Events.URL, version.ClientName(cfg.Instance.ID))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()

		publisher := events.NewPublisher(nc, cfg.Events.SubjectPrefix, cfg.Instance.ID,
			logger.With("component", "events"))
		changes, unsubscribe := reg.Subscribe(registry.DefaultChangeBuffer)
		defer unsubscribe()
		if err := publisher.Start(sinkCtx, changes); err != nil {
			return fmt.Errorf("start events publisher: %w", err)
		}

		sinks = append(sinks, publisher)
		checks = append(checks, status.WithCheck("events", func(ctx context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return errors.New(strings.ToLower(s.String()))
			}
			return nil
		}))
	}

	if err := mgr.Start(ctx, cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	var statusSrv *status.Server
	if cfg.Status.Port > 0 {
		statusSrv = status.New(status.Config{
			Port:        cfg.Status.Port,
			MetricsPath: cfg.Status.MetricsPath,
		}, reg, mgr, logger.With("component", "status"),
			append(checks, status.WithGatherer(promReg))...)
		if err := statusSrv.Start(ctx); err != nil {
			mgr.Stop(context.Background())
			return err
		}
	}

	logger.Info("syncd running",
		"listen_addr", mgr.Addr().String(),
		"status_port", cfg.Status.Port,
		"journal", cfg.Journal.Enabled,
		"presence", cfg.Presence.Enabled,
		"events", cfg.Events.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if statusSrv != nil {
		if err := statusSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}

	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("listener shutdown", "error", err)
	}

	// The refresher goes first so no rewrite can follow the mirror's final
	// deletes.
	if refresher != nil {
		if err := refresher.Stop(shutdownCtx); err != nil {
			logger.Warn("presence refresher shutdown", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(shutdownCtx)
	for _, s := range sinks {
		g.Go(func() error {
			return s.Stop(gctx)
		})
	}
	return g.Wait()
}

// newLogger builds the root logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

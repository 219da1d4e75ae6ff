package presence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/srsync/internal/model"
)

// RosterSource provides the records to refresh.
type RosterSource interface {
	Snapshot() []model.ClientRecord
}

// RefresherConfig holds refresher configuration.
type RefresherConfig struct {
	Interval    time.Duration // Refresh interval; must be shorter than the key TTL
	Concurrency int           // Max concurrent store writes
	Timeout     time.Duration // Per-key timeout
}

// DefaultRefresherConfig returns sensible defaults.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:    30 * time.Second,
		Concurrency: 8,
		Timeout:     opTimeout,
	}
}

// Refresher periodically re-asserts every registered client's presence key.
type Refresher struct {
	cfg    RefresherConfig
	mirror *Mirror
	roster RosterSource
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles atomic.Int64
}

// NewRefresher creates a Refresher.
func NewRefresher(cfg RefresherConfig, mirror *Mirror, roster RosterSource, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRefresherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Refresher{
		cfg:    cfg,
		mirror: mirror,
		roster: roster,
		logger: logger,
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("presence refresher started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("presence refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycles returns how many refresh cycles have completed.
func (r *Refresher) Cycles() int64 {
	return r.cycles.Load()
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(r.ctx)
		}
	}
}

// RefreshAll rewrites every current record's key with bounded concurrency.
// Individual failures are logged and do not stop the cycle.
func (r *Refresher) RefreshAll(ctx context.Context) {
	start := time.Now()

	records := r.roster.Snapshot()
	if len(records) == 0 {
		r.cycles.Add(1)
		return
	}

	var refreshed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			keyCtx, cancel := context.WithTimeout(gctx, r.cfg.Timeout)
			defer cancel()

			wrote, err := r.mirror.Refresh(keyCtx, rec.ClientGUID)
			switch {
			case err != nil:
				r.logger.Warn("failed to refresh presence",
					"client_guid", rec.ClientGUID,
					"error", err,
				)
				failed.Add(1)
			case wrote:
				refreshed.Add(1)
			default:
				// Left after the snapshot, or its join is still queued.
				skipped.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	r.cycles.Add(1)

	r.logger.Debug("presence refresh complete",
		"clients", len(records),
		"refreshed", refreshed.Load(),
		"skipped", skipped.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

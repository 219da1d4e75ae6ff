package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/srsync/internal/config"
	"github.com/rickgao/srsync/internal/model"
)

// Schema creates the journal table.
const Schema = `
	CREATE TABLE IF NOT EXISTS session_events (
		event_id    uuid PRIMARY KEY,
		occurred_at timestamptz NOT NULL,
		event       text NOT NULL,
		client_guid text NOT NULL,
		session_id  text NOT NULL,
		remote_addr text NOT NULL
	)
`

// finalFlushTimeout bounds the flush Stop performs after the workers exit.
// It applies even when the caller's context has already expired.
const finalFlushTimeout = 5 * time.Second

const insertEvent = `
	INSERT INTO session_events (event_id, occurred_at, event, client_guid, session_id, remote_addr)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (event_id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
}

// JournalStats contains journal statistics.
type JournalStats struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Pending int
}

// eventRow is one session_events row.
type eventRow struct {
	EventID    string
	OccurredAt time.Time
	Event      string
	ClientGUID string
	SessionID  string
	RemoteAddr string
}

// Journal batches registry changes into session_events.
type Journal struct {
	batchSize     int
	flushInterval time.Duration
	db            DB
	logger        *slog.Logger

	// Batching
	batch   []eventRow
	batchMu sync.Mutex
	flushCh chan struct{}

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping chan struct{}
	consumed chan struct{}
	stopOnce sync.Once

	// Metrics
	stats JournalStats
}

// NewJournal creates a Journal writing through db.
func NewJournal(cfg config.JournalConfig, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}

	return &Journal{
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		db:            db,
		logger:        logger,
		batch:         make([]eventRow, 0, cfg.BatchSize),
		flushCh:       make(chan struct{}, 1),
		stopping:      make(chan struct{}),
		consumed:      make(chan struct{}),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Exec(ctx, Schema)
	return err
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.Ping(ctx)
}

// Start consumes changes until Stop or until the channel closes.
func (j *Journal) Start(ctx context.Context, changes <-chan model.Change) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(2)
	go j.consumeLoop(changes)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.batchSize,
		"flush_interval", j.flushInterval,
	)
	return nil
}

// Stop drains changes already queued on the feed, then writes whatever is
// still batched.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	j.stopOnce.Do(func() { close(j.stopping) })
	if j.cancel != nil {
		select {
		case <-j.consumed:
		case <-ctx.Done():
		}
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
	}

	// Final flush, on its own deadline: a caller that ran out of time
	// waiting above would otherwise drop every batched row.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	j.flush(flushCtx)

	j.logger.Info("journal stopped")
	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() JournalStats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()

	stats := j.stats
	stats.Pending = len(j.batch)
	return stats
}

func (j *Journal) consumeLoop(changes <-chan model.Change) {
	defer j.wg.Done()
	defer close(j.consumed)

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.stopping:
			for {
				select {
				case change, ok := <-changes:
					if !ok {
						return
					}
					j.add(change)
				default:
					return
				}
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			j.add(change)
		}
	}
}

// flushLoop flushes on the interval, or early when the batch fills up.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush(j.ctx)
		case <-j.flushCh:
			j.flush(j.ctx)
		}
	}
}

func (j *Journal) add(change model.Change) {
	row := eventRow{
		EventID:    uuid.NewString(),
		OccurredAt: change.At,
		Event:      string(change.Type),
		ClientGUID: change.ClientGUID,
		SessionID:  change.SessionID,
		RemoteAddr: change.RemoteAddr,
	}

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	full := len(j.batch) >= j.batchSize
	j.batchMu.Unlock()

	if full {
		select {
		case j.flushCh <- struct{}{}:
		default:
		}
	}
}

func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	rows := j.batch
	j.batch = make([]eventRow, 0, j.batchSize)
	j.batchMu.Unlock()

	if len(rows) == 0 {
		return
	}

	start := time.Now()
	err := j.batchInsert(ctx, rows)

	j.batchMu.Lock()
	j.stats.Flushes++
	if err != nil {
		j.stats.Errors++
	} else {
		j.stats.Inserts += int64(len(rows))
	}
	j.batchMu.Unlock()

	if err != nil {
		j.logger.Error("journal batch insert failed", "error", err, "count", len(rows))
		return
	}

	j.logger.Debug("flushed journal",
		"events", len(rows),
		"duration", time.Since(start),
	)
}

func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.EventID, r.OccurredAt, r.Event, r.ClientGUID, r.SessionID, r.RemoteAddr)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

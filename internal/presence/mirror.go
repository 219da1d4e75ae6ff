package presence

import (
	"context"
	"encoding/json"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/srsync/internal/model"
)

// opTimeout bounds a single Redis call.
const opTimeout = 2 * time.Second

// keyLocks is the number of stripes serializing writes per client key.
const keyLocks = 64

// Entry is the JSON value of a presence key.
type Entry struct {
	Instance   string    `json:"instance"`
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Since      time.Time `json:"since"`
}

// Stats contains mirror statistics.
type Stats struct {
	Sets    int64
	Deletes int64
	Errors  int64
}

// Mirror applies registry changes to the presence store.
type Mirror struct {
	store    Store
	prefix   string
	ttl      time.Duration
	instance string
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once

	// A key's lock is held across its store call so a refresh can never
	// land after the delete of a client that has left.
	seed  maphash.Seed
	locks [keyLocks]sync.Mutex

	mu    sync.Mutex
	live  map[string]Entry
	stats Stats
}

// NewMirror creates a Mirror writing keys as prefix+guid with ttl.
func NewMirror(store Store, prefix string, ttl time.Duration, instance string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store:    store,
		prefix:   prefix,
		ttl:      ttl,
		instance: instance,
		logger:   logger,
		stopping: make(chan struct{}),
		seed:     maphash.MakeSeed(),
		live:     make(map[string]Entry),
	}
}

// Key returns the presence key for guid.
func (m *Mirror) Key(guid string) string {
	return m.prefix + guid
}

// Start applies changes until Stop or until the channel closes.
func (m *Mirror) Start(ctx context.Context, changes <-chan model.Change) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.consume(changes)

	m.logger.Info("presence mirror started", "prefix", m.prefix, "ttl", m.ttl)
	return nil
}

// Stop applies whatever is already queued on the feed, then ends the loop.
func (m *Mirror) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopping) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		m.logger.Info("presence mirror stopped")
	case <-ctx.Done():
		err = ctx.Err()
	}

	if m.cancel != nil {
		m.cancel()
	}
	return err
}

// Apply writes one change to the store.
func (m *Mirror) Apply(ctx context.Context, change model.Change) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lock := m.lockFor(change.ClientGUID)
	lock.Lock()
	defer lock.Unlock()

	var err error
	switch change.Type {
	case model.ChangeJoined:
		entry := Entry{
			Instance:   m.instance,
			SessionID:  change.SessionID,
			RemoteAddr: change.RemoteAddr,
			Since:      change.At,
		}
		m.mu.Lock()
		m.live[change.ClientGUID] = entry
		m.mu.Unlock()
		err = m.put(ctx, change.ClientGUID, entry)

	case model.ChangeLeft, model.ChangeCleared:
		m.mu.Lock()
		delete(m.live, change.ClientGUID)
		m.mu.Unlock()

		err = m.store.Del(ctx, m.Key(change.ClientGUID))
		m.mu.Lock()
		if err != nil {
			m.stats.Errors++
		} else {
			m.stats.Deletes++
		}
		m.mu.Unlock()

	default:
		return
	}

	if err != nil {
		m.logger.Warn("presence update failed",
			"change", change.Type,
			"client_guid", change.ClientGUID,
			"error", err,
		)
	}
}

// Refresh rewrites guid's key, restarting its TTL. Only clients the mirror
// has seen join and not yet leave are written; it reports whether a write
// was attempted.
func (m *Mirror) Refresh(ctx context.Context, guid string) (bool, error) {
	lock := m.lockFor(guid)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	entry, ok := m.live[guid]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, m.put(ctx, guid, entry)
}

// Live returns how many clients the mirror currently holds keys for.
func (m *Mirror) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// put writes entry under guid's key. The caller holds guid's lock.
func (m *Mirror) put(ctx context.Context, guid string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	err = m.store.Set(ctx, m.Key(guid), string(value), m.ttl)

	m.mu.Lock()
	if err != nil {
		m.stats.Errors++
	} else {
		m.stats.Sets++
	}
	m.mu.Unlock()
	return err
}

func (m *Mirror) lockFor(guid string) *sync.Mutex {
	return &m.locks[maphash.String(m.seed, guid)%keyLocks]
}

// Stats returns current statistics.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// consume handles changes until the feed closes or the context ends. After
// Stop it handles only what is already queued.
func (m *Mirror) consume(changes <-chan model.Change) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stopping:
			for {
				select {
				case change, ok := <-changes:
					if !ok {
						return
					}
					m.Apply(m.ctx, change)
				default:
					return
				}
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			m.Apply(m.ctx, change)
		}
	}
}

package registry

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/srsync/internal/model"
)

// DefaultChangeBuffer is the subscriber channel capacity used when
// Subscribe is called with a non-positive size.
const DefaultChangeBuffer = 256

// entry pairs a record with its registration order.
type entry struct {
	rec model.ClientRecord
	seq uint64
}

// Registry is the authoritative in-memory set of registered clients.
// It is safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*entry
	seq     uint64

	// Change subscribers, keyed by subscription id.
	subs    map[int]chan model.Change
	nextSub int
	dropped atomic.Int64
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		clients: make(map[string]*entry),
		subs:    make(map[int]chan model.Change),
	}
}

// RegisterIfAbsent inserts rec under id unless id is already present.
// It reports whether the insert happened; a duplicate is a no-op.
func (r *Registry) RegisterIfAbsent(id string, rec model.ClientRecord) bool {
	rec = rec.Clone()
	rec.ClientGUID = id
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = time.Now()
	}
	if rec.LastHeartbeat.IsZero() {
		rec.LastHeartbeat = rec.ConnectedAt
	}

	r.mu.Lock()
	if _, ok := r.clients[id]; ok {
		r.mu.Unlock()
		return false
	}

	r.seq++
	r.clients[id] = &entry{rec: rec, seq: r.seq}
	r.notifyLocked(model.Change{
		Type:       model.ChangeJoined,
		ClientGUID: id,
		SessionID:  rec.SessionID,
		RemoteAddr: rec.RemoteAddr,
		At:         rec.ConnectedAt,
	})
	r.mu.Unlock()

	r.logger.Debug("client registered", "client_guid", id, "session_id", rec.SessionID)
	return true
}

// Remove deletes id if present and reports whether it was.
// Removing an absent id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, id)
	r.notifyLocked(model.Change{
		Type:       model.ChangeLeft,
		ClientGUID: id,
		SessionID:  e.rec.SessionID,
		RemoteAddr: e.rec.RemoteAddr,
		At:         time.Now(),
	})
	r.mu.Unlock()

	r.logger.Debug("client removed", "client_guid", id)
	return true
}

// UpdateHeartbeat sets the record's last-heartbeat time in place.
// It returns false when id is not registered.
func (r *Registry) UpdateHeartbeat(id string, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[id]
	if !ok {
		return false
	}
	e.rec.LastHeartbeat = ts
	return true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (model.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.clients[id]
	if !ok {
		return model.ClientRecord{}, false
	}
	return e.rec.Clone(), true
}

// Snapshot returns copies of every record in registration order.
// The result reflects one instant and is safe to use without locking.
func (r *Registry) Snapshot() []model.ClientRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.clients))
	for _, e := range r.clients {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	result := make([]model.ClientRecord, len(entries))
	for i, e := range entries {
		result[i] = e.rec.Clone()
	}
	r.mu.RUnlock()

	return result
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clear removes every record and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.clients)
	now := time.Now()
	for id, e := range r.clients {
		r.notifyLocked(model.Change{
			Type:       model.ChangeCleared,
			ClientGUID: id,
			SessionID:  e.rec.SessionID,
			RemoteAddr: e.rec.RemoteAddr,
			At:         now,
		})
	}
	clear(r.clients)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Info("registry cleared", "removed", n)
	}
	return n
}

// DroppedChanges returns how many changes were discarded for lagging subscribers.
func (r *Registry) DroppedChanges() int64 {
	return r.dropped.Load()
}

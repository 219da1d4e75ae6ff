package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/srsync/internal/metrics"
	"github.com/rickgao/srsync/internal/model"
	"github.com/rickgao/srsync/internal/protocol"
)

// Router turns decoded messages into registry updates and addressed replies.
// It is safe for concurrent use by every session.
type Router struct {
	registry Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// Stats
	mu              sync.RWMutex
	received        int64
	syncs           int64
	registrations   int64
	heartbeats      int64
	droppedPings    int64
	unknownMessages int64
	rejected        int64
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records routing outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithClock overrides the heartbeat and registration clock.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a Router over registry.
func New(registry Registry, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route handles one message from origin and returns the replies to deliver.
// A nil result means the message produced no reply.
func (r *Router) Route(from Origin, msg protocol.Message) []Reply {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	// Clients choose MsgType, so unknown values share one metric label.
	label := string(msg.MsgType)
	if !msg.MsgType.Known() {
		label = "unknown"
	}
	r.metrics.MessageReceived(label)

	switch msg.MsgType {
	case protocol.MsgPing:
		return r.handlePing(from, msg)

	case protocol.MsgSync:
		return r.handleSync(from, msg)

	default:
		r.logger.Warn("received unknown message type",
			"type", msg.MsgType,
			"session_id", from.ID(),
		)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		return nil
	}
}

// handlePing refreshes the sender's heartbeat and echoes it to everyone.
//
// The echo goes to every session rather than just the sender, matching the
// deployed clients' expectations.
func (r *Router) handlePing(from Origin, msg protocol.Message) []Reply {
	if msg.ClientGUID == "" {
		r.reject(from, msg, "empty client guid")
		return nil
	}

	if !r.registry.UpdateHeartbeat(msg.ClientGUID, r.now()) {
		r.logger.Debug("dropping ping from unregistered client",
			"client_guid", msg.ClientGUID,
			"session_id", from.ID(),
		)
		r.metrics.PingDropped()
		r.mu.Lock()
		r.droppedPings++
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.heartbeats++
	r.mu.Unlock()

	return []Reply{{
		Target:  ToAll,
		Message: protocol.Message{MsgType: protocol.MsgPing, ClientGUID: msg.ClientGUID},
	}}
}

// handleSync registers the sender if needed and answers with the roster.
func (r *Router) handleSync(from Origin, msg protocol.Message) []Reply {
	if msg.ClientGUID == "" {
		r.reject(from, msg, "empty client guid")
		return nil
	}
	if claimed := from.ClientGUID(); claimed != "" && claimed != msg.ClientGUID {
		r.reject(from, msg, "session already bound to "+claimed)
		return nil
	}

	now := r.now()
	inserted := r.registry.RegisterIfAbsent(msg.ClientGUID, model.ClientRecord{
		ClientGUID:    msg.ClientGUID,
		SessionID:     from.ID(),
		RemoteAddr:    from.RemoteAddr(),
		ConnectedAt:   now,
		LastHeartbeat: now,
		State:         msg.State,
	})

	// Bind whether or not this call inserted: a duplicate SYNC or a
	// reconnect under a live identifier proceeds as already registered.
	// The binding was checked above, so a failed claim means the session
	// closed meanwhile and its teardown will not remove what we inserted.
	if !from.Claim(msg.ClientGUID) {
		if inserted {
			r.registry.Remove(msg.ClientGUID)
		}
		r.logger.Debug("session closed during sync",
			"client_guid", msg.ClientGUID,
			"session_id", from.ID(),
		)
		return nil
	}

	if inserted {
		r.logger.Info("client registered",
			"client_guid", msg.ClientGUID,
			"session_id", from.ID(),
			"remote_addr", from.RemoteAddr(),
		)
	}

	snapshot := r.registry.Snapshot()
	r.metrics.SetRegistryClients(len(snapshot))

	r.mu.Lock()
	r.syncs++
	if inserted {
		r.registrations++
	}
	r.mu.Unlock()

	return []Reply{{
		Target:  ToSender,
		Message: protocol.Message{MsgType: protocol.MsgSync, Clients: Roster(snapshot)},
	}}
}

func (r *Router) reject(from Origin, msg protocol.Message, reason string) {
	r.logger.Warn("rejected message",
		"type", msg.MsgType,
		"client_guid", msg.ClientGUID,
		"session_id", from.ID(),
		"reason", reason,
	)
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		MessagesReceived: r.received,
		SyncRequests:     r.syncs,
		Registrations:    r.registrations,
		Heartbeats:       r.heartbeats,
		DroppedPings:     r.droppedPings,
		UnknownMessages:  r.unknownMessages,
		Rejected:         r.rejected,
	}
}

// Roster converts registry records to wire roster entries.
// The result is never nil, so it always encodes as a present roster.
func Roster(records []model.ClientRecord) []protocol.ClientInfo {
	roster := make([]protocol.ClientInfo, 0, len(records))
	for _, rec := range records {
		roster = append(roster, protocol.ClientInfo{
			ClientGUID: rec.ClientGUID,
			State:      rec.State,
		})
	}
	return roster
}

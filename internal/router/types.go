package router

import (
	"time"

	"github.com/rickgao/srsync/internal/model"
	"github.com/rickgao/srsync/internal/protocol"
)

// Origin is the session a message arrived on.
type Origin interface {
	// ID returns the server-assigned session identifier.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// ClientGUID returns the identifier claimed by the session, or "".
	ClientGUID() string

	// Claim binds guid to the session if it has not claimed one yet.
	// It reports whether the session's identifier is guid after the call,
	// and false once the session has started closing.
	Claim(guid string) bool
}

// Registry is the subset of the Client Registry the router mutates.
type Registry interface {
	RegisterIfAbsent(id string, rec model.ClientRecord) bool
	Remove(id string) bool
	UpdateHeartbeat(id string, ts time.Time) bool
	Snapshot() []model.ClientRecord
}

// Target selects which sessions receive a reply.
type Target int

const (
	ToSender Target = iota // Only the originating session
	ToAll                  // Every active session
)

func (t Target) String() string {
	switch t {
	case ToSender:
		return "sender"
	case ToAll:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Reply is a message addressed by the router for delivery.
type Reply struct {
	Target  Target
	Message protocol.Message
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	SyncRequests     int64
	Registrations    int64
	Heartbeats       int64
	DroppedPings     int64
	UnknownMessages  int64
	Rejected         int64
}

package connection

import (
	"errors"
	"time"

	"github.com/rickgao/srsync/internal/protocol"
	"github.com/rickgao/srsync/internal/router"
)

// Errors
var (
	ErrServerClosed   = errors.New("server closed")
	ErrAlreadyStarted = errors.New("already started")
	ErrSessionClosed  = errors.New("session closed")
)

// Dispatcher turns one decoded message into addressed replies.
// *router.Router satisfies it.
type Dispatcher interface {
	Route(from router.Origin, msg protocol.Message) []router.Reply
}

// Registry is the subset of the Client Registry the connection layer uses
// for teardown and shutdown.
type Registry interface {
	Remove(id string) bool
	Clear() int
	Len() int
}

// State is a session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons, used as log fields and metric labels.
const (
	ReasonEOF        = "eof"
	ReasonReadError  = "read_error"
	ReasonWriteError = "write_error"
	ReasonTooLarge   = "frame_too_large"
	ReasonShutdown   = "shutdown"
)

// Config configures the Manager and its sessions.
type Config struct {
	ReadBufferSize  int  // Bytes per socket read
	MaxMessageBytes int  // Largest accepted frame; <= 0 disables the cap
	NoDelay         bool // Set TCP_NODELAY on accepted connections
	OutboxCapacity  int  // Initial outbox capacity per session
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		MaxMessageBytes: 1 << 20,
		NoDelay:         true,
		OutboxCapacity:  16,
	}
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ClientGUID   string    `json:"client_guid,omitempty"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	BytesRead    int64     `json:"bytes_read"`
	BytesWritten int64     `json:"bytes_written"`
	Queued       int       `json:"queued"`
	OutboxCap    int       `json:"outbox_capacity"`
	OutboxGrows  int       `json:"outbox_grows"`
}

// ManagerStats provides statistics about the manager.
type ManagerStats struct {
	Listening      bool
	ActiveSessions int
	TotalAccepted  int64
	TotalClosed    int64
	Broadcasts     int64
	RegistryLen    int
}

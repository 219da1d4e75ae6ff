package connection

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/srsync/internal/protocol"
)

// writeBatch caps how many queued frames one socket write carries.
const writeBatch = 64

// Session owns one accepted connection.
type Session struct {
	id          string
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time
	owner       *Manager

	state atomic.Int32

	mu         sync.Mutex
	clientGUID string
	logger     *slog.Logger

	out     *outbox
	decoder *protocol.Decoder

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64

	done chan struct{}
}

func newSession(owner *Manager, conn net.Conn) *Session {
	id := uuid.NewString()
	addr := conn.RemoteAddr().String()

	return &Session{
		id:          id,
		conn:        conn,
		remoteAddr:  addr,
		connectedAt: time.Now(),
		owner:       owner,
		logger:      owner.logger.With("session_id", id, "remote_addr", addr),
		out:         newOutbox(owner.cfg.OutboxCapacity),
		decoder:     protocol.NewDecoder(owner.cfg.MaxMessageBytes),
		done:        make(chan struct{}),
	}
}

// ID returns the server-assigned session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// ClientGUID returns the identifier this session claimed, or "".
func (s *Session) ClientGUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientGUID
}

// Claim binds guid to the session on its first successful SYNC. Later
// calls never change the binding; the result reports whether the session
// is bound to guid. A session that has begun closing cannot claim, so its
// teardown never misses an identifier bound after it looked.
func (s *Session) Claim(guid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return false
	}
	if s.clientGUID == "" && guid != "" {
		s.clientGUID = guid
		s.logger = s.logger.With("client_guid", guid)
	}
	return s.clientGUID == guid
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session's goroutines have exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns a point-in-time description of the session.
func (s *Session) Info() SessionInfo {
	out := s.out.Stats()
	return SessionInfo{
		ID:           s.id,
		RemoteAddr:   s.remoteAddr,
		ClientGUID:   s.ClientGUID(),
		State:        s.State().String(),
		ConnectedAt:  s.connectedAt,
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
		Queued:       out.Queued,
		OutboxCap:    out.Capacity,
		OutboxGrows:  out.Grows,
	}
}

// Send queues an encoded frame for the writer.
func (s *Session) Send(frame []byte) error {
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if !s.out.Push(frame) {
		return ErrSessionClosed
	}
	return nil
}

// Close tears the session down. Only the first call from Connecting or
// Active does any work; it reports whether this call performed teardown.
func (s *Session) Close(reason string) bool {
	for {
		cur := s.State()
		if cur == StateClosing || cur == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateClosing)) {
			break
		}
	}

	// Taken under mu after the state change: a concurrent Claim either
	// bound before this read or saw Closing and failed.
	guid := s.ClientGUID()
	if guid != "" {
		s.owner.registry.Remove(guid)
	}

	s.out.Close()
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log().Debug("close connection", "error", err)
	}

	s.state.Store(int32(StateClosed))
	s.owner.sessionClosed(s, reason)

	s.log().Info("session closed",
		"reason", reason,
		"bytes_read", s.bytesRead.Load(),
		"bytes_written", s.bytesWritten.Load(),
	)
	return true
}

// run drives the session until teardown. It returns after both the reader
// and the writer have exited.
func (s *Session) run() {
	defer close(s.done)

	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		// Closed by Stop before it started.
		return
	}
	s.log().Debug("session active")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	reason := s.readLoop()
	s.Close(reason)
	wg.Wait()
}

// readLoop reads until the connection fails and returns the close reason.
func (s *Session) readLoop() string {
	buf := make([]byte, s.owner.cfg.ReadBufferSize)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.bytesRead.Add(int64(n))
			s.decoder.Feed(buf[:n])
			if reason := s.drain(); reason != "" {
				return reason
			}
		}
		if err != nil {
			if s.State() != StateActive {
				return ReasonShutdown
			}
			if errors.Is(err, io.EOF) {
				return ReasonEOF
			}
			s.log().Debug("read failed", "error", err)
			return ReasonReadError
		}
	}
}

// drain dispatches every complete frame in the decoder, in order.
// A non-empty result ends the session.
func (s *Session) drain() string {
	for s.State() == StateActive {
		msg, err := s.decoder.Next()
		if err == nil {
			s.owner.dispatch(s, msg)
			continue
		}

		var decodeErr *protocol.DecodeError
		switch {
		case errors.Is(err, protocol.ErrIncomplete):
			return ""
		case errors.As(err, &decodeErr):
			s.owner.metrics.DecodeError()
			s.log().Warn("discarding malformed frame",
				"error", decodeErr.Err,
				"frame_bytes", len(decodeErr.Frame),
			)
		case errors.Is(err, protocol.ErrFrameTooLarge):
			s.log().Warn("frame exceeds limit",
				"limit", s.owner.cfg.MaxMessageBytes,
				"buffered", s.decoder.Buffered(),
			)
			return ReasonTooLarge
		default:
			s.log().Error("unexpected decode error", "error", err)
			return ReasonReadError
		}
	}
	return ""
}

// writeLoop drains the outbox to the socket until it is closed.
func (s *Session) writeLoop() {
	for {
		frames := s.out.Pop(writeBatch)
		if frames == nil {
			return
		}

		bufs := net.Buffers(frames)
		n, err := bufs.WriteTo(s.conn)
		s.bytesWritten.Add(n)
		if err != nil {
			if s.State() == StateActive {
				s.owner.metrics.WriteError()
				s.log().Warn("write failed", "error", err)
			}
			s.Close(ReasonWriteError)
			return
		}
	}
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

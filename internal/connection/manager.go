package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/srsync/internal/metrics"
	"github.com/rickgao/srsync/internal/protocol"
	"github.com/rickgao/srsync/internal/router"
)

// acceptPause is how long the accept loop waits after a failed Accept
// before trying again, so a persistent error cannot spin the CPU.
const acceptPause = 50 * time.Millisecond

// Manager is the listener and supervisor for client sessions.
type Manager struct {
	cfg        Config
	registry   Registry
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	listener net.Listener
	sessions map[string]*Session
	started  bool
	stopped  bool
	stopDone chan struct{}

	// Stats
	accepted   atomic.Int64
	closed     atomic.Int64
	broadcasts atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records session and delivery metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a Manager. Sessions remove their claimed identifier
// from registry on teardown, and Stop clears it.
func NewManager(cfg Config, registry Registry, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadBufferSize < 1 {
		cfg.ReadBufferSize = DefaultConfig().ReadBufferSize
	}

	m := &Manager{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		sessions:   make(map[string]*Session),
		stopDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start binds addr and begins accepting connections in the background.
// Cancelling ctx has the same effect as Stop.
func (m *Manager) Start(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrServerClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.listener = ln
	m.started = true

	m.wg.Add(1)
	go m.acceptLoop(ln)

	go func() {
		<-m.ctx.Done()
		m.Stop(context.Background())
	}()

	m.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes every session, closes the listener, and clears the registry.
// It waits for session goroutines until ctx is done. Stop is idempotent;
// later calls wait for the first to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		select {
		case <-m.stopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.stopped = true
	ln := m.listener
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("stopping listener", "sessions", len(sessions))

	if m.cancel != nil {
		m.cancel()
	}

	for _, s := range sessions {
		s.Close(ReasonShutdown)
	}

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			m.logger.Warn("close listener", "error", err)
		}
	}

	// Session teardowns remove their own entries; clear anything left over.
	if n := m.registry.Clear(); n > 0 {
		m.logger.Info("cleared registry", "clients", n)
	}
	m.metrics.SetRegistryClients(0)
	defer close(m.stopDone)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, sessions still draining")
		return ctx.Err()
	}

	m.logger.Info("listener stopped")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (m *Manager) Addr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Sessions lists live sessions, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return infos
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	active := len(m.sessions)
	listening := m.started && !m.stopped
	m.mu.RUnlock()

	return ManagerStats{
		Listening:      listening,
		ActiveSessions: active,
		TotalAccepted:  m.accepted.Load(),
		TotalClosed:    m.closed.Load(),
		Broadcasts:     m.broadcasts.Load(),
		RegistryLen:    m.registry.Len(),
	}
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Warn("accept failed", "error", err)
			select {
			case <-time.After(acceptPause):
			case <-m.ctx.Done():
				return
			}
			continue
		}
		m.handle(conn)
	}
}

// handle starts a session for conn without waiting on it.
func (m *Manager) handle(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(m.cfg.NoDelay); err != nil {
			m.logger.Debug("set no delay", "error", err)
		}
	}

	s := newSession(m, conn)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.accepted.Add(1)
	m.metrics.SessionOpened()
	s.log().Info("session accepted")

	go func() {
		defer m.wg.Done()
		s.run()
	}()
}

// dispatch routes one message from s and queues the replies.
func (m *Manager) dispatch(s *Session, msg protocol.Message) {
	for _, reply := range m.dispatcher.Route(s, msg) {
		frame, err := protocol.Encode(reply.Message)
		if err != nil {
			s.log().Error("encode reply", "type", reply.Message.MsgType, "error", err)
			continue
		}

		switch reply.Target {
		case router.ToSender:
			if err := s.Send(frame); err != nil {
				s.log().Debug("reply not queued", "error", err)
				continue
			}
			m.metrics.ReplyQueued(reply.Target.String(), 1)

		case router.ToAll:
			n := m.broadcast(frame)
			m.broadcasts.Add(1)
			m.metrics.ObserveBroadcast(n)
			m.metrics.ReplyQueued(reply.Target.String(), n)
		}
	}
}

// broadcast queues frame on every active session and returns how many
// accepted it.
func (m *Manager) broadcast(frame []byte) int {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if s.Send(frame) == nil {
			sent++
		}
	}
	return sent
}

// sessionClosed is called exactly once per session from its teardown.
func (m *Manager) sessionClosed(s *Session, reason string) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	m.closed.Add(1)
	m.metrics.SessionClosed(reason)
	m.metrics.SetRegistryClients(m.registry.Len())
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/srsync/internal/connection"
	"github.com/rickgao/srsync/internal/model"
	"github.com/rickgao/srsync/internal/version"
)

const (
	checkTimeout      = 5 * time.Second
	wsWriteTimeout    = 5 * time.Second
	wsChangeBuffer    = 64
	readHeaderTimeout = 10 * time.Second
)

// Roster is the registry view the status surface reads.
type Roster interface {
	Snapshot() []model.ClientRecord
	Subscribe(buffer int) (<-chan model.Change, func())
	DroppedChanges() int64
}

// Listener is the connection manager view the status surface reads.
type Listener interface {
	Stats() connection.ManagerStats
	Sessions() []connection.SessionInfo
}

// CheckFunc reports the health of an optional component.
type CheckFunc func(ctx context.Context) error

// Config configures the status server.
type Config struct {
	Port        int    // 0 disables the server
	MetricsPath string // Prometheus exposition path
}

// Server is the status HTTP server.
type Server struct {
	cfg      Config
	roster   Roster
	listener Listener
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	checkNames []string
	checks     map[string]CheckFunc

	upgrader websocket.Upgrader

	mu     sync.Mutex
	srv    *http.Server
	addr   net.Addr
	closed chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets the metrics source. The default is the Prometheus
// default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithCheck adds a named component to /health. A failing check marks the
// service degraded.
func WithCheck(name string, fn CheckFunc) Option {
	return func(s *Server) {
		if _, ok := s.checks[name]; !ok {
			s.checkNames = append(s.checkNames, name)
		}
		s.checks[name] = fn
	}
}

// New creates a status Server.
func New(cfg Config, roster Roster, listener Listener, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:      cfg,
		roster:   roster,
		listener: listener,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		checks:   make(map[string]CheckFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for all status endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /clients", s.handleClients)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /ws/roster", s.handleRosterFeed)
	mux.Handle("GET "+s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start binds the configured port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		s.logger.Info("starting status server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down and ends every roster feed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// health is the /health response body.
type health struct {
	Status     string         `json:"status"`
	Build      version.Build  `json:"build"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h := health{
		Status:     "healthy",
		Build:      version.Current(),
		Components: make(map[string]any),
	}

	stats := s.listener.Stats()
	h.Components["listener"] = map[string]any{
		"listening":       stats.Listening,
		"active_sessions": stats.ActiveSessions,
		"total_accepted":  stats.TotalAccepted,
		"clients":         stats.RegistryLen,
	}
	if !stats.Listening {
		h.Status = "unhealthy"
	}
	h.Components["registry"] = map[string]any{
		"dropped_changes": s.roster.DroppedChanges(),
	}

	for _, name := range s.checkNames {
		if err := s.checks[name](ctx); err != nil {
			if h.Status == "healthy" {
				h.Status = "degraded"
			}
			h.Components[name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
			continue
		}
		h.Components[name] = "connected"
	}

	w.Header().Set("Content-Type", "application/json")
	if h.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := clientViews(s.roster.Snapshot())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(clients),
		"clients": clients,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.listener.Sessions()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

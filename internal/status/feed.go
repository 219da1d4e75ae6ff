package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/srsync/internal/model"
)

// ClientView is the JSON form of a registry record.
type ClientView struct {
	ClientGUID    string                     `json:"client_guid"`
	SessionID     string                     `json:"session_id"`
	RemoteAddr    string                     `json:"remote_addr"`
	ConnectedAt   time.Time                  `json:"connected_at"`
	LastHeartbeat time.Time                  `json:"last_heartbeat"`
	State         map[string]json.RawMessage `json:"state,omitempty"`
}

// ChangeView is the JSON form of a registry change.
type ChangeView struct {
	Type       model.ChangeType `json:"type"`
	ClientGUID string           `json:"client_guid"`
	SessionID  string           `json:"session_id,omitempty"`
	At         time.Time        `json:"at"`
}

// RosterUpdate is one frame of the /ws/roster feed. The first frame after
// connecting has no Change.
type RosterUpdate struct {
	Change  *ChangeView  `json:"change,omitempty"`
	Clients []ClientView `json:"clients"`
}

func clientViews(records []model.ClientRecord) []ClientView {
	views := make([]ClientView, 0, len(records))
	for _, rec := range records {
		views = append(views, ClientView{
			ClientGUID:    rec.ClientGUID,
			SessionID:     rec.SessionID,
			RemoteAddr:    rec.RemoteAddr,
			ConnectedAt:   rec.ConnectedAt,
			LastHeartbeat: rec.LastHeartbeat,
			State:         rec.State,
		})
	}
	return views
}

// handleRosterFeed streams the roster: once on connect, then after every
// registry change, until the peer goes away or the server stops.
func (s *Server) handleRosterFeed(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so no change between the first snapshot
	// and the subscription is missed.
	changes, cancel := s.roster.Subscribe(wsChangeBuffer)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("roster feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return
	default:
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	logger := s.logger.With("remote_addr", r.RemoteAddr)
	logger.Debug("roster feed opened")

	// The feed is one-way; reading only detects the peer closing.
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.writeUpdate(conn, nil); err != nil {
		logger.Debug("roster feed write failed", "error", err)
		return
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := s.writeUpdate(conn, &change); err != nil {
				logger.Debug("roster feed write failed", "error", err)
				return
			}

		case <-peerGone:
			logger.Debug("roster feed closed by peer")
			return

		case <-s.closed:
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (s *Server) writeUpdate(conn *websocket.Conn, change *model.Change) error {
	update := RosterUpdate{Clients: clientViews(s.roster.Snapshot())}
	if change != nil {
		update.Change = &ChangeView{
			Type:       change.Type,
			ClientGUID: change.ClientGUID,
			SessionID:  change.SessionID,
			At:         change.At,
		}
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(update)
}

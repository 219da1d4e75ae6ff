// synctest is a manual test client for syncd.
//
// Usage:
//
//	go run ./cmd/synctest -addr localhost:5002 -guid A -state Callsign=Viper
//	go run ./cmd/synctest -watch ws://localhost:8080/ws/roster
//
// In protocol mode it sends one SYNC, then a PING every -ping interval, and
// prints every message the server sends back. In watch mode it prints the
// live roster feed from the status server instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/srsync/internal/protocol"
	"github.com/rickgao/srsync/internal/status"
)

// maxFrame matches the server's default per-frame cap.
const maxFrame = 1 << 20

// stateFlags collects repeated -state key=value pairs.
type stateFlags map[string]json.RawMessage

func (s stateFlags) String() string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+string(v))
	}
	return strings.Join(pairs, ",")
}

func (s stateFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("want key=value, got %q", v)
	}
	// Values that are valid JSON are sent as-is, anything else as a string.
	if json.Valid([]byte(value)) {
		s[key] = json.RawMessage(value)
		return nil
	}
	quoted, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s[key] = quoted
	return nil
}

func main() {
	addr := flag.String("addr", "localhost:5002", "syncd address")
	guid := flag.String("guid", "", "client guid (default: random)")
	pingEvery := flag.Duration("ping", 5*time.Second, "heartbeat interval (0 disables)")
	watch := flag.String("watch", "", "status websocket URL to follow instead of speaking the protocol")
	state := stateFlags{}
	flag.Var(state, "state", "extra SYNC field as key=value (repeatable)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *watch != "" {
		err = watchRoster(ctx, *watch, logger)
	} else {
		if *guid == "" {
			*guid = uuid.NewString()
		}
		err = speak(ctx, *addr, *guid, state, *pingEvery, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("synctest failed", "error", err)
		os.Exit(1)
	}
}

// speak runs the protocol client until ctx is done or the server hangs up.
func speak(ctx context.Context, addr, guid string, state stateFlags, pingEvery time.Duration, logger *slog.Logger) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("connected", "addr", addr, "client_guid", guid)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	send := func(m protocol.Message) error {
		frame, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		_, err = conn.Write(frame)
		return err
	}

	sync := protocol.Message{MsgType: protocol.MsgSync, ClientGUID: guid}
	if len(state) > 0 {
		sync.State = state
	}
	if err := send(sync); err != nil {
		return fmt.Errorf("send sync: %w", err)
	}

	if pingEvery > 0 {
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := send(protocol.Message{MsgType: protocol.MsgPing, ClientGUID: guid}); err != nil {
						logger.Warn("send ping failed", "error", err)
						return
					}
				}
			}
		}()
	}

	dec := protocol.NewDecoder(maxFrame)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, derr := dec.Next()
				if errors.Is(derr, protocol.ErrIncomplete) {
					break
				}
				if derr != nil {
					var decodeErr *protocol.DecodeError
					if errors.As(derr, &decodeErr) {
						logger.Warn("undecodable message", "error", decodeErr.Err, "raw", string(decodeErr.Frame))
						continue
					}
					return derr
				}
				printMessage(msg)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				logger.Info("server closed the connection")
				return nil
			}
			return err
		}
	}
}

func printMessage(msg protocol.Message) {
	switch msg.MsgType {
	case protocol.MsgSync:
		fmt.Printf("[SYNC] roster of %d\n", len(msg.Clients))
		for _, c := range msg.Clients {
			state, _ := json.Marshal(c.State)
			fmt.Printf("  %-36s %s\n", c.ClientGUID, state)
		}
	case protocol.MsgPing:
		fmt.Printf("[PING] %s\n", msg.ClientGUID)
	default:
		fmt.Printf("[%s] %+v\n", msg.MsgType, msg)
	}
}

// watchRoster prints the status server's roster feed.
func watchRoster(ctx context.Context, url string, logger *slog.Logger) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("watching roster", "url", url)

	go func() {
		<-ctx.Done()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}()

	for {
		var update status.RosterUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("roster feed closed by server")
				return nil
			}
			return err
		}

		if update.Change != nil {
			fmt.Printf("[%s] %s (session %s)\n", strings.ToUpper(string(update.Change.Type)),
				update.Change.ClientGUID, update.Change.SessionID)
		}
		fmt.Printf("  roster: %d client(s)\n", len(update.Clients))
		for _, c := range update.Clients {
			fmt.Printf("    %-36s %-21s last heartbeat %s\n", c.ClientGUID, c.RemoteAddr,
				c.LastHeartbeat.Format(time.TimeOnly))
		}
	}
}

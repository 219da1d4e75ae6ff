package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/srsync/internal/model"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload of a roster change.
type Event struct {
	Instance   string           `json:"instance"`
	Type       model.ChangeType `json:"type"`
	ClientGUID string           `json:"client_guid"`
	SessionID  string           `json:"session_id,omitempty"`
	RemoteAddr string           `json:"remote_addr,omitempty"`
	At         time.Time        `json:"at"`
}

// Stats contains publisher statistics.
type Stats struct {
	Published int64
	Errors    int64
}

// Publisher forwards registry changes to NATS.
type Publisher struct {
	conn     Conn
	prefix   string
	instance string
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

// NewPublisher creates a Publisher on conn.
func NewPublisher(conn Conn, subjectPrefix, instance string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		prefix:   subjectPrefix,
		instance: instance,
		logger:   logger,
		stopping: make(chan struct{}),
	}
}

// Subject returns the subject for a change type.
func (p *Publisher) Subject(t model.ChangeType) string {
	return p.prefix + "." + string(t)
}

// Start publishes changes until Stop or until the channel closes.
func (p *Publisher) Start(ctx context.Context, changes <-chan model.Change) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.consume(changes)

	p.logger.Info("event publisher started", "subject_prefix", p.prefix)
	return nil
}

// Stop publishes whatever is already queued on the feed, then ends the loop.
func (p *Publisher) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopping) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("event publisher stopped")
	case <-ctx.Done():
		err = ctx.Err()
	}

	if p.cancel != nil {
		p.cancel()
	}
	return err
}

func (p *Publisher) handle(change model.Change) {
	if err := p.Publish(change); err != nil {
		p.logger.Warn("publish roster change failed",
			"change", change.Type,
			"client_guid", change.ClientGUID,
			"error", err,
		)
	}
}

// Publish sends one change.
func (p *Publisher) Publish(change model.Change) error {
	data, err := json.Marshal(Event{
		Instance:   p.instance,
		Type:       change.Type,
		ClientGUID: change.ClientGUID,
		SessionID:  change.SessionID,
		RemoteAddr: change.RemoteAddr,
		At:         change.At,
	})
	if err != nil {
		return err
	}

	err = p.conn.Publish(p.Subject(change.Type), data)

	p.mu.Lock()
	if err != nil {
		p.stats.Errors++
	} else {
		p.stats.Published++
	}
	p.mu.Unlock()
	return err
}

// Stats returns current statistics.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// consume handles changes until the feed closes or the context ends. After
// Stop it handles only what is already queued.
func (p *Publisher) consume(changes <-chan model.Change) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.stopping:
			for {
				select {
				case change, ok := <-changes:
					if !ok {
						return
					}
					p.handle(change)
				default:
					return
				}
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			p.handle(change)
		}
	}
}

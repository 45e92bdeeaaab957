package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"dental-counseling/internal/logger"
)

// Hub fans session ids out to in-process subscribers.  It backs the SSE
// endpoint directly when no postgres listener is available.
type Hub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan string]struct{})}
}

// Notify delivers sessionID to every subscriber.  Slow subscribers drop the
// update rather than block the publisher.
func (h *Hub) Notify(_ context.Context, sessionID string) error {
	h.publish(sessionID)
	return nil
}

func (h *Hub) publish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- sessionID:
		default:
		}
	}
}

// Listen subscribes until ctx is cancelled, after which the channel closes.
func (h *Hub) Listen(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  It sends a
// notification whenever a SOAP note is stored or reviewed, and relays
// notifications from every server instance to local subscribers.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Log     *logger.Logger
	hub     *Hub
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, dsn, channel string, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Log: log, hub: NewHub()}
}

// Notify sends a notification to the configured channel with the session ID.
// NOTIFY takes no bind parameters, so both parts are quoted.
func (n *Notifier) Notify(ctx context.Context, sessionID string) error {
	stmt := fmt.Sprintf("NOTIFY %s, %s", pq.QuoteIdentifier(n.Channel), pq.QuoteLiteral(sessionID))
	_, err := n.DB.ExecContext(ctx, stmt)
	return err
}

// Run holds a dedicated LISTEN connection and forwards payloads to local
// subscribers until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	l := pq.NewListener(n.DSN, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Log.Warn("notify listener event", "event", int(ev), "error", err)
		}
	})
	defer l.Close()
	if err := l.Listen(n.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", n.Channel, err)
	}
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-l.Notify:
			// nil after a reconnect
			if note == nil {
				continue
			}
			n.hub.publish(note.Extra)
		case <-ping.C:
			if err := l.Ping(); err != nil {
				n.Log.Warn("notify listener ping failed", "error", err)
			}
		}
	}
}

// Listen yields session IDs received on the channel until ctx is cancelled.
// Run must be running for anything to arrive.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	return n.hub.Listen(ctx)
}

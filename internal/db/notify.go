package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

const subscriberBuffer = 16

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  The chat
// pipeline notifies after each committed transcript.  A single LISTEN
// connection, opened on first subscription, fans notifications out to every
// subscriber.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Logger  *slog.Logger

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
	hub      *hub
}

// NewNotifier constructs a new Notifier.  The LISTEN session needs its own
// connection, so dsn is dialled separately from db.
func NewNotifier(db *sql.DB, dsn, channel string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Logger: logger, hub: newHub()}
}

// Notify sends a notification carrying the conversation ID.  Its signature
// matches core.CommitHook.
func (n *Notifier) Notify(ctx context.Context, conversationID string) error {
	_, err := n.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, conversationID)
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", n.Channel, err)
	}
	return nil
}

// Listen yields conversation IDs as they are received on the channel.  The
// returned channel is closed when ctx is cancelled or the notifier is closed.
// A subscriber that falls behind misses notifications rather than stalling
// the others.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	if err := n.start(); err != nil {
		return nil, err
	}
	return n.hub.subscribe(ctx), nil
}

// Close stops the shared listener and closes every subscription.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	close(n.done)
	err := n.listener.Close()
	n.listener = nil
	n.hub.closeAll()
	return err
}

func (n *Notifier) start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return nil
	}
	listener := pq.NewListener(n.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Logger.Warn("notification listener event", slog.Int("event", int(ev)), slog.String("error", err.Error()))
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", pq.QuoteIdentifier(n.Channel), err)
	}
	n.listener = listener
	n.done = make(chan struct{})
	go n.run(listener, n.done)
	return nil
}

func (n *Notifier) run(listener *pq.Listener, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case note, ok := <-listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect
			if note == nil {
				continue
			}
			n.hub.publish(note.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					n.Logger.Warn("notification listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// hub fans one stream of conversation IDs out to many subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan string]struct{})}
}

func (h *hub) subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(ch)
	}()
	return ch
}

func (h *hub) remove(ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

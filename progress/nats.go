package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSBroadcaster distributes events over NATS core pub/sub, one
// subject per task. Multiple docdelta processes sharing a NATS server
// see each other's events.
type NATSBroadcaster struct {
	nc      *nats.Conn
	checker TaskChecker
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription // taskID/subscriberID -> subscription
}

// NewNATSBroadcaster creates a NATS-backed broadcaster. checker may be
// nil to skip task existence checks on Bind.
func NewNATSBroadcaster(nc *nats.Conn, checker TaskChecker, logger *slog.Logger) (*NATSBroadcaster, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBroadcaster{
		nc:      nc,
		checker: checker,
		logger:  logger.With("component", "progress"),
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

// Emit publishes the event to the task's progress subject. Core NATS
// delivery: subscribers bound after this call never see it.
func (b *NATSBroadcaster) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := b.nc.Publish(Subject(event.TaskID), data); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Bind subscribes a handler to a task's progress subject.
func (b *NATSBroadcaster) Bind(ctx context.Context, taskID, subscriberID string, fn Handler) error {
	if err := checkTask(ctx, b.checker, taskID); err != nil {
		return err
	}

	key := taskID + "/" + subscriberID

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, bound := b.subs[key]; bound {
		return nil
	}

	sub, err := b.nc.Subscribe(Subject(taskID), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("bad progress event", "subject", msg.Subject, "error", err)
			return
		}
		fn(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", Subject(taskID), err)
	}

	b.subs[key] = sub
	return nil
}

// Unbind drops a subscription.
func (b *NATSBroadcaster) Unbind(taskID, subscriberID string) {
	key := taskID + "/" + subscriberID

	b.mu.Lock()
	sub, ok := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()

	if ok {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "task", taskID, "error", err)
		}
	}
}

// Close drops all subscriptions. The NATS connection itself belongs to
// the caller.
func (b *NATSBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "binding", key, "error", err)
		}
		delete(b.subs, key)
	}
}

package progress

import (
	"context"
	"sync"
)

// LocalBroadcaster dispatches events in-process. Used by the one-shot
// analyze command and as the default when no NATS connection is
// configured.
type LocalBroadcaster struct {
	checker TaskChecker

	mu   sync.RWMutex
	subs map[string]map[string]Handler // taskID -> subscriberID -> handler
}

// NewLocalBroadcaster creates an in-process broadcaster. checker may be
// nil, in which case Bind accepts any task ID.
func NewLocalBroadcaster(checker TaskChecker) *LocalBroadcaster {
	return &LocalBroadcaster{
		checker: checker,
		subs:    make(map[string]map[string]Handler),
	}
}

// Emit delivers the event to every handler bound to its task. Delivery
// is synchronous and best-effort; there is no buffering.
func (b *LocalBroadcaster) Emit(_ context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.TaskID]))
	for _, fn := range b.subs[event.TaskID] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
	return nil
}

// Bind subscribes a handler to a task's events.
func (b *LocalBroadcaster) Bind(ctx context.Context, taskID, subscriberID string, fn Handler) error {
	if err := checkTask(ctx, b.checker, taskID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[string]Handler)
	}
	if _, bound := b.subs[taskID][subscriberID]; bound {
		return nil
	}
	b.subs[taskID][subscriberID] = fn
	return nil
}

// Unbind removes a subscription.
func (b *LocalBroadcaster) Unbind(taskID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subs[taskID]; ok {
		delete(handlers, subscriberID)
		if len(handlers) == 0 {
			delete(b.subs, taskID)
		}
	}
}

// Package progress broadcasts task stage transitions to interested
// subscribers. Events are fire-and-forget: late subscribers poll the
// task store instead of replaying history.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/docdelta/task"
)

// ErrUnknownTask is returned when binding to a task that does not
// exist.
var ErrUnknownTask = errors.New("unknown task")

// Event is one task transition notification. Stage and State are set
// for stage transitions; Status carries the overall task status and is
// the only populated field for task-level transitions like
// cancellation.
type Event struct {
	TaskID string          `json:"task_id"`
	Stage  task.Stage      `json:"stage,omitempty"`
	State  task.StageState `json:"state,omitempty"`
	Status task.Status     `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`
}

// Handler receives events for a bound task. Handlers must not block;
// slow consumers drop events rather than stall the pipeline.
type Handler func(Event)

// Broadcaster distributes task progress events.
type Broadcaster interface {
	// Emit publishes an event to all subscribers of its task.
	Emit(ctx context.Context, event Event) error

	// Bind subscribes a handler to a task's events. Binding the same
	// (taskID, subscriberID) twice is a no-op. Returns ErrUnknownTask
	// when the task does not exist.
	Bind(ctx context.Context, taskID, subscriberID string, fn Handler) error

	// Unbind removes a subscription. Unknown bindings are ignored.
	Unbind(taskID, subscriberID string)
}

// TaskChecker verifies task existence for Bind.
type TaskChecker interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
}

// Subject returns the NATS subject carrying a task's progress events.
func Subject(taskID string) string {
	return fmt.Sprintf("docdelta.task.%s.progress", taskID)
}

// checkTask resolves Bind's unknown-task contract against the store.
func checkTask(ctx context.Context, checker TaskChecker, taskID string) error {
	if checker == nil {
		return nil
	}
	if _, err := checker.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
		}
		return fmt.Errorf("check task %s: %w", taskID, err)
	}
	return nil
}

// Package task holds the durable analysis task state: one task per
// submitted document, with per-stage status and stored stage results.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/docdelta/source"
)

// ErrNotFound is returned when a task or stage result does not exist.
var ErrNotFound = errors.New("not found")

// Stage identifies one pipeline stage.
type Stage string

// Pipeline stages, in execution order.
const (
	StageParsing     Stage = "parsing"
	StageAnalysis    Stage = "analysis"
	StageElaboration Stage = "elaboration"
)

// stageOrder defines the required execution sequence.
var stageOrder = []Stage{StageParsing, StageAnalysis, StageElaboration}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, stage := range stageOrder {
		if s == stage {
			return true
		}
	}
	return false
}

// Predecessor returns the stage that must complete before s, and false
// for the first stage.
func (s Stage) Predecessor() (Stage, bool) {
	for i, stage := range stageOrder {
		if s == stage && i > 0 {
			return stageOrder[i-1], true
		}
	}
	return "", false
}

// Status is the overall task status.
type Status string

// Task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StageState is the status of a single stage within a task.
type StageState string

// Stage state values.
const (
	StagePending   StageState = "pending"
	StageRunning   StageState = "running"
	StageCompleted StageState = "completed"
	StageFailed    StageState = "failed"
)

// StageStatus records one stage's progress on a task.
type StageStatus struct {
	State       StageState `json:"state"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task is the durable record for one document analysis run. All
// correctness state lives here and in stage results, never only in
// process memory.
type Task struct {
	ID        string                 `json:"id"`
	Document  source.Document        `json:"document"`
	Status    Status                 `json:"status"`
	Stages    map[Stage]*StageStatus `json:"stages"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// New creates a pending task for the given document.
func New(doc source.Document) *Task {
	now := time.Now().UTC()
	stages := make(map[Stage]*StageStatus, len(stageOrder))
	for _, stage := range stageOrder {
		stages[stage] = &StageStatus{State: StagePending}
	}
	return &Task{
		ID:        uuid.New().String(),
		Document:  doc,
		Status:    StatusPending,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StageStatus returns the status entry for a stage, creating a pending
// one for tasks stored before the stage existed.
func (t *Task) StageStatus(stage Stage) *StageStatus {
	if t.Stages == nil {
		t.Stages = make(map[Stage]*StageStatus)
	}
	if _, ok := t.Stages[stage]; !ok {
		t.Stages[stage] = &StageStatus{State: StagePending}
	}
	return t.Stages[stage]
}

// BeginStage marks a stage running. A re-run clears the previous
// outcome for that stage only.
func (t *Task) BeginStage(stage Stage) {
	now := time.Now().UTC()
	status := t.StageStatus(stage)
	status.State = StageRunning
	status.Error = ""
	status.StartedAt = &now
	status.CompletedAt = nil
	t.Status = StatusRunning
	t.UpdatedAt = now
}

// CompleteStage marks a stage completed and recomputes the task status.
func (t *Task) CompleteStage(stage Stage) {
	now := time.Now().UTC()
	status := t.StageStatus(stage)
	status.State = StageCompleted
	status.Error = ""
	status.CompletedAt = &now
	t.Status = t.deriveStatus()
	t.UpdatedAt = now
}

// FailStage records a stage failure. Other stages' statuses are left
// untouched.
func (t *Task) FailStage(stage Stage, reason string) {
	now := time.Now().UTC()
	status := t.StageStatus(stage)
	status.State = StageFailed
	status.Error = reason
	status.CompletedAt = &now
	t.Status = StatusFailed
	t.UpdatedAt = now
}

// Cancel marks the task cancelled. Cancellation is advisory: it blocks
// future stage starts but does not preempt in-flight work.
func (t *Task) Cancel() {
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now().UTC()
}

// Cancelled reports whether the task has been cancelled.
func (t *Task) Cancelled() bool {
	return t.Status == StatusCancelled
}

// deriveStatus computes the overall status from stage states.
func (t *Task) deriveStatus() Status {
	completed := 0
	for _, stage := range stageOrder {
		switch t.StageStatus(stage).State {
		case StageFailed:
			return StatusFailed
		case StageRunning:
			return StatusRunning
		case StageCompleted:
			completed++
		}
	}
	if completed == len(stageOrder) {
		return StatusCompleted
	}
	if completed > 0 {
		return StatusRunning
	}
	return StatusPending
}

// Store persists tasks and stage results. Writes are last-writer-wins,
// atomic at (task, stage) granularity.
type Store interface {
	// CreateTask stores a new task.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID. Returns ErrNotFound when absent.
	GetTask(ctx context.Context, id string) (*Task, error)

	// UpdateTask replaces the stored task.
	UpdateTask(ctx context.Context, t *Task) error

	// ListTasks returns all stored tasks.
	ListTasks(ctx context.Context) ([]*Task, error)

	// PutStageResult stores a stage's result payload, replacing any
	// previous result for that (task, stage).
	PutStageResult(ctx context.Context, taskID string, stage Stage, payload []byte) error

	// GetStageResult retrieves a stage's result payload. Returns
	// ErrNotFound when the stage has no stored result.
	GetStageResult(ctx context.Context, taskID string, stage Stage) ([]byte, error)
}

// Package pipeline orchestrates the three-stage analysis pipeline:
// parsing, analysis, elaboration. Stage state is durable in the task
// store; the orchestrator itself keeps only the in-flight guard.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/docdelta/fault"
	"github.com/c360studio/docdelta/progress"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

// ErrCancelled is returned when a stage is requested on a cancelled
// task.
var ErrCancelled = errors.New("task is cancelled")

// Config holds orchestrator tuning.
type Config struct {
	// StageTimeout bounds a single stage execution.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{StageTimeout: 300 * time.Second}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive, got %v", c.StageTimeout)
	}
	return nil
}

// Orchestrator runs pipeline stages against tasks. Safe for concurrent
// use.
type Orchestrator struct {
	cfg         Config
	store       task.Store
	broadcaster progress.Broadcaster
	runners     map[task.Stage]StageRunner
	metrics     *Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // "<taskID>.<stage>"
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "pipeline")
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an orchestrator over the given store and broadcaster.
func New(cfg Config, store task.Store, broadcaster progress.Broadcaster, runners []StageRunner, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if broadcaster == nil {
		return nil, errors.New("progress broadcaster is required")
	}

	byStage := make(map[task.Stage]StageRunner, len(runners))
	for _, runner := range runners {
		byStage[runner.Stage()] = runner
	}
	for _, stage := range task.Stages() {
		if _, ok := byStage[stage]; !ok {
			return nil, fmt.Errorf("no runner for stage %q", stage)
		}
	}

	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		runners:     byStage,
		logger:      slog.Default().With("component", "pipeline"),
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit creates a pending task for the document.
func (o *Orchestrator) Submit(ctx context.Context, doc source.Document) (*task.Task, error) {
	if doc.SubmittedAt.IsZero() {
		doc.SubmittedAt = time.Now().UTC()
	}
	t := task.New(doc)
	if err := o.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	o.logger.Info("task submitted", "task", t.ID, "document", doc.ID, "version", doc.Version)
	return t, nil
}

// RunStage executes one stage for the task. The predecessor stage must
// have a stored result; a stage already in flight for the task is
// rejected; a cancelled task accepts no new stages. Re-running a
// completed stage overwrites its result without touching other stages.
func (o *Orchestrator) RunStage(ctx context.Context, taskID string, stage task.Stage) error {
	t, err := o.prepare(ctx, taskID, stage)
	if err != nil {
		return err
	}
	defer o.release(taskID, stage)

	return o.execute(ctx, t, stage)
}

// StartStage runs the same admission checks as RunStage, then executes
// the stage in the background. Ordering, concurrency, and cancellation
// violations are reported synchronously; the stage outcome lands in the
// task store.
func (o *Orchestrator) StartStage(ctx context.Context, taskID string, stage task.Stage) error {
	t, err := o.prepare(ctx, taskID, stage)
	if err != nil {
		return err
	}

	go func() {
		defer o.release(taskID, stage)
		// Detached from the request context: an HTTP disconnect must
		// not abort the stage.
		if err := o.execute(context.Background(), t, stage); err != nil {
			o.logger.Warn("background stage failed", "task", taskID, "stage", stage, "error", err)
		}
	}()
	return nil
}

// prepare validates the stage request and takes the in-flight slot. The
// caller owns the slot and must release it.
func (o *Orchestrator) prepare(ctx context.Context, taskID string, stage task.Stage) (*task.Task, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Cancelled() {
		return nil, fmt.Errorf("%w: %s", ErrCancelled, taskID)
	}

	if pred, ok := stage.Predecessor(); ok {
		if _, err := o.store.GetStageResult(ctx, taskID, pred); err != nil {
			if errors.Is(err, task.ErrNotFound) {
				return nil, &fault.OrderingError{Stage: string(stage), Predecessor: string(pred)}
			}
			return nil, fmt.Errorf("check predecessor result: %w", err)
		}
	}

	if err := o.acquire(t, stage); err != nil {
		return nil, err
	}
	return t, nil
}

// acquire takes the per-(task, stage) in-flight slot. The stored stage
// status is double-checked so two processes sharing the store do not
// run the same stage concurrently.
func (o *Orchestrator) acquire(t *task.Task, stage task.Stage) error {
	key := inflightKey(t.ID, stage)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.inflight[key]; running {
		return &fault.ConcurrencyError{TaskID: t.ID, Stage: string(stage)}
	}

	status := t.StageStatus(stage)
	if status.State == task.StageRunning && status.StartedAt != nil &&
		time.Since(*status.StartedAt) < o.cfg.StageTimeout {
		return &fault.ConcurrencyError{TaskID: t.ID, Stage: string(stage)}
	}

	o.inflight[key] = struct{}{}
	return nil
}

func (o *Orchestrator) release(taskID string, stage task.Stage) {
	o.mu.Lock()
	delete(o.inflight, inflightKey(taskID, stage))
	o.mu.Unlock()
}

// execute runs the stage body with the configured timeout and records
// the outcome. A failure stays on its stage; other stages' statuses are
// untouched and the stage may be retried.
func (o *Orchestrator) execute(ctx context.Context, t *task.Task, stage task.Stage) error {
	t.BeginStage(stage)
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("record stage start: %w", err)
	}
	o.emit(ctx, t, stage)
	if o.metrics != nil {
		o.metrics.stagesStarted.WithLabelValues(string(stage)).Inc()
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	started := time.Now()
	payload, err := o.runners[stage].Run(runCtx, t)
	elapsed := time.Since(started)
	if o.metrics != nil {
		o.metrics.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	}

	if err == nil {
		err = o.store.PutStageResult(ctx, t.ID, stage, payload)
	}
	if err != nil {
		t.FailStage(stage, err.Error())
		if storeErr := o.store.UpdateTask(ctx, t); storeErr != nil {
			o.logger.Error("record stage failure", "task", t.ID, "stage", stage, "error", storeErr)
		}
		o.emit(ctx, t, stage)
		if o.metrics != nil {
			o.metrics.stagesFailed.WithLabelValues(string(stage)).Inc()
		}
		o.logger.Warn("stage failed", "task", t.ID, "stage", stage, "duration", elapsed, "error", err)
		return err
	}

	t.CompleteStage(stage)
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("record stage completion: %w", err)
	}
	o.emit(ctx, t, stage)
	if o.metrics != nil {
		o.metrics.stagesCompleted.WithLabelValues(string(stage)).Inc()
	}
	o.logger.Info("stage completed", "task", t.ID, "stage", stage, "duration", elapsed)
	return nil
}

// RunAll executes every stage in order, stopping at the first failure.
func (o *Orchestrator) RunAll(ctx context.Context, taskID string) error {
	for _, stage := range task.Stages() {
		if err := o.RunStage(ctx, taskID, stage); err != nil {
			return err
		}
	}
	return nil
}

// Cancel marks the task cancelled. Advisory: in-flight stages finish
// and their results are still written; no new stage will start.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Cancelled() {
		return nil
	}

	t.Cancel()
	if err := o.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}

	event := progress.Event{
		TaskID: t.ID,
		Status: task.StatusCancelled,
		At:     time.Now().UTC(),
	}
	if err := o.broadcaster.Emit(ctx, event); err != nil {
		o.logger.Warn("emit cancellation event", "task", t.ID, "error", err)
	}
	o.logger.Info("task cancelled", "task", t.ID)
	return nil
}

// emit publishes a stage transition event. Event delivery is
// best-effort; a broadcast failure never fails the stage.
func (o *Orchestrator) emit(ctx context.Context, t *task.Task, stage task.Stage) {
	status := t.StageStatus(stage)
	event := progress.Event{
		TaskID: t.ID,
		Stage:  stage,
		State:  status.State,
		Status: t.Status,
		Error:  status.Error,
		At:     time.Now().UTC(),
	}
	if err := o.broadcaster.Emit(ctx, event); err != nil {
		o.logger.Warn("emit progress event", "task", t.ID, "stage", stage, "error", err)
	}
}

func inflightKey(taskID string, stage task.Stage) string {
	return taskID + "." + string(stage)
}

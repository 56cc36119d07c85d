package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/source"
)

func TestStagePredecessor(t *testing.T) {
	_, ok := StageParsing.Predecessor()
	assert.False(t, ok)

	pred, ok := StageAnalysis.Predecessor()
	require.True(t, ok)
	assert.Equal(t, StageParsing, pred)

	pred, ok = StageElaboration.Predecessor()
	require.True(t, ok)
	assert.Equal(t, StageAnalysis, pred)
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageParsing.Valid())
	assert.True(t, StageAnalysis.Valid())
	assert.True(t, StageElaboration.Valid())
	assert.False(t, Stage("deploy").Valid())
	assert.False(t, Stage("").Valid())
}

func TestNewTask(t *testing.T) {
	tk := New(source.Document{ID: "doc.req.abc", Version: "v2"})

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Len(t, tk.Stages, 3)
	for _, stage := range Stages() {
		assert.Equal(t, StagePending, tk.StageStatus(stage).State)
	}

	other := New(source.Document{ID: "doc.req.abc"})
	assert.NotEqual(t, tk.ID, other.ID)
}

func TestStageTransitions(t *testing.T) {
	tk := New(source.Document{ID: "doc.req.abc"})

	tk.BeginStage(StageParsing)
	assert.Equal(t, StatusRunning, tk.Status)
	assert.Equal(t, StageRunning, tk.StageStatus(StageParsing).State)
	require.NotNil(t, tk.StageStatus(StageParsing).StartedAt)

	tk.CompleteStage(StageParsing)
	assert.Equal(t, StageCompleted, tk.StageStatus(StageParsing).State)
	assert.Equal(t, StatusRunning, tk.Status)

	tk.BeginStage(StageAnalysis)
	tk.FailStage(StageAnalysis, "embedding service unavailable")
	assert.Equal(t, StatusFailed, tk.Status)
	assert.Equal(t, StageFailed, tk.StageStatus(StageAnalysis).State)
	assert.Equal(t, "embedding service unavailable", tk.StageStatus(StageAnalysis).Error)
	// The failure stays on its own stage.
	assert.Equal(t, StageCompleted, tk.StageStatus(StageParsing).State)

	// Retrying the failed stage clears its previous outcome.
	tk.BeginStage(StageAnalysis)
	assert.Empty(t, tk.StageStatus(StageAnalysis).Error)
	assert.Nil(t, tk.StageStatus(StageAnalysis).CompletedAt)

	tk.CompleteStage(StageAnalysis)
	tk.BeginStage(StageElaboration)
	tk.CompleteStage(StageElaboration)
	assert.Equal(t, StatusCompleted, tk.Status)
}

func TestCancel(t *testing.T) {
	tk := New(source.Document{ID: "doc.req.abc"})
	assert.False(t, tk.Cancelled())

	tk.Cancel()
	assert.True(t, tk.Cancelled())
	assert.Equal(t, StatusCancelled, tk.Status)
}

func TestMemStoreTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	tk := New(source.Document{ID: "doc.req.abc", Version: "v2"})
	require.NoError(t, store.CreateTask(ctx, tk))

	// Duplicate create is rejected.
	assert.Error(t, store.CreateTask(ctx, tk))

	got, err := store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, "v2", got.Document.Version)

	// Stored tasks are snapshots: mutating the original does not leak.
	tk.Status = StatusFailed
	got, err = store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, store.UpdateTask(ctx, tk))
	got, err = store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = store.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreStageResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.GetStageResult(ctx, "t1", StageAnalysis)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutStageResult(ctx, "t1", StageAnalysis, []byte(`{"n":1}`)))
	payload, err := store.GetStageResult(ctx, "t1", StageAnalysis)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(payload))

	// Re-run overwrites the result for that stage only.
	require.NoError(t, store.PutStageResult(ctx, "t1", StageParsing, []byte(`{"p":1}`)))
	require.NoError(t, store.PutStageResult(ctx, "t1", StageAnalysis, []byte(`{"n":2}`)))

	payload, err = store.GetStageResult(ctx, "t1", StageAnalysis)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(payload))

	payload, err = store.GetStageResult(ctx, "t1", StageParsing)
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":1}`, string(payload))
}

func TestResultKey(t *testing.T) {
	assert.Equal(t, "abc.analysis", resultKey("abc", StageAnalysis))
}

package report

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

func sampleAnalysis() *diff.Result {
	return &diff.Result{
		DocumentID: "doc.req.abc",
		Version:    "v2",
		Records: []diff.ChangeRecord{
			{ChunkRef: "doc.req.abc/chunk/0", Title: "双因子认证", Type: diff.ChangeNew},
			{ChunkRef: "doc.req.abc/chunk/1", Title: "用户登录", Type: diff.ChangeModified},
			{ChunkRef: "doc.req.abc/chunk/2", Title: "手动审批", Type: diff.ChangeDeleted, DeletedItem: "手动审批功能"},
			{ChunkRef: "doc.req.abc/chunk/3", Title: "订单导出", Type: diff.ChangeUnchanged},
			{ChunkRef: "doc.req.abc/chunk/4", Title: "报表", Type: diff.ChangeUnchanged,
				Reason: "classification failed, treated as unchanged"},
		},
		Errors: []diff.ChunkError{
			{ChunkRef: "doc.req.abc/chunk/4", Title: "报表", Kind: "capability", Error: "embed failed"},
		},
	}
}

func TestAssemble(t *testing.T) {
	tk := task.New(source.Document{ID: "doc.req.abc", Filename: "req.md", Version: "v2"})
	elaboration := &llm.Elaboration{Summary: "整体概述"}

	r := Assemble(tk, sampleAnalysis(), elaboration)

	assert.Equal(t, tk.ID, r.TaskID)
	assert.Equal(t, "v2", r.Document.Version)
	assert.Equal(t, diff.StatusPartiallyFailed, r.Status)

	assert.Equal(t, Totals{New: 1, Modified: 1, Deleted: 1, Unchanged: 2, Unclassified: 1}, r.Totals)
	assert.Len(t, r.Changes[diff.ChangeNew], 1)
	assert.Len(t, r.Changes[diff.ChangeUnchanged], 2)

	require.Len(t, r.Unclassified, 1)
	assert.Equal(t, "doc.req.abc/chunk/4", r.Unclassified[0].ChunkRef)
	assert.Equal(t, "整体概述", r.Elaboration.Summary)
}

func TestAssembleWithoutElaboration(t *testing.T) {
	tk := task.New(source.Document{ID: "doc.req.abc"})
	r := Assemble(tk, sampleAnalysis(), nil)
	assert.Nil(t, r.Elaboration)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemStore()
	tk := task.New(source.Document{ID: "doc.req.abc", Filename: "req.md"})
	require.NoError(t, store.CreateTask(ctx, tk))

	_, err := Load(ctx, store, "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)

	// No analysis result yet.
	_, err = Load(ctx, store, tk.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	payload, err := json.Marshal(sampleAnalysis())
	require.NoError(t, err)
	require.NoError(t, store.PutStageResult(ctx, tk.ID, task.StageAnalysis, payload))

	r, err := Load(ctx, store, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, r.Elaboration)
	assert.Equal(t, 1, r.Totals.New)

	elabPayload, err := json.Marshal(&llm.Elaboration{Summary: "概述"})
	require.NoError(t, err)
	require.NoError(t, store.PutStageResult(ctx, tk.ID, task.StageElaboration, elabPayload))

	r, err = Load(ctx, store, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, r.Elaboration)
	assert.Equal(t, "概述", r.Elaboration.Summary)
}

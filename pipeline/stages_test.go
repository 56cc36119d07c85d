package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/corpus"
	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
	"github.com/c360studio/docdelta/task"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fixedExtractor struct{}

func (fixedExtractor) Classify(context.Context, string, string) (*llm.Judgment, error) {
	return &llm.Judgment{Type: "modified", Reason: "内容演进", Items: []string{"流程变更"}}, nil
}

func (fixedExtractor) ExtractDetail(_ context.Context, items []string, _ string) (*llm.Detail, error) {
	return &llm.Detail{Details: map[string]string{items[0]: "细节"}}, nil
}

type fixedElaborator struct {
	gotInput string
}

func (f *fixedElaborator) Elaborate(_ context.Context, changeSummary string) (*llm.Elaboration, error) {
	f.gotInput = changeSummary
	return &llm.Elaboration{Summary: "整体变更概述"}, nil
}

func TestParsingStageRun(t *testing.T) {
	stage := NewParsingStage(parser.NewRegistry(), chunker.NewDefault())
	assert.Equal(t, task.StageParsing, stage.Stage())

	tk := task.New(source.Document{
		ID:       "doc.req.abc",
		Filename: "req.md",
		MimeType: "text/markdown",
		Version:  "v2",
		Content:  "# 用户登录\n登录流程说明。\n\n# 订单导出\n导出流程说明。",
	})

	payload, err := stage.Run(context.Background(), tk)
	require.NoError(t, err)

	var result ParsingResult
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "doc.req.abc", result.Document.ID)
	assert.Equal(t, "v2", result.Document.Version)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "用户登录", result.Chunks[0].Title)
	assert.Equal(t, "doc.req.abc", result.Chunks[0].DocumentID)
}

func TestParsingStageEmptyDocument(t *testing.T) {
	stage := NewParsingStage(parser.NewRegistry(), chunker.NewDefault())
	tk := task.New(source.Document{ID: "doc.req.abc", Filename: "req.md", Content: "   "})

	_, err := stage.Run(context.Background(), tk)
	assert.Error(t, err)
}

func TestAnalysisStageRun(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemStore()

	index := corpus.NewMemIndex()
	require.NoError(t, index.Put(ctx, corpus.HistoricalChunk{
		Ref:     "doc.req.old/chunk/0",
		Version: "v1",
		Title:   "用户登录",
		Content: "旧的登录流程。",
		Vector:  []float32{1, 0, 0},
	}))

	engine, err := diff.New(diff.DefaultConfig(), fixedEmbedder{}, index, fixedExtractor{})
	require.NoError(t, err)

	tk := task.New(source.Document{ID: "doc.req.abc", Version: "v2"})
	parsed := ParsingResult{
		Document: tk.Document,
		Chunks: []source.Chunk{
			{DocumentID: "doc.req.abc", Index: 0, Title: "用户登录", Content: "新的登录流程。"},
		},
	}
	payload, err := json.Marshal(parsed)
	require.NoError(t, err)
	require.NoError(t, store.PutStageResult(ctx, tk.ID, task.StageParsing, payload))

	stage := NewAnalysisStage(engine, store, nil)
	assert.Equal(t, task.StageAnalysis, stage.Stage())

	out, err := stage.Run(ctx, tk)
	require.NoError(t, err)

	var result diff.Result
	require.NoError(t, json.Unmarshal(out, &result))
	require.Len(t, result.Records, 1)
	assert.Equal(t, diff.ChangeModified, result.Records[0].Type)
	assert.Equal(t, diff.StatusCompleted, result.Status())
}

func TestAnalysisStageMissingParsingResult(t *testing.T) {
	engine, err := diff.New(diff.DefaultConfig(), fixedEmbedder{}, corpus.NewMemIndex(), fixedExtractor{})
	require.NoError(t, err)

	stage := NewAnalysisStage(engine, task.NewMemStore(), nil)
	tk := task.New(source.Document{ID: "doc.req.abc"})

	_, err = stage.Run(context.Background(), tk)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestElaborationStageRun(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemStore()
	tk := task.New(source.Document{ID: "doc.req.abc", Version: "v2"})

	analyzed := diff.Result{
		DocumentID: "doc.req.abc",
		Version:    "v2",
		Records: []diff.ChangeRecord{
			{ChunkRef: "doc.req.abc/chunk/0", Title: "用户登录", Type: diff.ChangeModified,
				Reason: "流程变更", Items: []string{"新增验证码"}},
			{ChunkRef: "doc.req.abc/chunk/1", Title: "订单导出", Type: diff.ChangeUnchanged},
		},
		Errors: []diff.ChunkError{
			{ChunkRef: "doc.req.abc/chunk/2", Title: "审批", Kind: "capability", Error: "embed failed"},
		},
	}
	payload, err := json.Marshal(analyzed)
	require.NoError(t, err)
	require.NoError(t, store.PutStageResult(ctx, tk.ID, task.StageAnalysis, payload))

	elaborator := &fixedElaborator{}
	stage := NewElaborationStage(elaborator, store)
	assert.Equal(t, task.StageElaboration, stage.Stage())

	out, err := stage.Run(ctx, tk)
	require.NoError(t, err)

	var result llm.Elaboration
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "整体变更概述", result.Summary)

	// The prompt input names changes and unclassified sections, and
	// omits unchanged chunks.
	assert.Contains(t, elaborator.gotInput, "用户登录")
	assert.Contains(t, elaborator.gotInput, "新增验证码")
	assert.Contains(t, elaborator.gotInput, "Unclassified")
	assert.NotContains(t, elaborator.gotInput, "订单导出")
}

func TestRenderChangeSummary(t *testing.T) {
	result := &diff.Result{
		DocumentID: "doc.req.abc",
		Version:    "v3",
		Records: []diff.ChangeRecord{
			{Title: "审批", Type: diff.ChangeDeleted, DeletedItem: "手动审批功能"},
			{Title: "双因子认证", Type: diff.ChangeNew, Reason: "全新功能"},
			{Title: "登录", Type: diff.ChangeModified, Items: []string{"新增验证码"},
				Details: map[string]string{"新增验证码": "有效期5分钟"}},
		},
	}

	rendered := renderChangeSummary(result)
	assert.Contains(t, rendered, "doc.req.abc")
	assert.Contains(t, rendered, "removed: 手动审批功能")
	assert.Contains(t, rendered, "[new] 双因子认证: 全新功能")
	assert.Contains(t, rendered, "新增验证码 (有效期5分钟)")
}

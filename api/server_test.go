package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/pipeline"
	"github.com/c360studio/docdelta/progress"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

type noopRunner struct {
	stage task.Stage
}

func (r *noopRunner) Stage() task.Stage { return r.stage }

func (r *noopRunner) Run(context.Context, *task.Task) ([]byte, error) {
	return []byte(`{}`), nil
}

type fakeFetcher struct {
	doc *source.Document
	err error
}

func (f *fakeFetcher) Fetch(context.Context, string) (*source.Document, error) {
	return f.doc, f.err
}

type testAPI struct {
	mux   *http.ServeMux
	store *task.MemStore
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()

	store := task.NewMemStore()
	broadcaster := progress.NewLocalBroadcaster(store)
	runners := []pipeline.StageRunner{
		&noopRunner{stage: task.StageParsing},
		&noopRunner{stage: task.StageAnalysis},
		&noopRunner{stage: task.StageElaboration},
	}
	orchestrator, err := pipeline.New(pipeline.DefaultConfig(), store, broadcaster, runners)
	require.NoError(t, err)

	handler, err := NewHandler(orchestrator, store, broadcaster, opts...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handler.RegisterHTTPHandlers(mux)
	return &testAPI{mux: mux, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	return w
}

func (a *testAPI) submit(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/tasks", SubmitRequest{
		Filename: "req.md",
		MimeType: "text/markdown",
		Version:  "v2",
		Content:  "# 用户登录\n内容",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.TaskID)
	return resp.TaskID
}

func (a *testAPI) waitForStage(t *testing.T, taskID string, stage task.Stage, state task.StageState) {
	t.Helper()
	require.Eventually(t, func() bool {
		tk, err := a.store.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		return tk.StageStatus(stage).State == state
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitAndGet(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodGet, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tk task.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tk))
	assert.Equal(t, id, tk.ID)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, "v2", tk.Document.Version)
}

func TestSubmitRejectsEmpty(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/tasks", SubmitRequest{Filename: "req.md"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitByURL(t *testing.T) {
	a := newTestAPI(t, WithFetcher(&fakeFetcher{doc: &source.Document{
		ID:       "doc.web.abc",
		Filename: "page.html",
		MimeType: "text/markdown",
		Content:  "# 标题\n正文",
	}}))

	w := a.do(t, http.MethodPost, "/api/tasks", SubmitRequest{URL: "https://example.com/spec", Version: "v4"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "doc.web.abc", resp.Document)

	tk, err := a.store.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "v4", tk.Document.Version)
}

func TestSubmitByURLWithoutFetcher(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/tasks", SubmitRequest{URL: "https://example.com/spec"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitByURLFetchFailure(t *testing.T) {
	a := newTestAPI(t, WithFetcher(&fakeFetcher{err: errors.New("connection refused")}))
	w := a.do(t, http.MethodPost, "/api/tasks", SubmitRequest{URL: "https://example.com/spec"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetMissingTask(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunStageAccepted(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodPost, "/api/tasks/"+id+"/stages/parsing", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	a.waitForStage(t, id, task.StageParsing, task.StageCompleted)
}

func TestRunStageOrderingViolation(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodPost, "/api/tasks/"+id+"/stages/analysis", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestRunStageUnknownStage(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodPost, "/api/tasks/"+id+"/stages/deploy", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunStageMissingTask(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/tasks/missing/stages/parsing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelBlocksStages(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodPost, "/api/tasks/"+id+"/stages/parsing", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelMissingTask(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodDelete, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportLifecycle(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	w := a.do(t, http.MethodGet, "/api/tasks/"+id+"/report", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "report before analysis must be rejected")

	analysis := diff.Result{
		DocumentID: "doc.req.abc",
		Version:    "v2",
		Records: []diff.ChangeRecord{
			{ChunkRef: "doc.req.abc/chunk/0", Title: "登录", Type: diff.ChangeModified},
		},
	}
	payload, err := json.Marshal(analysis)
	require.NoError(t, err)
	require.NoError(t, a.store.PutStageResult(context.Background(), id, task.StageAnalysis, payload))

	w = a.do(t, http.MethodGet, "/api/tasks/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, id, body["task_id"])
}

func TestReportMissingTask(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/tasks/missing/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsUnknownTask(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/tasks/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsStream(t *testing.T) {
	a := newTestAPI(t)
	id := a.submit(t)

	srv := httptest.NewServer(a.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/tasks/%s/events", srv.URL, id), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "event: connected"), "got %q", line)

	// Kick off a stage and expect progress events on the stream.
	w := a.do(t, http.MethodPost, "/api/tasks/"+id+"/stages/parsing", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	sawProgress := false
	for !sawProgress {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: progress") {
			sawProgress = true
		}
	}
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

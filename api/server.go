// Package api exposes the task lifecycle over HTTP: submission, stage
// execution, cancellation, reports, and an SSE progress stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/docdelta/fault"
	"github.com/c360studio/docdelta/pipeline"
	"github.com/c360studio/docdelta/progress"
	"github.com/c360studio/docdelta/report"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

// maxSubmitBodySize bounds submitted document payloads.
const maxSubmitBodySize = 10 << 20 // 10 MiB

// DocumentFetcher retrieves a document from a URL for URL submissions.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*source.Document, error)
}

// Handler serves the docdelta HTTP API.
type Handler struct {
	orchestrator *pipeline.Orchestrator
	store        task.Store
	broadcaster  progress.Broadcaster
	fetcher      DocumentFetcher
	logger       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger.With("component", "api")
	}
}

// WithFetcher enables URL-based document submission.
func WithFetcher(f DocumentFetcher) Option {
	return func(h *Handler) {
		h.fetcher = f
	}
}

// NewHandler creates the API handler.
func NewHandler(orchestrator *pipeline.Orchestrator, store task.Store, broadcaster progress.Broadcaster, opts ...Option) (*Handler, error) {
	if orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if broadcaster == nil {
		return nil, errors.New("progress broadcaster is required")
	}

	h := &Handler{
		orchestrator: orchestrator,
		store:        store,
		broadcaster:  broadcaster,
		logger:       slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterHTTPHandlers registers all API routes on the mux.
func (h *Handler) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tasks", h.handleSubmit)
	mux.HandleFunc("GET /api/tasks/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.handleCancel)
	mux.HandleFunc("POST /api/tasks/{id}/stages/{stage}", h.handleRunStage)
	mux.HandleFunc("GET /api/tasks/{id}/report", h.handleReport)
	mux.HandleFunc("GET /api/tasks/{id}/events", h.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// SubmitRequest is the document submission payload. Either Content or
// URL must be set.
type SubmitRequest struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Version  string `json:"version,omitempty"`
	Content  string `json:"content,omitempty"`
	URL      string `json:"url,omitempty"`
}

// SubmitResponse returns the created task.
type SubmitResponse struct {
	TaskID   string `json:"task_id"`
	Document string `json:"document_id"`
}

// handleSubmit handles POST /api/tasks.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBodySize)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var doc source.Document
	switch {
	case req.URL != "":
		if h.fetcher == nil {
			h.writeError(w, http.StatusBadRequest, "url submission is not enabled")
			return
		}
		fetched, err := h.fetcher.Fetch(ctx, req.URL)
		if err != nil {
			h.logger.Warn("url fetch failed", "url", req.URL, "error", err)
			h.writeError(w, http.StatusBadGateway, fmt.Sprintf("fetch url: %v", err))
			return
		}
		doc = *fetched
		if req.Version != "" {
			doc.Version = req.Version
		}
	case strings.TrimSpace(req.Content) != "":
		doc = source.Document{
			ID:       source.GenerateID(req.Filename, []byte(req.Content)),
			Filename: req.Filename,
			MimeType: req.MimeType,
			Version:  req.Version,
			Content:  req.Content,
		}
	default:
		h.writeError(w, http.StatusBadRequest, "content or url is required")
		return
	}

	t, err := h.orchestrator.Submit(ctx, doc)
	if err != nil {
		h.logger.Error("submit failed", "document", doc.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	h.writeJSON(w, http.StatusCreated, SubmitResponse{TaskID: t.ID, Document: doc.ID})
}

// handleGet handles GET /api/tasks/{id}.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// handleCancel handles DELETE /api/tasks/{id}. Cancellation is
// advisory: it blocks future stages, in-flight work still finishes.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.orchestrator.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("cancel failed", "task", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunStage handles POST /api/tasks/{id}/stages/{stage}. The stage
// runs in the background; admission violations map to HTTP statuses:
// 412 for ordering, 409 for a stage already in flight or a cancelled
// task.
func (h *Handler) handleRunStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stage := task.Stage(r.PathValue("stage"))
	if !stage.Valid() {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", stage))
		return
	}

	err := h.orchestrator.StartStage(r.Context(), id, stage)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": id,
			"stage":   string(stage),
			"state":   string(task.StageRunning),
		})
	case errors.Is(err, task.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "task not found")
	case fault.IsOrdering(err):
		h.writeError(w, http.StatusPreconditionFailed, err.Error())
	case fault.IsConcurrency(err):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrCancelled):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("start stage failed", "task", id, "stage", stage, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start stage")
	}
}

// handleReport handles GET /api/tasks/{id}/report.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := report.Load(r.Context(), h.store, id)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, report.ErrNotReady):
			h.writeError(w, http.StatusConflict, "analysis has not completed yet")
		default:
			h.logger.Error("load report failed", "task", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to load report")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// handleEvents handles GET /api/tasks/{id}/events: an SSE bridge over
// the progress broadcaster. No replay; clients needing history poll the
// task resource.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := make(chan progress.Event, 16)
	subscriberID := uuid.New().String()
	err := h.broadcaster.Bind(ctx, id, subscriberID, func(e progress.Event) {
		select {
		case events <- e:
		default:
			// Slow consumer: drop rather than block the pipeline.
		}
	})
	if err != nil {
		if errors.Is(err, progress.ErrUnknownTask) {
			h.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("bind events failed", "task", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer h.broadcaster.Unbind(id, subscriberID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	if err := h.sendSSEEvent(w, flusher, "connected", map[string]string{"task_id": id}); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := h.sendSSEEvent(w, flusher, "heartbeat", map[string]any{}); err != nil {
				return
			}
		case event := <-events:
			if err := h.sendSSEEvent(w, flusher, "progress", event); err != nil {
				return
			}
		}
	}
}

// handleHealth handles GET /healthz.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadTask fetches the task from the path ID, writing the error
// response itself when it fails.
func (h *Handler) loadTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	id := r.PathValue("id")
	t, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "task not found")
			return nil, false
		}
		h.logger.Error("get task failed", "task", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get task")
		return nil, false
	}
	return t, true
}

// sendSSEEvent writes one SSE event and flushes it.
func (h *Handler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("marshal sse event", "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	flusher.Flush()
	return nil
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("write json response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Package report assembles the final change analysis report from
// stored stage results.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/task"
)

// ErrNotReady is returned when the task has no analysis result yet.
var ErrNotReady = errors.New("analysis result not available")

// DocumentInfo identifies the analyzed document.
type DocumentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Totals counts change records by outcome.
type Totals struct {
	New          int `json:"new"`
	Modified     int `json:"modified"`
	Deleted      int `json:"deleted"`
	Unchanged    int `json:"unchanged"`
	Unclassified int `json:"unclassified"`
}

// Report is the user-facing analysis output. Unclassified chunks are
// listed explicitly; a reader must be able to see that classification
// is incomplete, never guess it.
type Report struct {
	TaskID   string       `json:"task_id"`
	Document DocumentInfo `json:"document"`
	Status   diff.Status  `json:"status"`
	Totals   Totals       `json:"totals"`

	// Changes groups records by change type. Unchanged records are
	// included under "unchanged" so every chunk is accounted for.
	Changes map[diff.ChangeType][]diff.ChangeRecord `json:"changes"`

	// Unclassified lists chunks that could not be classified.
	Unclassified []diff.ChunkError `json:"unclassified,omitempty"`

	// Elaboration is the narrative analysis, when the elaboration stage
	// has run.
	Elaboration *llm.Elaboration `json:"elaboration,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Assemble builds a report from a task and its stage outputs.
// elaboration may be nil.
func Assemble(t *task.Task, analysis *diff.Result, elaboration *llm.Elaboration) *Report {
	r := &Report{
		TaskID: t.ID,
		Document: DocumentInfo{
			ID:       t.Document.ID,
			Filename: t.Document.Filename,
			Version:  analysis.Version,
		},
		Status:       analysis.Status(),
		Changes:      make(map[diff.ChangeType][]diff.ChangeRecord),
		Unclassified: analysis.Errors,
		Elaboration:  elaboration,
		GeneratedAt:  time.Now().UTC(),
	}
	if r.Document.Version == "" {
		r.Document.Version = t.Document.Version
	}

	for _, record := range analysis.Records {
		r.Changes[record.Type] = append(r.Changes[record.Type], record)
		switch record.Type {
		case diff.ChangeNew:
			r.Totals.New++
		case diff.ChangeModified:
			r.Totals.Modified++
		case diff.ChangeDeleted:
			r.Totals.Deleted++
		case diff.ChangeUnchanged:
			r.Totals.Unchanged++
		}
	}
	r.Totals.Unclassified = len(analysis.Errors)
	return r
}

// Load assembles the report for a task from the store. Returns
// ErrNotReady until the analysis stage has a stored result; a missing
// elaboration result just leaves the narrative empty.
func Load(ctx context.Context, store task.Store, taskID string) (*Report, error) {
	t, err := store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	payload, err := store.GetStageResult(ctx, taskID, task.StageAnalysis)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return nil, ErrNotReady
		}
		return nil, err
	}
	var analysis diff.Result
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis result: %w", err)
	}

	var elaboration *llm.Elaboration
	if payload, err := store.GetStageResult(ctx, taskID, task.StageElaboration); err == nil {
		elaboration = &llm.Elaboration{}
		if err := json.Unmarshal(payload, elaboration); err != nil {
			return nil, fmt.Errorf("unmarshal elaboration result: %w", err)
		}
	} else if !errors.Is(err, task.ErrNotFound) {
		return nil, err
	}

	return Assemble(t, &analysis, elaboration), nil
}

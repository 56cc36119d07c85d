// Package diff implements the content diff engine: it classifies each
// current chunk as new, modified, deleted, or unchanged relative to the
// historical corpus.
package diff

import (
	"time"
)

// ChangeType classifies the outcome for one chunk.
type ChangeType string

// Change type values.
const (
	ChangeNew       ChangeType = "new"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeUnchanged ChangeType = "unchanged"
)

// MatchInfo references the historical chunk a record was adjudicated
// against. Similarity is zero for keyword-triggered deletions without a
// vector match.
type MatchInfo struct {
	// Ref is the historical chunk reference.
	Ref string `json:"ref"`

	// Version is the historical chunk's version tag.
	Version string `json:"version,omitempty"`

	// Similarity is the cosine similarity that selected the match.
	Similarity float64 `json:"similarity,omitempty"`
}

// ChangeRecord is the diff engine's output unit for one chunk. Records
// are immutable once produced; a re-run replaces the whole set.
type ChangeRecord struct {
	// ChunkRef associates the record with its source chunk. Consumers
	// must use this reference, never array position.
	ChunkRef string `json:"chunk_ref"`

	// Title is the source chunk's section title.
	Title string `json:"title,omitempty"`

	// Type is the classification outcome.
	Type ChangeType `json:"type"`

	// Matched references the adjudicated historical chunk, if any.
	Matched *MatchInfo `json:"matched,omitempty"`

	// Reason is the free-text change explanation.
	Reason string `json:"reason,omitempty"`

	// Items lists the discrete changes found.
	Items []string `json:"items,omitempty"`

	// Details maps change items to field-level detail from the second
	// extraction pass.
	Details map[string]string `json:"details,omitempty"`

	// DeletedItem names the removed entity for keyword-triggered
	// deletions.
	DeletedItem string `json:"deleted_item,omitempty"`

	// SourceVersion is the current document's version tag.
	SourceVersion string `json:"source_version,omitempty"`
}

// ChunkError records a chunk that could not be classified. The final
// report lists these explicitly so reviewers know classification is
// incomplete.
type ChunkError struct {
	// ChunkRef identifies the failed chunk.
	ChunkRef string `json:"chunk_ref"`

	// Title is the chunk's section title.
	Title string `json:"title,omitempty"`

	// Kind is "capability" or "ambiguous".
	Kind string `json:"kind"`

	// Error is the failure description.
	Error string `json:"error"`
}

// Status summarizes a diff run.
type Status string

// Diff run status values.
const (
	// StatusCompleted means every chunk classified.
	StatusCompleted Status = "completed"
	// StatusPartiallyFailed means some chunks failed but at least one
	// classified.
	StatusPartiallyFailed Status = "partially_failed"
	// StatusFailed means no chunk classified.
	StatusFailed Status = "failed"
)

// Result is the stage-2 output: one record per chunk plus the error
// list for chunks that could not be classified.
type Result struct {
	DocumentID  string         `json:"document_id"`
	Version     string         `json:"version,omitempty"`
	Records     []ChangeRecord `json:"records"`
	Errors      []ChunkError   `json:"errors,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Status derives the run status from records and errors.
func (r *Result) Status() Status {
	if len(r.Errors) == 0 {
		return StatusCompleted
	}
	if len(r.Errors) < len(r.Records) {
		return StatusPartiallyFailed
	}
	return StatusFailed
}

// Package corpus stores pre-embedded historical document chunks and
// serves nearest-neighbor queries for the diff engine.
package corpus

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a historical chunk does not exist.
var ErrNotFound = errors.New("historical chunk not found")

// HistoricalChunk is a chunk from a previously ingested document
// version. Immutable once stored; diff results reference it, never own
// it.
type HistoricalChunk struct {
	// Ref uniquely identifies the chunk within the corpus.
	Ref string `json:"ref"`

	// DocumentID is the source document identifier.
	DocumentID string `json:"document_id"`

	// Version is the document version tag this chunk came from.
	Version string `json:"version"`

	// Title is the section title.
	Title string `json:"title,omitempty"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Vector is the pre-computed embedding.
	Vector []float32 `json:"vector"`

	// IngestedAt is when the chunk entered the corpus.
	IngestedAt time.Time `json:"ingested_at"`
}

// Match pairs a historical chunk with its similarity score against a
// query vector. Scores are reported raw; range validation belongs to
// the caller.
type Match struct {
	Chunk HistoricalChunk `json:"chunk"`
	Score float64         `json:"score"`
}

// Searcher is the read side of the corpus used by the diff engine.
type Searcher interface {
	// Nearest returns the top-k historical chunks by cosine similarity.
	Nearest(ctx context.Context, vector []float32, k int) ([]Match, error)

	// FindByTitle looks up a historical chunk by normalized section
	// title, preferring the most recent version. Returns ErrNotFound
	// when no such entity exists.
	FindByTitle(ctx context.Context, title string) (*HistoricalChunk, error)
}

// Index is a corpus that also accepts new historical chunks.
type Index interface {
	Searcher

	// Put stores a historical chunk.
	Put(ctx context.Context, chunk HistoricalChunk) error
}

// Package source provides types and parsers for document ingestion.
package source

import (
	"time"
)

// Document represents a parsed document with its content and metadata.
type Document struct {
	// ID is the document identifier, stable across re-submissions of the
	// same content.
	ID string `json:"id"`

	// Filename is the original filename.
	Filename string `json:"filename"`

	// MimeType is the declared document MIME type.
	MimeType string `json:"mime_type"`

	// Version is the document version tag (e.g. "v3", "2026-08"). Used to
	// order historical chunks from prior ingestions.
	Version string `json:"version,omitempty"`

	// Content is the raw document content.
	Content string `json:"content"`

	// Frontmatter contains parsed YAML frontmatter if present.
	Frontmatter map[string]any `json:"frontmatter,omitempty"`

	// Body is the content without frontmatter.
	Body string `json:"body"`

	// SubmittedAt is when the document entered the pipeline.
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

// HasFrontmatter returns true if the document has parsed frontmatter.
func (d *Document) HasFrontmatter() bool {
	return len(d.Frontmatter) > 0
}

// ImageRef is an image reference extracted from a chunk. The chunk text
// carries a placeholder token in place of the original reference.
type ImageRef struct {
	// Placeholder is the token substituted into the chunk text.
	Placeholder string `json:"placeholder"`

	// Source is the original reference (path, URL, or data URI prefix).
	Source string `json:"source"`

	// ArtifactPath is where the extracted image was stored, empty when
	// extraction failed.
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// Chunk represents one structurally bounded unit of a document.
type Chunk struct {
	// DocumentID is the ID of the parent document.
	DocumentID string `json:"document_id"`

	// Index is the chunk position in document order, 0-based. Positions
	// are unique and strictly increasing within a document.
	Index int `json:"index"`

	// Title is the smallest structural heading governing this chunk.
	Title string `json:"title,omitempty"`

	// Content is the chunk text with image references replaced by
	// placeholders.
	Content string `json:"content"`

	// Images lists image references found inline in this chunk.
	Images []ImageRef `json:"images,omitempty"`

	// TokenCount is the estimated token count.
	TokenCount int `json:"token_count"`
}

// Ref returns a stable reference for this chunk, used to associate
// change records with their source chunk independent of array position.
func (c Chunk) Ref() string {
	return chunkRef(c.DocumentID, c.Index)
}

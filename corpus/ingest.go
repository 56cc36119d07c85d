package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/docdelta/embedding"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
)

// Ingestor turns raw document files into embedded historical chunks.
type Ingestor struct {
	registry *parser.Registry
	chunker  *chunker.Chunker
	embedder embedding.Client
	index    Index
	logger   *slog.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithIngestorLogger sets the logger.
func WithIngestorLogger(logger *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// NewIngestor creates a corpus ingestor.
func NewIngestor(registry *parser.Registry, ch *chunker.Chunker, embedder embedding.Client, index Index, opts ...IngestorOption) (*Ingestor, error) {
	if registry == nil {
		return nil, fmt.Errorf("parser registry is required")
	}
	if ch == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}

	ing := &Ingestor{
		registry: registry,
		chunker:  ch,
		embedder: embedder,
		index:    index,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	ing.logger = ing.logger.With("component", "corpus-ingestor")
	return ing, nil
}

// IngestFile reads a document file and ingests it under the given
// version tag. Returns the number of chunks stored.
func (i *Ingestor) IngestFile(ctx context.Context, path, version string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return i.Ingest(ctx, filepath.Base(path), content, version)
}

// Ingest parses, chunks, and embeds one document, storing every chunk
// as a historical chunk under the given version tag. Chunks are stored
// as they complete; a mid-document failure leaves earlier chunks in
// the corpus, and the returned count says how many made it.
func (i *Ingestor) Ingest(ctx context.Context, filename string, content []byte, version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("version is required")
	}

	doc, err := i.registry.Parse(filename, "", content)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filename, err)
	}
	doc.Version = version

	chunks, err := i.chunker.Chunk(doc)
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", filename, err)
	}

	now := time.Now().UTC()
	stored := 0
	for _, chunk := range chunks {
		vector, err := i.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return stored, fmt.Errorf("embed %s: %w", chunk.Ref(), err)
		}

		hc := HistoricalChunk{
			Ref:        chunk.Ref(),
			DocumentID: doc.ID,
			Version:    version,
			Title:      chunk.Title,
			Content:    chunk.Content,
			Vector:     vector,
			IngestedAt: now,
		}
		if err := i.index.Put(ctx, hc); err != nil {
			return stored, fmt.Errorf("store %s: %w", chunk.Ref(), err)
		}
		stored++
	}

	i.logger.Info("Ingested document",
		"filename", filename,
		"document_id", doc.ID,
		"version", version,
		"chunks", stored)

	return stored, nil
}

package diff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/docdelta/corpus"
	"github.com/c360studio/docdelta/embedding"
	"github.com/c360studio/docdelta/fault"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/source"
)

// Config holds diff engine tuning.
type Config struct {
	// Threshold is the similarity floor for LLM adjudication. Chunks
	// whose best match scores below it are classified without a model
	// call.
	Threshold float64 `yaml:"threshold"`

	// TopK is how many nearest historical chunks to retrieve.
	TopK int `yaml:"top_k"`

	// Workers bounds concurrent chunk classification.
	Workers int `yaml:"workers"`

	// DetailPass enables the second extraction pass for modified
	// chunks.
	DetailPass bool `yaml:"detail_pass"`

	// DeletionMarkers overrides the built-in deletion keyword list.
	DeletionMarkers []string `yaml:"deletion_markers,omitempty"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.4,
		TopK:       5,
		Workers:    4,
		DetailPass: true,
	}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be >= 1, got %d", c.TopK)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Engine classifies document chunks against the historical corpus. One
// failed chunk never aborts the run; it becomes an unchanged record plus
// an entry in the result's error list.
type Engine struct {
	cfg       Config
	embedder  embedding.Client
	searcher  corpus.Searcher
	extractor llm.Extractor
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates a diff engine.
func New(cfg Config, embedder embedding.Client, searcher corpus.Searcher, extractor llm.Extractor, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid diff config: %w", err)
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if searcher == nil {
		return nil, errors.New("corpus searcher is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}

	e := &Engine{
		cfg:       cfg,
		embedder:  embedder,
		searcher:  searcher,
		extractor: extractor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Analyze classifies every chunk of the document. The result always
// contains one record per chunk, in chunk order; re-running with the
// same inputs produces an equivalent result.
func (e *Engine) Analyze(ctx context.Context, doc *source.Document, chunks []source.Chunk) (*Result, error) {
	if doc == nil {
		return nil, errors.New("document is required")
	}
	if len(chunks) == 0 {
		return nil, fault.NewFormatError("chunks", "document produced no chunks")
	}

	records := make([]ChangeRecord, len(chunks))
	failures := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i := range chunks {
		g.Go(func() error {
			record, err := e.classifyChunk(gctx, doc, &chunks[i])
			if err != nil {
				failures[i] = err
				records[i] = fallbackRecord(doc, &chunks[i])
				e.logger.Warn("chunk classification failed",
					"chunk", chunks[i].Ref(),
					"error", err)
				return nil
			}
			records[i] = *record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		DocumentID:  doc.ID,
		Version:     doc.Version,
		Records:     records,
		GeneratedAt: time.Now().UTC(),
	}
	for i, err := range failures {
		if err == nil {
			continue
		}
		result.Errors = append(result.Errors, ChunkError{
			ChunkRef: chunks[i].Ref(),
			Title:    chunks[i].Title,
			Kind:     errorKind(err),
			Error:    err.Error(),
		})
	}
	return result, nil
}

// classifyChunk runs the per-chunk pipeline: embed, retrieve, then
// either adjudicate with the model or fall back to the keyword path.
func (e *Engine) classifyChunk(ctx context.Context, doc *source.Document, chunk *source.Chunk) (*ChangeRecord, error) {
	vector, err := e.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return nil, fmt.Errorf("embed chunk: %w", err)
	}

	matches, err := e.searcher.Nearest(ctx, vector, e.cfg.TopK)
	if err != nil {
		return nil, fault.NewCapabilityError("corpus", fmt.Errorf("nearest search: %w", err))
	}

	if len(matches) == 0 {
		return e.classifyUnmatched(ctx, doc, chunk)
	}

	top := matches[0]
	// A score outside [0,1] means the embedding space is broken for
	// this pair. Clamping would silently misclassify, so refuse.
	if top.Score < 0 || top.Score > 1 {
		return nil, fault.NewAmbiguousError("similarity %.4f for %s outside [0,1]", top.Score, top.Chunk.Ref)
	}

	if top.Score < e.cfg.Threshold {
		return e.classifyUnmatched(ctx, doc, chunk)
	}

	return e.adjudicate(ctx, doc, chunk, top)
}

// adjudicate asks the model to classify a chunk against its best match.
// The model's judgment is authoritative even when it contradicts the
// similarity score.
func (e *Engine) adjudicate(ctx context.Context, doc *source.Document, chunk *source.Chunk, match corpus.Match) (*ChangeRecord, error) {
	judgment, err := e.extractor.Classify(ctx, chunk.Content, match.Chunk.Content)
	if err != nil {
		return nil, err
	}

	record := &ChangeRecord{
		ChunkRef: chunk.Ref(),
		Title:    chunk.Title,
		Type:     ChangeType(judgment.Type),
		Matched: &MatchInfo{
			Ref:        match.Chunk.Ref,
			Version:    match.Chunk.Version,
			Similarity: match.Score,
		},
		Reason:        judgment.Reason,
		Items:         judgment.Items,
		SourceVersion: doc.Version,
	}

	if record.Type == ChangeModified && e.cfg.DetailPass && len(judgment.Items) > 0 {
		detail, err := e.extractor.ExtractDetail(ctx, judgment.Items, doc.Body)
		if err != nil {
			// Detail is enrichment; its failure never degrades the
			// classification itself.
			e.logger.Warn("detail extraction failed",
				"chunk", chunk.Ref(),
				"error", err)
		} else if len(detail.Details) > 0 {
			record.Details = detail.Details
		}
	}

	return record, nil
}

// classifyUnmatched handles chunks with no sufficiently similar
// historical chunk: deletion announcements are detected by keyword and
// resolved against the corpus by title; everything else is new content.
func (e *Engine) classifyUnmatched(ctx context.Context, doc *source.Document, chunk *source.Chunk) (*ChangeRecord, error) {
	text := chunk.Title + "\n" + chunk.Content
	for _, candidate := range deletionCandidates(text, e.cfg.DeletionMarkers) {
		historical, err := e.searcher.FindByTitle(ctx, candidate)
		if errors.Is(err, corpus.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fault.NewCapabilityError("corpus", fmt.Errorf("title lookup %q: %w", candidate, err))
		}
		return &ChangeRecord{
			ChunkRef: chunk.Ref(),
			Title:    chunk.Title,
			Type:     ChangeDeleted,
			Matched: &MatchInfo{
				Ref:     historical.Ref,
				Version: historical.Version,
			},
			Reason:        fmt.Sprintf("deletion of %q announced", candidate),
			DeletedItem:   candidate,
			SourceVersion: doc.Version,
		}, nil
	}

	return &ChangeRecord{
		ChunkRef:      chunk.Ref(),
		Title:         chunk.Title,
		Type:          ChangeNew,
		Reason:        "no similar historical section",
		SourceVersion: doc.Version,
	}, nil
}

// fallbackRecord is the conservative record for a chunk that could not
// be classified.
func fallbackRecord(doc *source.Document, chunk *source.Chunk) ChangeRecord {
	return ChangeRecord{
		ChunkRef:      chunk.Ref(),
		Title:         chunk.Title,
		Type:          ChangeUnchanged,
		Reason:        "classification failed, treated as unchanged",
		SourceVersion: doc.Version,
	}
}

// errorKind maps a classification failure to its report category.
func errorKind(err error) string {
	if fault.IsAmbiguous(err) {
		return "ambiguous"
	}
	return "capability"
}

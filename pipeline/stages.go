package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
	"github.com/c360studio/docdelta/task"
)

// StageRunner executes one pipeline stage and returns the JSON payload
// to store as the stage result.
type StageRunner interface {
	Stage() task.Stage
	Run(ctx context.Context, t *task.Task) ([]byte, error)
}

// ParsingResult is the stored output of the parsing stage.
type ParsingResult struct {
	Document    source.Document `json:"document"`
	Chunks      []source.Chunk  `json:"chunks"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ParsingStage parses the submitted document and chunks it.
type ParsingStage struct {
	registry *parser.Registry
	chunker  *chunker.Chunker
}

// NewParsingStage creates the parsing stage runner.
func NewParsingStage(registry *parser.Registry, ch *chunker.Chunker) *ParsingStage {
	return &ParsingStage{registry: registry, chunker: ch}
}

// Stage implements StageRunner.
func (s *ParsingStage) Stage() task.Stage { return task.StageParsing }

// Run parses and chunks the task's document.
func (s *ParsingStage) Run(_ context.Context, t *task.Task) ([]byte, error) {
	doc, err := s.registry.Parse(t.Document.Filename, t.Document.MimeType, []byte(t.Document.Content))
	if err != nil {
		return nil, err
	}
	doc.ID = t.Document.ID
	if doc.Version == "" {
		doc.Version = t.Document.Version
	}
	doc.SubmittedAt = t.Document.SubmittedAt

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return nil, err
	}

	result := ParsingResult{
		Document:    *doc,
		Chunks:      chunks,
		GeneratedAt: time.Now().UTC(),
	}
	return json.Marshal(result)
}

// AnalysisStage classifies the parsed chunks against the corpus.
type AnalysisStage struct {
	engine  *diff.Engine
	store   task.Store
	metrics *Metrics
}

// NewAnalysisStage creates the analysis stage runner.
func NewAnalysisStage(engine *diff.Engine, store task.Store, metrics *Metrics) *AnalysisStage {
	return &AnalysisStage{engine: engine, store: store, metrics: metrics}
}

// Stage implements StageRunner.
func (s *AnalysisStage) Stage() task.Stage { return task.StageAnalysis }

// Run loads the parsing result and runs the diff engine over it.
func (s *AnalysisStage) Run(ctx context.Context, t *task.Task) ([]byte, error) {
	var parsed ParsingResult
	if err := loadStageResult(ctx, s.store, t.ID, task.StageParsing, &parsed); err != nil {
		return nil, err
	}

	result, err := s.engine.Analyze(ctx, &parsed.Document, parsed.Chunks)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		for _, record := range result.Records {
			s.metrics.classifications.WithLabelValues(string(record.Type)).Inc()
		}
		s.metrics.chunkFailures.Add(float64(len(result.Errors)))
	}

	return json.Marshal(result)
}

// ElaborationStage turns the diff result into a narrative analysis.
type ElaborationStage struct {
	elaborator llm.Elaborator
	store      task.Store
}

// NewElaborationStage creates the elaboration stage runner.
func NewElaborationStage(elaborator llm.Elaborator, store task.Store) *ElaborationStage {
	return &ElaborationStage{elaborator: elaborator, store: store}
}

// Stage implements StageRunner.
func (s *ElaborationStage) Stage() task.Stage { return task.StageElaboration }

// Run feeds the analysis result to the model's elaboration prompt.
func (s *ElaborationStage) Run(ctx context.Context, t *task.Task) ([]byte, error) {
	var analyzed diff.Result
	if err := loadStageResult(ctx, s.store, t.ID, task.StageAnalysis, &analyzed); err != nil {
		return nil, err
	}

	elaboration, err := s.elaborator.Elaborate(ctx, renderChangeSummary(&analyzed))
	if err != nil {
		return nil, err
	}
	return json.Marshal(elaboration)
}

// loadStageResult fetches and unmarshals a stored stage result.
func loadStageResult(ctx context.Context, store task.Store, taskID string, stage task.Stage, out any) error {
	payload, err := store.GetStageResult(ctx, taskID, stage)
	if err != nil {
		return fmt.Errorf("load %s result: %w", stage, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", stage, err)
	}
	return nil
}

// renderChangeSummary flattens a diff result into the elaboration
// prompt input. Unchanged chunks are omitted; unclassified chunks are
// named so the narrative can flag them.
func renderChangeSummary(result *diff.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document %s version %s\n\n", result.DocumentID, result.Version)

	for _, record := range result.Records {
		if record.Type == diff.ChangeUnchanged {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s", record.Type, record.Title)
		if record.Reason != "" {
			fmt.Fprintf(&b, ": %s", record.Reason)
		}
		b.WriteString("\n")
		for _, item := range record.Items {
			fmt.Fprintf(&b, "  - %s", item)
			if detail, ok := record.Details[item]; ok {
				fmt.Fprintf(&b, " (%s)", detail)
			}
			b.WriteString("\n")
		}
		if record.DeletedItem != "" {
			fmt.Fprintf(&b, "  - removed: %s\n", record.DeletedItem)
		}
	}

	if len(result.Errors) > 0 {
		b.WriteString("\nUnclassified sections:\n")
		for _, chunkErr := range result.Errors {
			fmt.Fprintf(&b, "  - %s: %s\n", chunkErr.Title, chunkErr.Error)
		}
	}

	return b.String()
}

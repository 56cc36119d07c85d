package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/docdelta/corpus"
	"github.com/c360studio/docdelta/intake"
	"github.com/c360studio/docdelta/progress"
	"github.com/c360studio/docdelta/report"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
	"github.com/c360studio/docdelta/task"
)

func analyzeCmd(configPath, logLevel *string) *cobra.Command {
	var (
		baselines       []string
		baselineVersion string
		docVersion      string
		format          string
		outputPath      string
	)

	cmd := &cobra.Command{
		Use:   "analyze <document>",
		Short: "Analyze one document locally",
		Long: `Runs the full pipeline in-process with in-memory stores, no NATS
required. Baseline files are ingested into a throwaway corpus first,
then the document is classified against them.

A filename stem of the form "name@v2.md" sets the document version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			outFormat, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			store := task.NewMemStore()
			index := corpus.NewMemIndex()
			broadcaster := progress.NewLocalBroadcaster(store)

			embedder, err := embeddingClient(cfg, logger)
			if err != nil {
				return err
			}

			if len(baselines) > 0 {
				ch, err := chunker.New(cfg.ChunkerConfig())
				if err != nil {
					return fmt.Errorf("create chunker: %w", err)
				}
				ing, err := corpus.NewIngestor(parser.NewRegistry(), ch, embedder, index,
					corpus.WithIngestorLogger(logger))
				if err != nil {
					return fmt.Errorf("create ingestor: %w", err)
				}
				for _, path := range baselines {
					stored, err := ing.IngestFile(ctx, path, baselineVersion)
					if err != nil {
						return fmt.Errorf("ingest baseline %s: %w", path, err)
					}
					logger.Info("Ingested baseline", "path", path, "chunks", stored)
				}
			}

			orch, err := buildOrchestrator(cfg, store, index, broadcaster, logger)
			if err != nil {
				return err
			}

			doc, err := readDocument(args[0], docVersion)
			if err != nil {
				return err
			}

			t, err := orch.Submit(ctx, doc)
			if err != nil {
				return fmt.Errorf("submit document: %w", err)
			}

			if err := orch.RunAll(ctx, t.ID); err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}

			rep, err := report.Load(ctx, store, t.ID)
			if err != nil {
				return fmt.Errorf("load report: %w", err)
			}

			out, err := report.Render(rep, outFormat)
			if err != nil {
				return err
			}

			if outputPath != "" {
				return os.WriteFile(outputPath, out, 0644)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&baselines, "baseline", "b", nil, "Baseline document file (repeatable)")
	cmd.Flags().StringVar(&baselineVersion, "baseline-version", "v1", "Version tag for baseline documents")
	cmd.Flags().StringVar(&docVersion, "doc-version", "", "Version of the analyzed document (default from filename tag, else v2)")
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatText), "Output format (json, markdown, text)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to a file instead of stdout")

	return cmd
}

// readDocument loads a document file for submission. An "@version"
// filename tag wins over the flag.
func readDocument(path, flagVersion string) (source.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return source.Document{}, fmt.Errorf("read document: %w", err)
	}

	name, version := intake.SplitVersion(filepath.Base(path))
	if version == "" {
		version = flagVersion
	}
	if version == "" {
		version = "v2"
	}

	return source.Document{
		ID:          source.GenerateID(name, content),
		Filename:    name,
		Version:     version,
		Content:     string(content),
		SubmittedAt: time.Now().UTC(),
	}, nil
}


package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/docdelta/corpus"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
)

func corpusCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the historical corpus",
	}

	cmd.AddCommand(corpusAddCmd(configPath, logLevel))
	return cmd
}

func corpusAddCmd(configPath, logLevel *string) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "add <file-or-glob>...",
		Short: "Ingest documents into the corpus",
		Long: `Parses, chunks, and embeds documents, storing every chunk in the
corpus KV bucket under the given version tag. Arguments may be plain
paths or doublestar globs (e.g. "specs/**/*.md").`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			paths, err := expandArgs(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files match the given arguments")
			}

			nc, err := connectNATS(cfg.NATS.URL, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			index, err := corpus.NewKVIndex(ctx, js)
			if err != nil {
				return fmt.Errorf("create corpus index: %w", err)
			}

			embedder, err := embeddingClient(cfg, logger)
			if err != nil {
				return err
			}

			ch, err := chunker.New(cfg.ChunkerConfig())
			if err != nil {
				return fmt.Errorf("create chunker: %w", err)
			}

			ing, err := corpus.NewIngestor(parser.NewRegistry(), ch, embedder, index,
				corpus.WithIngestorLogger(logger))
			if err != nil {
				return fmt.Errorf("create ingestor: %w", err)
			}

			total := 0
			for _, path := range paths {
				stored, err := ing.IngestFile(ctx, path, version)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				total += stored
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files (version %s)\n",
				total, len(paths), version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&version, "version", "v", "", "Version tag for the ingested documents (required)")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

// expandArgs resolves plain paths and doublestar globs to files.
func expandArgs(args []string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)

	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			// Plain path with no glob match: keep it so the read error
			// names the missing file.
			matches = []string{arg}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}

	return paths, nil
}

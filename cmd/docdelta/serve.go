package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c360studio/docdelta/api"
	"github.com/c360studio/docdelta/config"
	"github.com/c360studio/docdelta/corpus"
	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/embedding"
	"github.com/c360studio/docdelta/intake"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/pipeline"
	"github.com/c360studio/docdelta/progress"
	"github.com/c360studio/docdelta/source/artifact"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/parser"
	"github.com/c360studio/docdelta/source/webfetch"
	"github.com/c360studio/docdelta/task"
)

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis API server",
		Long: `Starts the HTTP API backed by NATS JetStream. Tasks, stage results,
and the historical corpus live in KV buckets; progress events are
published on NATS subjects so every replica sees them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}
			return runServe(cfg, logger)
		},
	}
}

func runServe(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := connectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := task.NewKVStore(setupCtx, js)
	if err != nil {
		return fmt.Errorf("create task store: %w", err)
	}

	index, err := corpus.NewKVIndex(setupCtx, js)
	if err != nil {
		return fmt.Errorf("create corpus index: %w", err)
	}

	broadcaster, err := progress.NewNATSBroadcaster(nc, store, logger)
	if err != nil {
		return fmt.Errorf("create broadcaster: %w", err)
	}
	defer broadcaster.Close()

	orch, err := buildOrchestrator(cfg, store, index, broadcaster, logger)
	if err != nil {
		return err
	}

	fetcher, err := webfetch.NewFetcher(cfg.Fetch, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	handler, err := api.NewHandler(orch, store, broadcaster,
		api.WithLogger(logger),
		api.WithFetcher(fetcher),
	)
	if err != nil {
		return fmt.Errorf("create API handler: %w", err)
	}

	mux := http.NewServeMux()
	handler.RegisterHTTPHandlers(mux)

	if cfg.Intake.Enabled {
		watcher, err := intake.NewWatcher(cfg.Intake, orch, logger)
		if err != nil {
			return fmt.Errorf("create intake watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start intake watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Docdelta API listening", "addr", cfg.API.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Received shutdown signal")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	logger.Info("Docdelta shutdown complete")
	return nil
}

// buildOrchestrator wires the three pipeline stages from configuration.
func buildOrchestrator(cfg *config.Config, store task.Store, searcher corpus.Searcher, broadcaster progress.Broadcaster, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	embedder, err := embeddingClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	model, err := llm.NewClient(cfg.ModelClientConfig(), llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	engine, err := diff.New(cfg.EngineConfig(), embedder, searcher, model, diff.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create diff engine: %w", err)
	}

	ch, err := documentChunker(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	runners := []pipeline.StageRunner{
		pipeline.NewParsingStage(parser.NewRegistry(), ch),
		pipeline.NewAnalysisStage(engine, store, metrics),
		pipeline.NewElaborationStage(model, store),
	}

	orch, err := pipeline.New(cfg.Pipeline, store, broadcaster, runners,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	return orch, nil
}

// documentChunker builds the chunker, with image extraction when an
// artifacts dir is configured.
func documentChunker(cfg *config.Config, logger *slog.Logger) (*chunker.Chunker, error) {
	opts := []chunker.Option{chunker.WithLogger(logger)}
	if cfg.ArtifactsDir != "" {
		images, err := artifact.NewStore(cfg.ArtifactsDir)
		if err != nil {
			return nil, fmt.Errorf("create artifact store: %w", err)
		}
		opts = append(opts, chunker.WithImageSaver(images))
	}

	ch, err := chunker.New(cfg.ChunkerConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}
	return ch, nil
}

func embeddingClient(cfg *config.Config, logger *slog.Logger) (embedding.Client, error) {
	c, err := embedding.NewHTTPClient(cfg.EmbeddingClientConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return c, nil
}

func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	logger.Info("Connecting to NATS", "url", url)

	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return nc, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

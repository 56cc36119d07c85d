// Package intake watches a drop directory and submits documents that
// appear in it to the analysis pipeline.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

// Submitter accepts documents for processing. *pipeline.Orchestrator
// satisfies this interface.
type Submitter interface {
	Submit(ctx context.Context, doc source.Document) (*task.Task, error)
	RunAll(ctx context.Context, taskID string) error
}

// Config configures the intake directory watcher.
type Config struct {
	// Enabled controls whether file watching is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Dir is the directory to watch for dropped documents.
	Dir string `json:"dir" yaml:"dir"`

	// DebounceDelay is how long to wait for more changes before submitting.
	DebounceDelay string `json:"debounce_delay" yaml:"debounce_delay"`

	// Patterns lists doublestar glob patterns matched against paths
	// relative to Dir (e.g. ["**/*.md", "specs/**/*.html"]).
	Patterns []string `json:"patterns" yaml:"patterns"`

	// ExcludeDirs lists directory names to skip.
	ExcludeDirs []string `json:"exclude_dirs" yaml:"exclude_dirs"`

	// DefaultVersion is assigned to documents whose filename carries no
	// version tag. A stem suffix of the form "name@v2.md" overrides it.
	DefaultVersion string `json:"default_version" yaml:"default_version"`
}

// DefaultConfig returns default intake configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Dir:            "intake",
		DebounceDelay:  "500ms",
		Patterns:       []string{"**/*.md", "**/*.txt", "**/*.html"},
		ExcludeDirs:    []string{".git", "node_modules", "vendor"},
		DefaultVersion: "v1",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("intake dir is required")
	}
	if c.DebounceDelay != "" {
		if _, err := time.ParseDuration(c.DebounceDelay); err != nil {
			return fmt.Errorf("invalid debounce_delay: %w", err)
		}
	}
	for _, p := range c.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern: %s", p)
		}
	}
	return nil
}

// GetDebounceDelay returns the debounce delay as a duration.
func (c *Config) GetDebounceDelay() time.Duration {
	if c.DebounceDelay == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(c.DebounceDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

const eventChannelBuffer = 500

// Submission records one document handed to the pipeline.
type Submission struct {
	// Path is the file path relative to the intake directory.
	Path string

	// TaskID is the pipeline task created for the document.
	TaskID string

	// Version is the document version that was submitted.
	Version string
}

// Watcher watches the intake directory and submits changed documents.
type Watcher struct {
	config    Config
	dir       string
	watcher   *fsnotify.Watcher
	submitter Submitter
	logger    *slog.Logger
	patterns  []string
	excludes  map[string]bool

	// Debouncing: collect changes before submitting
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Hash-based change detection
	hashMu sync.RWMutex
	hashes map[string]string

	// Completed submissions, for observers
	submissions chan Submission

	droppedEvents atomic.Int64
}

// NewWatcher creates an intake watcher. The submitter receives every
// document that matches the configured patterns.
func NewWatcher(config Config, submitter Submitter, logger *slog.Logger) (*Watcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	patterns := config.Patterns
	if len(patterns) == 0 {
		patterns = DefaultConfig().Patterns
	}

	excludes := make(map[string]bool)
	dirs := config.ExcludeDirs
	if len(dirs) == 0 {
		dirs = DefaultConfig().ExcludeDirs
	}
	for _, dir := range dirs {
		excludes[dir] = true
	}

	return &Watcher{
		config:      config,
		dir:         config.Dir,
		watcher:     fsw,
		submitter:   submitter,
		logger:      logger.With("component", "intake"),
		patterns:    patterns,
		excludes:    excludes,
		pending:     make(map[string]fsnotify.Op),
		hashes:      make(map[string]string),
		submissions: make(chan Submission, eventChannelBuffer),
	}, nil
}

// Submissions returns the channel of completed submissions.
func (w *Watcher) Submissions() <-chan Submission {
	return w.submissions
}

// Start begins watching the intake directory for changes.
func (w *Watcher) Start(ctx context.Context) error {
	// Create intake directory if it doesn't exist
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Intake watcher started",
		"dir", w.dir,
		"debounce", w.config.GetDebounceDelay(),
		"patterns", w.patterns)

	return nil
}

// Stop stops the watcher.
// The submissions channel is closed by processEvents when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SetHash records the content hash for a file.
func (w *Watcher) SetHash(path, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[path] = hash
}

// GetHash returns the recorded content hash for a file.
func (w *Watcher) GetHash(path string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	hash, ok := w.hashes[path]
	return hash, ok
}

// DroppedEvents returns the number of submissions dropped due to
// channel overflow.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// matches reports whether a path relative to the intake directory is
// covered by any configured pattern.
func (w *Watcher) matches(relPath string) bool {
	slashed := filepath.ToSlash(relPath)
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

// addWatchesRecursive adds watches to all directories under root.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			return nil
		}

		// Skip excluded and hidden directories
		base := filepath.Base(path)
		if w.excludes[base] || (strings.HasPrefix(base, ".") && base != "." && path != root) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}

		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.submissions)
	ticker := time.NewTicker(w.config.GetDebounceDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent processes a single fsnotify event.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	relPath, err := filepath.Rel(w.dir, path)
	if err != nil {
		return
	}

	if !w.matches(relPath) {
		// But handle directory creation (for new watches)
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.handleNewDirectory(path)
			}
		}
		return
	}

	// Skip files in excluded directories
	for excludeDir := range w.excludes {
		if strings.Contains(relPath, excludeDir+string(filepath.Separator)) {
			return
		}
	}

	w.pendingMu.Lock()
	w.pending[path] = event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Document change detected",
		"path", relPath,
		"op", event.Op.String())
}

// handleNewDirectory adds a watch to a newly created directory.
func (w *Watcher) handleNewDirectory(path string) {
	base := filepath.Base(path)
	if w.excludes[base] || strings.HasPrefix(base, ".") {
		return
	}

	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory",
			"path", path,
			"error", err)
	} else {
		w.logger.Debug("Added watch for new directory", "path", path)
	}
}

// flushPending submits accumulated changes.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}

	toProcess := make(map[string]fsnotify.Op)
	for k, v := range w.pending {
		toProcess[k] = v
	}
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relPath, _ := filepath.Rel(w.dir, path)

		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			// Deletions are detected from document content, not from
			// file removal; just forget the hash.
			w.hashMu.Lock()
			delete(w.hashes, relPath)
			w.hashMu.Unlock()
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("Failed to read file",
				"path", relPath,
				"error", err)
			continue
		}

		newHash := source.ContentHash(content)

		oldHash, hadHash := w.GetHash(relPath)
		if hadHash && oldHash == newHash {
			continue
		}
		w.SetHash(relPath, newHash)

		w.submit(ctx, relPath, content)
	}
}

// submit hands one document to the pipeline and kicks off all stages.
func (w *Watcher) submit(ctx context.Context, relPath string, content []byte) {
	filename := filepath.Base(relPath)
	name, version := SplitVersion(filename)
	if version == "" {
		version = w.config.DefaultVersion
		if version == "" {
			version = "v1"
		}
	}

	doc := source.Document{
		ID:          source.GenerateID(name, content),
		Filename:    name,
		Version:     version,
		Content:     string(content),
		SubmittedAt: time.Now().UTC(),
	}

	t, err := w.submitter.Submit(ctx, doc)
	if err != nil {
		w.logger.Error("Failed to submit document",
			"path", relPath,
			"error", err)
		return
	}

	w.logger.Info("Submitted document",
		"path", relPath,
		"task_id", t.ID,
		"version", version)

	// Run the pipeline detached: stage execution outlives the debounce
	// tick and must not block further intake.
	go func() {
		if err := w.submitter.RunAll(context.Background(), t.ID); err != nil {
			w.logger.Error("Pipeline run failed",
				"task_id", t.ID,
				"error", err)
		}
	}()

	w.sendSubmission(Submission{Path: relPath, TaskID: t.ID, Version: version})
}

// sendSubmission records a submission without blocking.
func (w *Watcher) sendSubmission(s Submission) {
	select {
	case w.submissions <- s:
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("Submission channel full, dropping record",
			"path", s.Path,
			"total_dropped", dropped)
	}
}

// SplitVersion separates a "name@version.ext" filename into the plain
// filename and the version tag. Filenames without a tag return an
// empty version.
func SplitVersion(filename string) (name, version string) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	at := strings.LastIndex(stem, "@")
	if at <= 0 || at == len(stem)-1 {
		return filename, ""
	}

	return stem[:at] + ext, stem[at+1:]
}

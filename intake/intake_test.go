package intake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	docs  []source.Document
	runs  []string
	runWg sync.WaitGroup
}

func (f *fakeSubmitter) Submit(_ context.Context, doc source.Document) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	f.runWg.Add(1)
	return task.New(doc), nil
}

func (f *fakeSubmitter) RunAll(_ context.Context, taskID string) error {
	f.mu.Lock()
	f.runs = append(f.runs, taskID)
	f.mu.Unlock()
	f.runWg.Done()
	return nil
}

func (f *fakeSubmitter) documents() []source.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]source.Document, len(f.docs))
	copy(out, f.docs)
	return out
}

func (f *fakeSubmitter) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func testWatcher(t *testing.T, dir string, sub Submitter) *Watcher {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.DebounceDelay = "50ms"

	w, err := NewWatcher(cfg, sub, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Dir = ""
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Dir = "intake"
	bad.DebounceDelay = "not-a-duration"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Dir = "intake"
	bad.Patterns = []string{"[unclosed"}
	assert.Error(t, bad.Validate())
}

func TestConfigGetDebounceDelay(t *testing.T) {
	tests := []struct {
		name   string
		delay  string
		expect time.Duration
	}{
		{name: "valid duration", delay: "100ms", expect: 100 * time.Millisecond},
		{name: "empty uses default", delay: "", expect: 500 * time.Millisecond},
		{name: "invalid uses default", delay: "bogus", expect: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{DebounceDelay: tt.delay}
			assert.Equal(t, tt.expect, cfg.GetDebounceDelay())
		})
	}
}

func TestSplitVersion(t *testing.T) {
	tests := []struct {
		filename string
		name     string
		version  string
	}{
		{filename: "requirements@v2.md", name: "requirements.md", version: "v2"},
		{filename: "billing@2024-06.txt", name: "billing.txt", version: "2024-06"},
		{filename: "plain.md", name: "plain.md", version: ""},
		{filename: "@v1.md", name: "@v1.md", version: ""},
		{filename: "trailing@.md", name: "trailing@.md", version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			name, version := SplitVersion(tt.filename)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestNewWatcherRequiresSubmitter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	_, err := NewWatcher(cfg, nil, nil)
	assert.Error(t, err)
}

func TestWatcherSubmitsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := testWatcher(t, dir, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	content := []byte("# 用户登录\n\n用户名与密码登录。\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login@v3.md"), content, 0644))

	select {
	case s := <-w.Submissions():
		assert.Equal(t, "login@v3.md", s.Path)
		assert.Equal(t, "v3", s.Version)
		assert.NotEmpty(t, s.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for submission")
	}

	sub.runWg.Wait()

	docs := sub.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "login.md", docs[0].Filename)
	assert.Equal(t, "v3", docs[0].Version)
	assert.Equal(t, string(content), docs[0].Content)
	assert.Equal(t, 1, sub.runCount())
}

func TestWatcherDefaultVersion(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := testWatcher(t, dir, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))

	select {
	case s := <-w.Submissions():
		assert.Equal(t, "v1", s.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for submission")
	}
}

func TestWatcherIgnoresUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := testWatcher(t, dir, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.pdf"), []byte("%PDF"), 0644))

	select {
	case s := <-w.Submissions():
		t.Fatalf("unexpected submission: %+v", s)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, sub.documents())
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	w := testWatcher(t, dir, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	content := []byte("# stable content")
	path := filepath.Join(dir, "stable.md")
	require.NoError(t, os.WriteFile(path, content, 0644))

	select {
	case <-w.Submissions():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first submission")
	}

	// Rewrite with identical bytes: the hash check should suppress it.
	require.NoError(t, os.WriteFile(path, content, 0644))

	select {
	case s := <-w.Submissions():
		t.Fatalf("unexpected submission for unchanged content: %+v", s)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Len(t, sub.documents(), 1)
}

func TestWatcherIgnoresExcludedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))

	sub := &fakeSubmitter{}
	w := testWatcher(t, dir, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "notes.md"), []byte("# hidden"), 0644))

	select {
	case s := <-w.Submissions():
		t.Fatalf("unexpected submission from excluded directory: %+v", s)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherHashBookkeeping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	w, err := NewWatcher(cfg, &fakeSubmitter{}, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.SetHash("file.md", "abc123")

	hash, ok := w.GetHash("file.md")
	require.True(t, ok)
	assert.Equal(t, "abc123", hash)

	_, ok = w.GetHash("missing.md")
	assert.False(t, ok)

	assert.Equal(t, int64(0), w.DroppedEvents())
}

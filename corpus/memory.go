package corpus

import (
	"context"
	"sync"
)

// MemIndex is an in-memory corpus index. It backs one-shot local
// analysis runs and tests; the KV index is the durable production path.
type MemIndex struct {
	mu     sync.RWMutex
	chunks map[string]HistoricalChunk
}

// NewMemIndex creates an empty in-memory corpus index.
func NewMemIndex() *MemIndex {
	return &MemIndex{chunks: make(map[string]HistoricalChunk)}
}

// Put stores a historical chunk, keyed by ref.
func (m *MemIndex) Put(_ context.Context, chunk HistoricalChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.Ref] = chunk
	return nil
}

// Nearest returns the top-k chunks by cosine similarity.
func (m *MemIndex) Nearest(_ context.Context, vector []float32, k int) ([]Match, error) {
	m.mu.RLock()
	all := make([]HistoricalChunk, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		all = append(all, chunk)
	}
	m.mu.RUnlock()

	return rank(all, vector, k)
}

// FindByTitle looks up a chunk by normalized title, preferring the most
// recent version.
func (m *MemIndex) FindByTitle(_ context.Context, title string) (*HistoricalChunk, error) {
	want := NormalizeTitle(title)
	if want == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *HistoricalChunk
	for _, chunk := range m.chunks {
		if NormalizeTitle(chunk.Title) != want {
			continue
		}
		c := chunk
		if best == nil || CompareVersions(c.Version, best.Version) > 0 {
			best = &c
		}
	}

	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// Len returns the number of stored chunks.
func (m *MemIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketCorpus is the KV bucket holding historical chunks.
const BucketCorpus = "DOCDELTA_CORPUS"

// KVIndex is a corpus index backed by NATS JetStream KV. The scan in
// Nearest is linear over the bucket; corpora here are per-project
// document histories, not web-scale collections.
type KVIndex struct {
	kv jetstream.KeyValue
}

// NewKVIndex creates a KV-backed corpus index, creating the bucket if
// it does not exist.
func NewKVIndex(ctx context.Context, js jetstream.JetStream) (*KVIndex, error) {
	kv, err := js.KeyValue(ctx, BucketCorpus)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketCorpus,
			Description: "Docdelta historical chunk corpus",
		})
		if err != nil {
			return nil, fmt.Errorf("create corpus bucket: %w", err)
		}
	}
	return &KVIndex{kv: kv}, nil
}

// Put stores a historical chunk keyed by its ref.
func (x *KVIndex) Put(ctx context.Context, chunk HistoricalChunk) error {
	if chunk.Ref == "" {
		return fmt.Errorf("chunk ref is required")
	}
	if chunk.IngestedAt.IsZero() {
		chunk.IngestedAt = time.Now()
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal historical chunk: %w", err)
	}

	if _, err := x.kv.Put(ctx, encodeKey(chunk.Ref), data); err != nil {
		return fmt.Errorf("store historical chunk: %w", err)
	}
	return nil
}

// Nearest returns the top-k historical chunks by cosine similarity.
func (x *KVIndex) Nearest(ctx context.Context, vector []float32, k int) ([]Match, error) {
	all, err := x.load(ctx)
	if err != nil {
		return nil, err
	}
	return rank(all, vector, k)
}

// FindByTitle looks up a chunk by normalized title, preferring the most
// recent version.
func (x *KVIndex) FindByTitle(ctx context.Context, title string) (*HistoricalChunk, error) {
	want := NormalizeTitle(title)
	if want == "" {
		return nil, ErrNotFound
	}

	all, err := x.load(ctx)
	if err != nil {
		return nil, err
	}

	var best *HistoricalChunk
	for i := range all {
		if NormalizeTitle(all[i].Title) != want {
			continue
		}
		if best == nil || CompareVersions(all[i].Version, best.Version) > 0 {
			best = &all[i]
		}
	}

	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// load reads every chunk in the bucket.
func (x *KVIndex) load(ctx context.Context) ([]HistoricalChunk, error) {
	keys, err := x.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list corpus keys: %w", err)
	}

	chunks := make([]HistoricalChunk, 0, len(keys))
	for _, key := range keys {
		entry, err := x.kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var chunk HistoricalChunk
		if err := json.Unmarshal(entry.Value(), &chunk); err != nil {
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// encodeKey makes a chunk ref safe for use as a NATS KV key.
func encodeKey(ref string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, ref)
}

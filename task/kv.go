package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names.
const (
	BucketTasks        = "DOCDELTA_TASKS"
	BucketStageResults = "DOCDELTA_STAGE_RESULTS"
)

// KVStore persists tasks and stage results in NATS JetStream KV. Stage
// results are keyed "<taskID>.<stage>" so each (task, stage) pair is
// one KV entry and a re-run overwrites exactly that entry.
type KVStore struct {
	tasks   jetstream.KeyValue
	results jetstream.KeyValue
}

// NewKVStore creates a KV-backed store, creating buckets as needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	tasks, err := getOrCreateBucket(ctx, js, BucketTasks, "Docdelta analysis tasks")
	if err != nil {
		return nil, fmt.Errorf("create tasks bucket: %w", err)
	}
	results, err := getOrCreateBucket(ctx, js, BucketStageResults, "Docdelta stage results")
	if err != nil {
		return nil, fmt.Errorf("create stage results bucket: %w", err)
	}
	return &KVStore{tasks: tasks, results: results}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     5,
	})
}

// CreateTask stores a new task.
func (s *KVStore) CreateTask(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.tasks.Create(ctx, t.ID, data); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *KVStore) GetTask(ctx context.Context, id string) (*Task, error) {
	entry, err := s.tasks.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

// UpdateTask replaces the stored task. Last writer wins.
func (s *KVStore) UpdateTask(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.tasks.Put(ctx, t.ID, data); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// ListTasks returns all stored tasks.
func (s *KVStore) ListTasks(ctx context.Context) ([]*Task, error) {
	keys, err := s.tasks.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list task keys: %w", err)
	}

	tasks := make([]*Task, 0, len(keys))
	for _, key := range keys {
		entry, err := s.tasks.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var t Task
		if err := json.Unmarshal(entry.Value(), &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// PutStageResult stores a stage result, replacing any previous one.
func (s *KVStore) PutStageResult(ctx context.Context, taskID string, stage Stage, payload []byte) error {
	if _, err := s.results.Put(ctx, resultKey(taskID, stage), payload); err != nil {
		return fmt.Errorf("store stage result: %w", err)
	}
	return nil
}

// GetStageResult retrieves a stage result payload.
func (s *KVStore) GetStageResult(ctx context.Context, taskID string, stage Stage) ([]byte, error) {
	entry, err := s.results.Get(ctx, resultKey(taskID, stage))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stage result: %w", err)
	}
	return entry.Value(), nil
}

func resultKey(taskID string, stage Stage) string {
	return taskID + "." + string(stage)
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

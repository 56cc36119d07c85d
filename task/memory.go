package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for one-shot runs and tests. Values
// round-trip through JSON so stored tasks are snapshots, matching KV
// semantics.
type MemStore struct {
	mu      sync.RWMutex
	tasks   map[string][]byte
	results map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:   make(map[string][]byte),
		results: make(map[string][]byte),
	}
}

// CreateTask stores a new task. Fails if the ID already exists.
func (s *MemStore) CreateTask(_ context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = data
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	data, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

// UpdateTask replaces the stored task.
func (s *MemStore) UpdateTask(_ context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	s.mu.Lock()
	s.tasks[t.ID] = data
	s.mu.Unlock()
	return nil
}

// ListTasks returns all stored tasks.
func (s *MemStore) ListTasks(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, data := range s.tasks {
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// PutStageResult stores a stage result, replacing any previous one.
func (s *MemStore) PutStageResult(_ context.Context, taskID string, stage Stage, payload []byte) error {
	s.mu.Lock()
	s.results[resultKey(taskID, stage)] = append([]byte(nil), payload...)
	s.mu.Unlock()
	return nil
}

// GetStageResult retrieves a stage result payload.
func (s *MemStore) GetStageResult(_ context.Context, taskID string, stage Stage) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.results[resultKey(taskID, stage)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

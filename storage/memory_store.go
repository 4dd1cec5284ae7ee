// storage/memory_store.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chhz0/taskd/types"
)

type MemoryStorage struct {
	tasks map[string]*types.Task
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[string]*types.Task),
	}
}

func (s *MemoryStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStorage) Put(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = normalize(task)
	return nil
}

func (s *MemoryStorage) Create(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrTaskExists
	}
	s.tasks[task.ID] = normalize(task)
	return nil
}

func (s *MemoryStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[u.TaskID]
	if !exists {
		return ErrTaskNotFound
	}
	next := task.Clone()
	if err := u.apply(next); err != nil {
		return err
	}
	s.tasks[u.TaskID] = next
	return nil
}

func (s *MemoryStorage) QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error) {
	now = types.Canonical(now)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Task
	for _, t := range s.tasks {
		if t.Status == status && !t.RunAt.After(now) {
			result = append(result, t.Clone())
		}
	}
	sortByRunAt(result)
	return result, nil
}

func (s *MemoryStorage) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status == "" || t.Status == status {
			result = append(result, t.Clone())
		}
	}
	sortByRunAt(result)
	return result, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists || !task.RunAt.Equal(types.Canonical(runAt)) {
		return ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// sortByRunAt orders tasks earliest first, ties broken by id.
func sortByRunAt(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})
}

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/chhz0/taskd/types"
)

const minCacheCounters = 1000

// CachedStorage serves Get from an in-process ristretto cache and drops the
// entry on every write to the same task.
type CachedStorage struct {
	Storage
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration

	// mu orders cache fills against invalidations. writes counts completed
	// writes; a Get that saw it change while reading does not fill.
	mu     sync.Mutex
	writes uint64
}

func NewCachedStorage(inner Storage, maxCostBytes int64, ttl time.Duration) (*CachedStorage, error) {
	counters := maxCostBytes / 100 * 10 // ~10x expected items
	if counters < minCacheCounters {
		counters = minCacheCounters
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStorage{Storage: inner, cache: c, ttl: ttl}, nil
}

func (s *CachedStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	if data, ok := s.cache.Get(taskID); ok {
		if task, err := types.DeserializeTask(data); err == nil {
			return task, nil
		}
		s.cache.Del(taskID)
	}

	s.mu.Lock()
	seen := s.writes
	s.mu.Unlock()

	task, err := s.Storage.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	data, err := task.Serialize()
	if err != nil {
		return task, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == seen {
		s.cache.SetWithTTL(taskID, data, int64(len(data)), s.ttl)
		// flush the set buffer so a later Del cannot be overtaken by it
		s.cache.Wait()
	}
	return task, nil
}

// invalidate runs after every write, successful or not.
func (s *CachedStorage) invalidate(taskID string) {
	s.mu.Lock()
	s.writes++
	s.cache.Del(taskID)
	s.mu.Unlock()
}

func (s *CachedStorage) Put(ctx context.Context, task *types.Task) error {
	defer s.invalidate(task.ID)
	return s.Storage.Put(ctx, task)
}

func (s *CachedStorage) Create(ctx context.Context, task *types.Task) error {
	defer s.invalidate(task.ID)
	return s.Storage.Create(ctx, task)
}

func (s *CachedStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	defer s.invalidate(u.TaskID)
	return s.Storage.UpdateStatus(ctx, u)
}

func (s *CachedStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	defer s.invalidate(taskID)
	return s.Storage.Delete(ctx, taskID, runAt)
}

func (s *CachedStorage) Close() error {
	s.cache.Close()
	return s.Storage.Close()
}

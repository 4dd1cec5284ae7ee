// storage/redis_store.go
package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/chhz0/taskd/types"
)

// RedisStorage keeps each task as a JSON string under prefix+"task:"+id and
// indexes ids per status in a sorted set scored by run_at (unix seconds).
type RedisStorage struct {
	client *redis.Client
	prefix string
}

func NewRedisStorage(addr, password string, db int, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "taskd:"
	}
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
	}
}

func (s *RedisStorage) key(id string) string {
	return s.prefix + "task:" + id
}

func (s *RedisStorage) index(status types.TaskStatus) string {
	return s.prefix + "status:" + string(status)
}

// Ping verifies the connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DeserializeTask(data)
}

func (s *RedisStorage) Put(ctx context.Context, task *types.Task) error {
	t := normalize(task)
	key := s.key(t.ID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := s.load(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
		return s.write(ctx, tx, old, t)
	}, key)
}

func (s *RedisStorage) Create(ctx context.Context, task *types.Task) error {
	t := normalize(task)
	key := s.key(t.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrTaskExists
		}
		return s.write(ctx, tx, nil, t)
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrTaskExists
	}
	return err
}

func (s *RedisStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	key := s.key(u.TaskID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next := old.Clone()
		if err := u.apply(next); err != nil {
			return err
		}
		return s.write(ctx, tx, old, next)
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStatusConflict
	}
	return err
}

func (s *RedisStorage) QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.index(status), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(types.Canonical(now).Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	// the index may briefly lag a concurrent write
	due := tasks[:0]
	for _, t := range tasks {
		if t.Status == status && !t.RunAt.After(types.Canonical(now)) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *RedisStorage) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	statuses := types.Statuses
	if status != "" {
		statuses = []types.TaskStatus{status}
	}
	var ids []string
	for _, st := range statuses {
		got, err := s.client.ZRange(ctx, s.index(st), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	tasks, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByRunAt(tasks)
	return tasks, nil
}

func (s *RedisStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	key := s.key(taskID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if !old.RunAt.Equal(types.Canonical(runAt)) {
			return ErrTaskNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.index(old.Status), old.ID)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) load(ctx context.Context, tx *redis.Tx, key string) (*types.Task, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DeserializeTask(data)
}

// write stores next and moves its index entry from old's status, if any.
func (s *RedisStorage) write(ctx context.Context, tx *redis.Tx, old, next *types.Task) error {
	data, err := next.Serialize()
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(next.ID), data, 0)
		if old != nil && old.Status != next.Status {
			pipe.ZRem(ctx, s.index(old.Status), old.ID)
		}
		pipe.ZAdd(ctx, s.index(next.Status), &redis.Z{
			Score:  float64(next.RunAt.Unix()),
			Member: next.ID,
		})
		return nil
	})
	return err
}

func (s *RedisStorage) loadMany(ctx context.Context, ids []string) ([]*types.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // deleted between index read and fetch
		}
		task, err := types.DeserializeTask([]byte(str))
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

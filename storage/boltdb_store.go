// storage/boltdb_store.go
package storage

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chhz0/taskd/types"
)

var (
	taskBucket = []byte("tasks")
)

// BoltStorage keeps one JSON document per task id. QueryDue scans the
// bucket, which suits the single-node embedded deployment it targets.
type BoltStorage struct {
	db *bolt.DB
}

func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(taskBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(taskBucket).Get([]byte(taskID))
		if data == nil {
			return ErrTaskNotFound
		}
		var err error
		task, err = types.DeserializeTask(data)
		return err
	})
	return task, err
}

func (s *BoltStorage) Put(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTask(tx.Bucket(taskBucket), normalize(task))
	})
}

func (s *BoltStorage) Create(ctx context.Context, task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(taskBucket)
		if b.Get([]byte(task.ID)) != nil {
			return ErrTaskExists
		}
		return putTask(b, normalize(task))
	})
}

func (s *BoltStorage) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(taskBucket)
		data := b.Get([]byte(u.TaskID))
		if data == nil {
			return ErrTaskNotFound
		}

		task, err := types.DeserializeTask(data)
		if err != nil {
			return err
		}
		if err := u.apply(task); err != nil {
			return err
		}
		return putTask(b, task)
	})
}

func (s *BoltStorage) QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error) {
	now = types.Canonical(now)
	return s.scan(func(t *types.Task) bool {
		return t.Status == status && !t.RunAt.After(now)
	})
}

func (s *BoltStorage) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	return s.scan(func(t *types.Task) bool {
		return status == "" || t.Status == status
	})
}

func (s *BoltStorage) scan(match func(*types.Task) bool) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(taskBucket).ForEach(func(k, v []byte) error {
			task, err := types.DeserializeTask(v)
			if err != nil {
				return nil // skip undecodable records
			}
			if match(task) {
				tasks = append(tasks, task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByRunAt(tasks)
	return tasks, nil
}

func (s *BoltStorage) Delete(ctx context.Context, taskID string, runAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(taskBucket)
		data := b.Get([]byte(taskID))
		if data == nil {
			return ErrTaskNotFound
		}
		task, err := types.DeserializeTask(data)
		if err != nil {
			return err
		}
		if !task.RunAt.Equal(types.Canonical(runAt)) {
			return ErrTaskNotFound
		}
		return b.Delete([]byte(taskID))
	})
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func putTask(b *bolt.Bucket, task *types.Task) error {
	data, err := task.Serialize()
	if err != nil {
		return err
	}
	return b.Put([]byte(task.ID), data)
}

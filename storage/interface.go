package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chhz0/taskd/types"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrStatusConflict    = errors.New("task status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StatusUpdate is a conditional partial write of the status fields of one
// task instance. It applies only while the stored status equals From.
// ErrorMessage is written only when To is failed.
type StatusUpdate struct {
	TaskID       string
	RunAt        time.Time
	From         types.TaskStatus
	To           types.TaskStatus
	ErrorMessage string
	At           time.Time
}

// Storage is the task store the engine runs against. Every operation is
// scoped to a single task instance.
type Storage interface {
	Get(ctx context.Context, taskID string) (*types.Task, error)
	// Put inserts or fully replaces a task.
	Put(ctx context.Context, task *types.Task) error
	// Create inserts a task, returning ErrTaskExists if the id is taken.
	Create(ctx context.Context, task *types.Task) error
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	// QueryDue returns tasks in status whose run_at <= now, earliest first.
	QueryDue(ctx context.Context, status types.TaskStatus, now time.Time) ([]*types.Task, error)
	// List returns all tasks, or only those in status when it is non-empty.
	List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error)
	Delete(ctx context.Context, taskID string, runAt time.Time) error
	Close() error
}

func (u StatusUpdate) validate() error {
	if !types.CanTransition(u.From, u.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.From, u.To)
	}
	return nil
}

// apply checks the stored task against u and mutates it in place.
func (u StatusUpdate) apply(task *types.Task) error {
	if !types.Canonical(task.RunAt).Equal(types.Canonical(u.RunAt)) {
		return ErrTaskNotFound
	}
	if task.Status != u.From {
		if task.Status.Terminal() {
			return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
		}
		return fmt.Errorf("%w: task %s is %s, want %s", ErrStatusConflict, task.ID, task.Status, u.From)
	}
	task.Status = u.To
	task.UpdatedAt = u.at()
	if u.To == types.StatusFailed {
		task.ErrorMessage = u.ErrorMessage
	}
	return nil
}

func (u StatusUpdate) at() time.Time {
	if u.At.IsZero() {
		return types.Canonical(time.Now())
	}
	return types.Canonical(u.At)
}

func (u StatusUpdate) errorMessage() any {
	if u.To != types.StatusFailed {
		return nil
	}
	return u.ErrorMessage
}

// normalize canonicalizes every timestamp of task before it is written.
func normalize(task *types.Task) *types.Task {
	cp := task.Clone()
	cp.RunAt = types.Canonical(cp.RunAt)
	cp.CreatedAt = types.Canonical(cp.CreatedAt)
	cp.UpdatedAt = types.Canonical(cp.UpdatedAt)
	return cp
}

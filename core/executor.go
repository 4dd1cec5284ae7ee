// core/executor.go
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/recurrence"
	"github.com/chhz0/taskd/retry"
	"github.com/chhz0/taskd/storage"
	"github.com/chhz0/taskd/types"
)

// writeTimeout bounds status writes that must outlive a cancelled tick.
const writeTimeout = 10 * time.Second

type ExecutorConfig struct {
	Workers        int
	TickTimeout    time.Duration
	ReconcileAfter time.Duration
	// StatusRetry governs retries of terminal status writes.
	StatusRetry retry.RetryPolicy
}

// TickResult summarizes one tick. Processed counts every due task the
// tick observed, whatever happened to it.
type TickResult struct {
	Processed  int       `json:"processed_count"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Expanded   int       `json:"expanded"`
	Reconciled int       `json:"reconciled"`
	Timestamp  time.Time `json:"timestamp"`
}

type taskOutcome int

const (
	outcomeSkipped taskOutcome = iota
	outcomeCompleted
	outcomeFailed
)

// Executor drives due tasks through scheduled -> running -> terminal and
// expands recurring tasks. It keeps no state between ticks.
type Executor struct {
	store      storage.Storage
	dispatcher *Dispatcher
	pool       *WorkerPool
	retry      *retry.RetryManager
	cfg        ExecutorConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewExecutor(store storage.Storage, dispatcher *Dispatcher, cfg ExecutorConfig, log zerolog.Logger) *Executor {
	log = log.With().Str("component", "executor").Logger()
	return &Executor{
		store:      store,
		dispatcher: dispatcher,
		pool:       NewWorkerPool(cfg.Workers, log),
		retry:      retry.NewRetryManager(cfg.StatusRetry),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Executor) clock() time.Time {
	return types.Canonical(e.now())
}

// Tick runs one pass over the due tasks. Only a failure to query the store
// is returned as an error; per-task failures are counted in the result.
func (e *Executor) Tick(ctx context.Context) (TickResult, error) {
	now := e.clock()
	res := TickResult{Timestamp: now}

	if e.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TickTimeout)
		defer cancel()
	}

	res.Reconciled = e.reconcile(ctx, now)

	due, err := e.store.QueryDue(ctx, types.StatusScheduled, now)
	if err != nil {
		return res, fmt.Errorf("query due tasks: %w", err)
	}
	res.Processed = len(due)
	if len(due) == 0 {
		e.log.Debug().Time("now", now).Msg("no due tasks")
		return res, nil
	}
	e.log.Info().Int("due", len(due)).Time("now", now).Msg("found tasks to execute")

	var mu sync.Mutex
	started := e.pool.Run(ctx, due, func(ctx context.Context, task *types.Task) {
		out, expanded := e.processTask(ctx, task, now)
		mu.Lock()
		defer mu.Unlock()
		switch out {
		case outcomeCompleted:
			res.Completed++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		if expanded {
			res.Expanded++
		}
	})
	res.Skipped += len(due) - started

	e.log.Info().
		Int("processed", res.Processed).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("expanded", res.Expanded).
		Msg("tick finished")
	return res, nil
}

func (e *Executor) processTask(ctx context.Context, task *types.Task, now time.Time) (out taskOutcome, expanded bool) {
	log := e.log.With().
		Str("task_id", task.ID).
		Str("action", string(task.Action)).
		Str("run_at", types.FormatTime(task.RunAt)).
		Logger()

	if !task.Due(now) {
		log.Warn().Msg("task not due, skipping")
		return outcomeSkipped, false
	}

	err := e.store.UpdateStatus(ctx, storage.StatusUpdate{
		TaskID: task.ID,
		RunAt:  task.RunAt,
		From:   types.StatusScheduled,
		To:     types.StatusRunning,
		At:     e.clock(),
	})
	switch {
	case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrInvalidTransition):
		log.Debug().Err(err).Msg("task picked up elsewhere, skipping")
		return outcomeSkipped, false
	case err != nil:
		log.Error().Err(err).Msg("failed to mark task running")
		return outcomeSkipped, false
	}

	running := true
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error().Str("panic", fmt.Sprint(r)).Msg("task processing panicked")
		if !running {
			// terminal status is already recorded
			return
		}
		out, expanded = outcomeSkipped, false
		if e.finish(ctx, task, Failure(fmt.Sprintf("internal error: %v", r)), log) == nil {
			out = outcomeFailed
		}
	}()

	res := e.dispatcher.Dispatch(ctx, task)
	if err := e.finish(ctx, task, res, log); err != nil {
		// the task stays running; reconciliation may fail it later
		return outcomeSkipped, false
	}
	running = false

	if !res.OK() {
		return outcomeFailed, false
	}
	out = outcomeCompleted
	if task.Recurrence != types.RecurrenceNone {
		expanded = e.expand(ctx, task, log)
	}
	return out, expanded
}

// finish writes the terminal status for res. It survives tick cancellation
// so a dispatched task is not left running because the tick ran out of time.
func (e *Executor) finish(ctx context.Context, task *types.Task, res Result, log zerolog.Logger) error {
	u := storage.StatusUpdate{
		TaskID: task.ID,
		RunAt:  task.RunAt,
		From:   types.StatusRunning,
		To:     types.StatusCompleted,
	}
	if !res.OK() {
		u.To = types.StatusFailed
		u.ErrorMessage = res.Reason
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	err := e.retry.Do(wctx, func() error {
		u.At = e.clock()
		return e.store.UpdateStatus(wctx, u)
	}, retryableStoreError)
	if errors.Is(err, storage.ErrInvalidTransition) && e.alreadyApplied(wctx, u) {
		// an earlier attempt committed but its reply was lost
		err = nil
	}
	if err != nil {
		log.Error().Err(err).Str("status", string(u.To)).Msg("failed to record terminal status")
		return err
	}

	if res.OK() {
		log.Info().Msg("task completed")
	} else {
		log.Warn().Str("error_message", res.Reason).Msg("task failed")
	}
	return nil
}

// alreadyApplied reports whether the stored task already holds u's target
// status for the same occurrence.
func (e *Executor) alreadyApplied(ctx context.Context, u storage.StatusUpdate) bool {
	current, err := e.store.Get(ctx, u.TaskID)
	if err != nil {
		return false
	}
	return current.Status == u.To && current.RunAt.Equal(types.Canonical(u.RunAt))
}

// expand inserts the next occurrence of a completed recurring task.
// Inserting an occurrence that already exists is a no-op.
func (e *Executor) expand(ctx context.Context, task *types.Task, log zerolog.Logger) bool {
	succ, err := recurrence.Successor(task, e.clock())
	if err != nil {
		log.Warn().Err(err).Str("recurrence", string(task.Recurrence)).Msg("no successor scheduled")
		return false
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	err = e.retry.Do(wctx, func() error {
		return e.store.Create(wctx, succ)
	}, retryableStoreError)
	switch {
	case errors.Is(err, storage.ErrTaskExists):
		log.Info().Str("successor_id", succ.ID).Msg("next occurrence already scheduled")
		return false
	case err != nil:
		log.Error().Err(err).Str("successor_id", succ.ID).Msg("failed to schedule next occurrence")
		return false
	}
	log.Info().
		Str("successor_id", succ.ID).
		Str("next_run_at", types.FormatTime(succ.RunAt)).
		Msg("scheduled next occurrence")
	return true
}

// reconcile fails running tasks whose last transition is older than
// ReconcileAfter. They are not retried.
func (e *Executor) reconcile(ctx context.Context, now time.Time) int {
	if e.cfg.ReconcileAfter <= 0 {
		return 0
	}
	running, err := e.store.List(ctx, types.StatusRunning)
	if err != nil {
		e.log.Error().Err(err).Msg("list running tasks for reconciliation")
		return 0
	}

	cutoff := now.Add(-e.cfg.ReconcileAfter)
	n := 0
	for _, task := range running {
		if !task.UpdatedAt.Before(cutoff) {
			continue
		}
		err := e.store.UpdateStatus(ctx, storage.StatusUpdate{
			TaskID:       task.ID,
			RunAt:        task.RunAt,
			From:         types.StatusRunning,
			To:           types.StatusFailed,
			ErrorMessage: fmt.Sprintf("abandoned while running: no terminal status since %s", types.FormatTime(task.UpdatedAt)),
			At:           now,
		})
		if err != nil {
			e.log.Warn().Err(err).Str("task_id", task.ID).Msg("reconcile stale task")
			continue
		}
		e.log.Warn().Str("task_id", task.ID).Time("updated_at", task.UpdatedAt).Msg("stale running task marked failed")
		n++
	}
	return n
}

func retryableStoreError(err error) bool {
	return !errors.Is(err, storage.ErrStatusConflict) &&
		!errors.Is(err, storage.ErrInvalidTransition) &&
		!errors.Is(err, storage.ErrTaskNotFound) &&
		!errors.Is(err, storage.ErrTaskExists)
}

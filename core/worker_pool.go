// core/worker_pool.go
package core

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chhz0/taskd/types"
)

// WorkerPool runs a batch of tasks on at most maxWorkers goroutines.
type WorkerPool struct {
	maxWorkers int
	log        zerolog.Logger
}

func NewWorkerPool(maxWorkers int, log zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{maxWorkers: maxWorkers, log: log}
}

// Run calls fn for each task and waits for all of them. Tasks not yet
// started when ctx ends are left alone; the number started is returned.
func (wp *WorkerPool) Run(ctx context.Context, tasks []*types.Task, fn func(ctx context.Context, task *types.Task)) int {
	var g errgroup.Group
	g.SetLimit(wp.maxWorkers)

	started := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		started++
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					wp.log.Error().
						Str("task_id", task.ID).
						Str("panic", fmt.Sprint(r)).
						Str("stack", string(debug.Stack())).
						Msg("worker panicked")
				}
			}()
			fn(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return started
}

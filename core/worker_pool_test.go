package core

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/types"
)

func TestWorkerPoolRunsEveryTask(t *testing.T) {
	tasks := make([]*types.Task, 10)
	for i := range tasks {
		tasks[i] = &types.Task{ID: string(rune('a' + i))}
	}
	var n atomic.Int32
	started := NewWorkerPool(3, zerolog.Nop()).Run(context.Background(), tasks, func(context.Context, *types.Task) {
		n.Add(1)
	})
	if started != 10 || n.Load() != 10 {
		t.Fatalf("started %d, ran %d", started, n.Load())
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	tasks := []*types.Task{{ID: "a"}, {ID: "b"}}
	var n atomic.Int32
	NewWorkerPool(1, zerolog.Nop()).Run(context.Background(), tasks, func(_ context.Context, task *types.Task) {
		n.Add(1)
		if task.ID == "a" {
			panic("boom")
		}
	})
	if n.Load() != 2 {
		t.Fatalf("ran %d tasks, want 2", n.Load())
	}
}

func TestWorkerPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := NewWorkerPool(2, zerolog.Nop()).Run(ctx, []*types.Task{{ID: "a"}}, func(context.Context, *types.Task) {
		t.Error("task ran after cancellation")
	})
	if started != 0 {
		t.Fatalf("started = %d", started)
	}
}

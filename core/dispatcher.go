// core/dispatcher.go
package core

import (
	"context"
	"fmt"

	"github.com/chhz0/taskd/middleware"
	"github.com/chhz0/taskd/types"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Result is the outcome of one dispatch. Reason is set on failure.
type Result struct {
	Outcome Outcome
	Reason  string
}

func Success() Result { return Result{Outcome: OutcomeSuccess} }

func Failure(reason string) Result { return Result{Outcome: OutcomeFailure, Reason: reason} }

func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Dispatcher runs the registered strategy for a task's action through a
// middleware chain. It holds no per-task state.
type Dispatcher struct {
	registry *TaskRegistry
	chain    middleware.Middleware
}

func NewDispatcher(registry *TaskRegistry, mws ...middleware.Middleware) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		chain:    middleware.Chain(mws...),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, task *types.Task) (res Result) {
	strategy, ok := d.registry.Get(task.Action)
	if !ok {
		return Failure(fmt.Sprintf("Unsupported action type: %s", task.Action))
	}

	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Sprintf("panic during %s dispatch: %v", task.Action, r))
		}
	}()

	if err := d.chain(strategy.Execute)(ctx, task); err != nil {
		return Failure(err.Error())
	}
	return Success()
}

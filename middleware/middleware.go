// middleware/middleware.go
package middleware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chhz0/taskd/types"
)

type Handler func(ctx context.Context, task *types.Task) error
type Middleware func(next Handler) Handler

// Chain composes middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Timeout bounds each dispatch with d. Zero disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			if d <= 0 {
				return next(ctx, task)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, task)
		}
	}
}

// Logger logs every dispatch outcome with its duration.
func Logger(log zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			start := time.Now()
			l := log.With().Str("task_id", task.ID).Str("action", string(task.Action)).Logger()
			l.Debug().Msg("dispatch started")

			err := next(ctx, task)

			if err != nil {
				l.Warn().Err(err).Dur("took", time.Since(start)).Msg("dispatch failed")
			} else {
				l.Info().Dur("took", time.Since(start)).Msg("dispatch succeeded")
			}
			return err
		}
	}
}

// RateLimit waits for a token before every dispatch. A nil limiter is a no-op.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, task *types.Task) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return next(ctx, task)
		}
	}
}

// ActionStats aggregates dispatches of one action.
type ActionStats struct {
	Action    types.Action  `json:"action"`
	Succeeded uint64        `json:"succeeded"`
	Failed    uint64        `json:"failed"`
	Total     time.Duration `json:"total_duration_ns"`
	Last      time.Time     `json:"last_dispatch"`
}

// Stats collects per-action dispatch counters.
type Stats struct {
	mu      sync.Mutex
	actions map[types.Action]*ActionStats
}

func NewStats() *Stats {
	return &Stats{actions: make(map[types.Action]*ActionStats)}
}

func (s *Stats) record(action types.Action, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[action]
	if !ok {
		a = &ActionStats{Action: action}
		s.actions[action] = a
	}
	if err != nil {
		a.Failed++
	} else {
		a.Succeeded++
	}
	a.Total += took
	a.Last = time.Now().UTC()
}

// Snapshot returns a copy of the counters ordered by action.
func (s *Stats) Snapshot() []ActionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionStats, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Metrics records per-action outcomes and latency into stats.
func Metrics(stats *Stats) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *types.Task) error {
			start := time.Now()
			err := next(ctx, task)
			stats.record(task.Action, time.Since(start), err)
			return err
		}
	}
}

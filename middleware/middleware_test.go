package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chhz0/taskd/types"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var trace []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, task *types.Task) error {
				trace = append(trace, name+">")
				err := next(ctx, task)
				trace = append(trace, "<"+name)
				return err
			}
		}
	}
	h := Chain(mark("a"), mark("b"))(func(context.Context, *types.Task) error {
		trace = append(trace, "handler")
		return nil
	})
	if err := h(context.Background(), &types.Task{ID: "t"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(trace, " "); got != "a> b> handler <b <a" {
		t.Fatalf("trace = %q", got)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	h := Timeout(10 * time.Millisecond)(func(ctx context.Context, _ *types.Task) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := h(context.Background(), &types.Task{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMetricsAndLogger(t *testing.T) {
	t.Parallel()
	stats := NewStats()
	boom := errors.New("boom")
	h := Chain(Logger(zerolog.Nop()), Metrics(stats))(func(_ context.Context, task *types.Task) error {
		if task.ID == "bad" {
			return boom
		}
		return nil
	})
	_ = h(context.Background(), &types.Task{ID: "ok", Action: types.ActionWebhook})
	if err := h(context.Background(), &types.Task{ID: "bad", Action: types.ActionWebhook}); !errors.Is(err, boom) {
		t.Fatalf("Logger swallowed error: %v", err)
	}
	_ = h(context.Background(), &types.Task{ID: "ok", Action: types.ActionMessage})

	snap := stats.Snapshot()
	if len(snap) != 2 || snap[0].Action != types.ActionMessage || snap[1].Action != types.ActionWebhook {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[1].Succeeded != 1 || snap[1].Failed != 1 {
		t.Fatalf("webhook counters = %+v", snap[1])
	}
}

func TestRateLimitHonorsContext(t *testing.T) {
	t.Parallel()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	h := RateLimit(limiter)(func(context.Context, *types.Task) error { return nil })
	if err := h(context.Background(), &types.Task{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h(ctx, &types.Task{}); err == nil {
		t.Fatal("expected rate limiter to reject when context expires first")
	}
	if RateLimit(nil)(func(context.Context, *types.Task) error { return nil })(context.Background(), &types.Task{}) != nil {
		t.Fatal("nil limiter should pass through")
	}
}

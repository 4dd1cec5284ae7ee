package recurrence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chhz0/taskd/types"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := types.ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime(%q): %v", s, err)
	}
	return ts
}

func TestNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from string
		rec  types.Recurrence
		want string
	}{
		{"daily month end", "2024-01-31T10:00:00Z", types.RecurrenceDaily, "2024-02-01T10:00:00Z"},
		{"daily year end", "2024-12-31T23:59:59Z", types.RecurrenceDaily, "2025-01-01T23:59:59Z"},
		{"daily leap day", "2024-02-28T08:00:00Z", types.RecurrenceDaily, "2024-02-29T08:00:00Z"},
		{"weekly", "2024-02-26T10:00:00Z", types.RecurrenceWeekly, "2024-03-04T10:00:00Z"},
		{"monthly clamp leap", "2024-01-31T10:00:00Z", types.RecurrenceMonthly, "2024-02-29T10:00:00Z"},
		{"monthly clamp non leap", "2023-01-31T10:00:00Z", types.RecurrenceMonthly, "2023-02-28T10:00:00Z"},
		{"monthly clamp 30 day", "2024-03-31T06:00:00Z", types.RecurrenceMonthly, "2024-04-30T06:00:00Z"},
		{"monthly december", "2024-12-15T10:00:00Z", types.RecurrenceMonthly, "2025-01-15T10:00:00Z"},
		{"monthly plain", "2024-05-10T00:00:00Z", types.RecurrenceMonthly, "2024-06-10T00:00:00Z"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Next(mustTime(t, tt.from), tt.rec)
			if err != nil {
				t.Fatalf("Next error: %v", err)
			}
			if types.FormatTime(got) != tt.want {
				t.Fatalf("Next(%s, %s) = %s, want %s", tt.from, tt.rec, types.FormatTime(got), tt.want)
			}
		})
	}
}

func TestNextUnsupported(t *testing.T) {
	t.Parallel()
	_, err := Next(time.Now(), types.Recurrence("hourly"))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestSuccessorIDDeterministic(t *testing.T) {
	t.Parallel()
	next := mustTime(t, "2024-01-02T00:00:00Z")
	a := SuccessorID("parent", next)
	b := SuccessorID("parent", next.Add(400*time.Millisecond))
	if a != b {
		t.Fatalf("ids differ: %s vs %s", a, b)
	}
	if SuccessorID("other", next) == a {
		t.Fatal("different parents must not share a successor id")
	}
	if SuccessorID("parent", next.AddDate(0, 0, 1)) == a {
		t.Fatal("different run_at must not share a successor id")
	}
}

func TestSuccessor(t *testing.T) {
	t.Parallel()
	parent := &types.Task{
		ID:           "orig",
		Action:       types.ActionWebhook,
		Payload:      json.RawMessage(`{"url":"https://example.com/ok"}`),
		RunAt:        mustTime(t, "2024-01-01T00:00:00Z"),
		Status:       types.StatusCompleted,
		Recurrence:   types.RecurrenceDaily,
		ErrorMessage: "stale",
	}
	now := mustTime(t, "2024-01-01T00:00:30Z")
	succ, err := Successor(parent, now)
	if err != nil {
		t.Fatalf("Successor: %v", err)
	}
	if types.FormatTime(succ.RunAt) != "2024-01-02T00:00:00Z" {
		t.Fatalf("run_at = %s", types.FormatTime(succ.RunAt))
	}
	if succ.Status != types.StatusScheduled || succ.ParentTaskID != "orig" || succ.ErrorMessage != "" {
		t.Fatalf("unexpected successor: %+v", succ)
	}
	if succ.Recurrence != types.RecurrenceDaily || succ.Action != parent.Action {
		t.Fatalf("successor lost schedule: %+v", succ)
	}
	if succ.ID != SuccessorID("orig", succ.RunAt) {
		t.Fatalf("id = %s not derived from parent", succ.ID)
	}

	if _, err := Successor(&types.Task{ID: "once"}, now); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("one-shot successor err = %v", err)
	}
}

package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusScheduled, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusScheduled, StatusFailed, false},
		{StatusRunning, StatusScheduled, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusScheduled, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	for _, s := range Statuses {
		want := s == StatusCompleted || s == StatusFailed
		if s.Terminal() != want {
			t.Fatalf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-01-01T00:00:00Z",
		"2024-01-01T05:30:00+05:30",
		"2024-01-01T00:00:00.750Z",
		"2024-01-01T00:00:00",
	} {
		got, err := ParseTime(raw)
		if err != nil {
			t.Fatalf("ParseTime(%q) error: %v", raw, err)
		}
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("ParseTime(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseTime("tomorrow"); err == nil {
		t.Fatal("expected error for malformed time")
	}
}

func TestTaskWireShape(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := &Task{
		ID:        "t1",
		Action:    ActionWebhook,
		Payload:   json.RawMessage(`{"url":"https://example.com/ok"}`),
		RunAt:     ts,
		Status:    StatusScheduled,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	data, err := task.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"run_at":"2024-01-01T00:00:00Z"`) {
		t.Fatalf("run_at not canonical: %s", s)
	}
	for _, absent := range []string{"recurrence", "error_message", "parent_task_id"} {
		if strings.Contains(s, absent) {
			t.Fatalf("%s should be omitted: %s", absent, s)
		}
	}
}

func TestDueAndClone(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{Status: StatusScheduled, RunAt: now, Payload: json.RawMessage(`{}`)}
	if !task.Due(now) {
		t.Fatal("task at now should be due")
	}
	if task.Due(now.Add(-time.Second)) {
		t.Fatal("task should not be due before run_at")
	}
	cp := task.Clone()
	cp.Payload[0] = '['
	if task.Payload[0] != '{' {
		t.Fatal("Clone shares payload buffer")
	}
}

// types/types.go
package types

import (
	"encoding/json"
	"time"
)

// TimeLayout is the canonical wire and storage form of every timestamp.
const TimeLayout = "2006-01-02T15:04:05Z"

// TaskStatus is the lifecycle state of a task occurrence.
type TaskStatus string

const (
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Statuses lists every legal status in lifecycle order.
var Statuses = []TaskStatus{StatusScheduled, StatusRunning, StatusCompleted, StatusFailed}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the lifecycle:
// scheduled -> running -> completed | failed.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case StatusScheduled:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

type Action string

const (
	ActionWebhook Action = "webhook"
	ActionMessage Action = "message"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = ""
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// Task is one scheduled instance. (ID, RunAt) identifies it; a recurring
// task produces a new Task per occurrence.
type Task struct {
	ID           string          `json:"task_id"`
	Action       Action          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	RunAt        time.Time       `json:"run_at"`
	Status       TaskStatus      `json:"status"`
	Recurrence   Recurrence      `json:"recurrence,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ParentTaskID string          `json:"parent_task_id,omitempty"`
}

// Clone returns a deep copy so callers never share the payload buffer.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return &cp
}

// Due reports whether the task may execute at now.
func (t *Task) Due(now time.Time) bool {
	return t.Status == StatusScheduled && !Canonical(t.RunAt).After(Canonical(now))
}

// Canonical normalizes a timestamp to UTC with second precision.
func Canonical(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return Canonical(t).Format(TimeLayout)
}

// ParseTime accepts RFC 3339 (with Z or an offset) and naive
// "2006-01-02T15:04:05", which is read as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Canonical(t), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return Canonical(t), nil
}

func (t *Task) Serialize() ([]byte, error) {
	return json.Marshal(t)
}

func DeserializeTask(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

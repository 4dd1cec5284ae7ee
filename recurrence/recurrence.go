// Package recurrence computes the next occurrence of a recurring task using
// calendar arithmetic in UTC.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chhz0/taskd/types"
)

var ErrUnsupported = errors.New("unsupported recurrence")

// successorSpace namespaces derived successor ids.
var successorSpace = uuid.MustParse("6f1c2a7e-3b0d-4c55-9a8e-2d4f7b1e9c30")

// Next returns the run_at following runAt for the given recurrence.
//
// Monthly keeps the day of month and clamps to the last day of the target
// month when it does not exist there (Jan 31 -> Feb 29 in 2024).
func Next(runAt time.Time, r types.Recurrence) (time.Time, error) {
	t := types.Canonical(runAt)
	switch r {
	case types.RecurrenceDaily:
		return t.AddDate(0, 0, 1), nil
	case types.RecurrenceWeekly:
		return t.AddDate(0, 0, 7), nil
	case types.RecurrenceMonthly:
		return addMonthClamped(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupported, r)
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	// time.Date normalizes month 13 into January of the next year.
	if last := daysIn(y, m+1); d > last {
		d = last
	}
	return time.Date(y, m+1, d, hh, mm, ss, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// day 0 of the following month is the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SuccessorID derives the id of the occurrence that follows parentID at
// next. The same pair always yields the same id.
func SuccessorID(parentID string, next time.Time) string {
	return uuid.NewSHA1(successorSpace, []byte(parentID+"@"+types.FormatTime(next))).String()
}

// Successor builds the scheduled task that follows parent.
func Successor(parent *types.Task, now time.Time) (*types.Task, error) {
	if parent.Recurrence == types.RecurrenceNone {
		return nil, fmt.Errorf("%w: task %s does not recur", ErrUnsupported, parent.ID)
	}
	next, err := Next(parent.RunAt, parent.Recurrence)
	if err != nil {
		return nil, err
	}
	now = types.Canonical(now)
	succ := parent.Clone()
	succ.ID = SuccessorID(parent.ID, next)
	succ.RunAt = next
	succ.Status = types.StatusScheduled
	succ.CreatedAt = now
	succ.UpdatedAt = now
	succ.ErrorMessage = ""
	succ.ParentTaskID = parent.ID
	return succ, nil
}

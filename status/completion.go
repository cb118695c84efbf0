// Package status holds the three stateless state machines: village
// membership, task assignment and task completion. Callers load the current
// records, ask the engine, and persist whatever it returns.
package status

import (
	"fmt"
	"time"

	"village/model"
)

// ApplyStatus moves t to next and keeps DaysDone in step: entering Done adds
// one, leaving Done takes one away (never below zero), anything else leaves
// the counter alone.
func ApplyStatus(t model.Task, next model.TaskStatus, now time.Time) (model.Task, error) {
	if !next.Valid() {
		return t, fmt.Errorf("task status %q: %w", next, model.ErrInvalid)
	}
	out := t.Clone()
	wasDone := t.Status == model.StatusDone
	isDone := next == model.StatusDone
	out.DaysDone = DaysDone(t.DaysDone, wasDone, isDone)
	switch {
	case isDone && !wasDone:
		ts := now
		out.CompletedAt = &ts
	case wasDone && !isDone:
		out.CompletedAt = nil
	}
	out.Status = next
	out.LastActiveAt = now
	return out, nil
}

// DaysDone is the counter arithmetic on its own, shared by stores that
// update the column in place.
func DaysDone(current int, wasDone, isDone bool) int {
	if current < 0 {
		current = 0
	}
	switch {
	case isDone && !wasDone:
		return current + 1
	case wasDone && !isDone:
		if current == 0 {
			return 0
		}
		return current - 1
	}
	return current
}

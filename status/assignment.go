package status

import (
	"fmt"
	"time"

	"village/model"
)

type AssignmentRequest struct {
	TaskID string
	// TaskCreator is the user who created the task.
	TaskCreator string
	// Assignee is the user the record is about.
	Assignee string
	// Requester is the user asking for the change.
	Requester string
	Status    model.AssignmentStatus
	// Existing is the current record for (TaskID, Assignee), nil if none.
	Existing *model.TaskAssignment
	Now      time.Time
}

// Assign creates or updates a task_user record. Only the task's creator or
// the assignee themself may do it. An existing record keeps its AssignedAt.
func Assign(req AssignmentRequest) (model.TaskAssignment, error) {
	if req.TaskID == "" || req.Assignee == "" {
		return model.TaskAssignment{}, fmt.Errorf("assign: %w", model.ErrInvalid)
	}
	st := req.Status
	if st == "" {
		st = model.AssignmentPending
	}
	if !st.Valid() {
		return model.TaskAssignment{}, fmt.Errorf("assignment status %q: %w", st, model.ErrInvalid)
	}
	owner := req.TaskCreator != "" && req.Requester == req.TaskCreator
	self := req.Requester != "" && req.Requester == req.Assignee
	if !owner && !self {
		return model.TaskAssignment{}, fmt.Errorf("assign %s to task %s: %w", req.Assignee, req.TaskID, model.ErrForbidden)
	}

	var out model.TaskAssignment
	if req.Existing != nil {
		out = *req.Existing
	} else {
		out = model.TaskAssignment{TaskID: req.TaskID, UserID: req.Assignee, AssignedAt: req.Now}
	}
	out.Status = st
	if st.Completed() {
		ts := req.Now
		out.CompletedAt = &ts
	} else {
		out.CompletedAt = nil
	}
	return out, nil
}

package cache

import (
	"context"
	"fmt"
	"strings"

	"village/gateway"
	"village/model"
	"village/status"
)

// CreateTask adds a task to a cached list once the gateway has created it.
func (s *Store) CreateTask(ctx context.Context, listID, name string) (model.Task, error) {
	return s.CreateTaskWith(ctx, gateway.CreateTaskRequest{ListID: listID, Name: name})
}

func (s *Store) CreateTaskWith(ctx context.Context, req gateway.CreateTaskRequest) (model.Task, error) {
	const op = "create task"
	if _, err := s.user(op); err != nil {
		return model.Task{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return model.Task{}, s.invalid(op, "task name cannot be empty")
	}
	if req.ListID == "" {
		return model.Task{}, s.invalid(op, "list id is required")
	}
	if _, ok := s.List(req.ListID); !ok {
		return model.Task{}, s.fail(op, fmt.Errorf("list %s: %w", req.ListID, model.ErrNotFound))
	}
	gen := s.generation()
	t, err := s.gw.CreateTask(ctx, req)
	if err != nil {
		return model.Task{}, s.fail(op, err)
	}
	t.ListID = req.ListID
	s.update(gen, func(lists []model.List) []model.List {
		i := indexList(lists, req.ListID)
		if i < 0 || indexTask(lists[i].Tasks, t.ID) >= 0 {
			return lists
		}
		lists[i].Tasks = append(lists[i].Tasks, t.Clone())
		return lists
	})
	return t, nil
}

// UpdateTaskStatus leaves the counter arithmetic to the server and mirrors
// what it returns.
func (s *Store) UpdateTaskStatus(ctx context.Context, listID, taskID string, st model.TaskStatus) (model.Task, error) {
	const op = "update task status"
	if _, err := s.user(op); err != nil {
		return model.Task{}, err
	}
	if !st.Valid() {
		return model.Task{}, s.fail(op, fmt.Errorf("task status %q: %w", st, model.ErrInvalid))
	}
	unlock := s.locks.Lock("task:" + taskID)
	defer unlock()

	if err := s.requireTask(op, listID, taskID); err != nil {
		return model.Task{}, err
	}
	gen := s.generation()
	remote, err := s.gw.ModifyTaskStatus(ctx, taskID, st)
	if err != nil {
		return model.Task{}, s.fail(op, err)
	}
	out := remote
	s.update(gen, func(lists []model.List) []model.List {
		i, j := locate(lists, listID, taskID)
		if j < 0 {
			return lists
		}
		t := &lists[i].Tasks[j]
		t.Status = remote.Status
		t.DaysDone = remote.DaysDone
		t.LastActiveAt = remote.LastActiveAt
		t.CompletedAt = remote.CompletedAt
		out = t.Clone()
		return lists
	})
	return out, nil
}

// UpdateTask sends only the fields present in patch and patches only those
// locally.
func (s *Store) UpdateTask(ctx context.Context, listID, taskID string, patch gateway.TaskPatch) (model.Task, error) {
	const op = "update task"
	if _, err := s.user(op); err != nil {
		return model.Task{}, err
	}
	if patch.Empty() {
		return model.Task{}, s.invalid(op, "nothing to update")
	}
	if err := patch.Validate(); err != nil {
		return model.Task{}, s.fail(op, err)
	}
	unlock := s.locks.Lock("task:" + taskID)
	defer unlock()

	if err := s.requireTask(op, listID, taskID); err != nil {
		return model.Task{}, err
	}
	gen := s.generation()
	remote, err := s.gw.ModifyTask(ctx, taskID, patch)
	if err != nil {
		return model.Task{}, s.fail(op, err)
	}
	out := remote
	s.update(gen, func(lists []model.List) []model.List {
		i, j := locate(lists, listID, taskID)
		if j < 0 {
			return lists
		}
		t := &lists[i].Tasks[j]
		patch.Apply(t)
		if !remote.LastActiveAt.IsZero() {
			t.LastActiveAt = remote.LastActiveAt
		}
		out = t.Clone()
		return lists
	})
	return out, nil
}

// DeleteTask removes the task locally only after the gateway confirms.
func (s *Store) DeleteTask(ctx context.Context, listID, taskID string) error {
	const op = "delete task"
	if _, err := s.user(op); err != nil {
		return err
	}
	unlock := s.locks.Lock("task:" + taskID)
	defer unlock()

	if err := s.requireTask(op, listID, taskID); err != nil {
		return err
	}
	gen := s.generation()
	if err := s.gw.DeleteTask(ctx, taskID); err != nil {
		return s.fail(op, err)
	}
	s.update(gen, func(lists []model.List) []model.List {
		i, j := locate(lists, listID, taskID)
		if j < 0 {
			return lists
		}
		tasks := lists[i].Tasks
		lists[i].Tasks = append(tasks[:j:j], tasks[j+1:]...)
		return lists
	})
	return nil
}

// UpdateTaskUser creates or updates an assignment and touches the task.
func (s *Store) UpdateTaskUser(ctx context.Context, listID, taskID, userID string, st model.AssignmentStatus) (model.TaskAssignment, error) {
	const op = "update task user"
	me, err := s.user(op)
	if err != nil {
		return model.TaskAssignment{}, err
	}
	if userID == "" {
		return model.TaskAssignment{}, s.invalid(op, "user id is required")
	}
	if err := s.requireTask(op, listID, taskID); err != nil {
		return model.TaskAssignment{}, err
	}
	// owner-or-self is settled here; the gateway only sees allowed requests
	task, _ := s.Task(listID, taskID)
	if _, err := status.Assign(status.AssignmentRequest{
		TaskID:      taskID,
		TaskCreator: task.CreatedBy,
		Assignee:    userID,
		Requester:   me.ID,
		Status:      st,
		Now:         s.now(),
	}); err != nil {
		return model.TaskAssignment{}, s.fail(op, err)
	}
	gen := s.generation()
	rec, err := s.gw.UpdateTaskUser(ctx, taskID, userID, st)
	if err != nil {
		return model.TaskAssignment{}, s.fail(op, err)
	}
	now := s.now().UTC()
	s.update(gen, func(lists []model.List) []model.List {
		if i, j := locate(lists, listID, taskID); j >= 0 {
			lists[i].Tasks[j].LastActiveAt = now
		}
		return lists
	})
	return rec, nil
}

// TaskUsers returns a task's assignment records.
func (s *Store) TaskUsers(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	const op = "task users"
	if _, err := s.user(op); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, s.invalid(op, "task id is required")
	}
	out, err := s.gw.GetTaskUsers(ctx, taskID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) requireTask(op, listID, taskID string) error {
	if listID == "" {
		return s.invalid(op, "list id is required")
	}
	if taskID == "" {
		return s.invalid(op, "task id is required")
	}
	s.mu.Lock()
	i, j := locate(s.lists, listID, taskID)
	s.mu.Unlock()
	switch {
	case i < 0:
		return s.fail(op, fmt.Errorf("list %s: %w", listID, model.ErrNotFound))
	case j < 0:
		return s.fail(op, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound))
	}
	return nil
}

// locate finds a task inside a list; j is -1 when either is missing.
func locate(lists []model.List, listID, taskID string) (i, j int) {
	i = indexList(lists, listID)
	if i < 0 {
		return -1, -1
	}
	return i, indexTask(lists[i].Tasks, taskID)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"village/gateway"
	"village/model"
	"village/status"
)

// visibleTo matches lists the user ($1) owns or reaches through an active
// share with a group they are an accepted member of.
const visibleTo = `(l.created_by = $1 or exists (
	select 1 from list_groups lg join group_members gm on gm.group_id = lg.group_id
	where lg.list_id = l.id and lg.status = 'Active' and gm.user_id = $1 and gm.status = 'Accepted'))`

// visibleList loads a list the user can see. Lists that exist but are hidden
// are reported as not found.
func (s *Store) visibleList(ctx context.Context, q querier, uid, listID string, lock bool) (model.List, error) {
	if listID == "" {
		return model.List{}, fmt.Errorf("list id: %w", model.ErrInvalid)
	}
	query := `select ` + listCols + ` from lists l where l.id = $2 and ` + visibleTo
	if lock {
		query += ` for update of l`
	}
	l, err := scanList(q.QueryRowContext(ctx, query, uid, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.List{}, fmt.Errorf("list %s: %w", listID, model.ErrNotFound)
	}
	return l, err
}

func (s *Store) visibleTask(ctx context.Context, q querier, uid, taskID string, lock bool) (model.Task, model.List, error) {
	if taskID == "" {
		return model.Task{}, model.List{}, fmt.Errorf("task id: %w", model.ErrInvalid)
	}
	query := `select ` + taskCols + ` from tasks t where t.id = $1`
	if lock {
		query += ` for update`
	}
	t, err := scanTask(q.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, model.List{}, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if err != nil {
		return model.Task{}, model.List{}, err
	}
	l, err := s.visibleList(ctx, q, uid, t.ListID, false)
	if errors.Is(err, model.ErrNotFound) {
		return model.Task{}, model.List{}, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	return t, l, err
}

// ListAudience returns everyone who can see the list: its owner and the
// accepted members of groups it is actively shared with.
func (s *Store) ListAudience(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select created_by from lists where id=$1 and created_by is not null
		union
		select gm.user_id from list_groups lg join group_members gm on gm.group_id = lg.group_id
		where lg.list_id=$1 and lg.status='Active' and gm.status='Accepted'`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- lists ---

func (s *Store) CreateList(ctx context.Context, uid string, req gateway.CreateListRequest) (model.List, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.List{}, fmt.Errorf("list name required: %w", model.ErrInvalid)
	}
	imp := req.Importance
	if imp == "" {
		imp = model.ImportanceMedium
	}
	if !imp.Valid() {
		return model.List{}, fmt.Errorf("importance %q: %w", imp, model.ErrInvalid)
	}
	repeat, err := encodeRepeat(req.Repeat)
	if err != nil {
		return model.List{}, err
	}
	now := s.now()
	l := model.List{
		ID: uuid.NewString(), Name: name, Importance: imp, Repeat: req.Repeat, CreatedBy: uid,
		CreatedAt: now, LastActiveAt: now, IsRoutine: req.IsRoutine, Tasks: []model.Task{},
	}
	_, err = s.db.ExecContext(ctx, `insert into lists(id, name, importance, repeat, is_routine, created_by, created_at, last_active_at)
		values($1,$2,$3,$4,$5,$6,$7,$7)`, l.ID, l.Name, string(l.Importance), repeat, l.IsRoutine, uid, now)
	if err != nil {
		return model.List{}, err
	}
	return l, nil
}

func (s *Store) UserLists(ctx context.Context, uid string) ([]model.List, error) {
	rows, err := s.db.QueryContext(ctx, `select `+listCols+` from lists l where `+visibleTo+` order by l.created_at, l.id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteList removes the list; its tasks, assignments and shares go with it
// through the foreign keys.
func (s *Store) DeleteList(ctx context.Context, uid, listID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.visibleList(ctx, tx, uid, listID, true)
		if err != nil {
			return err
		}
		if l.CreatedBy != uid {
			return fmt.Errorf("only the owner may delete a list: %w", model.ErrForbidden)
		}
		res, err := tx.ExecContext(ctx, `delete from lists where id=$1`, listID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("list %s: %w", listID, model.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) ModifyList(ctx context.Context, uid, listID string, patch gateway.ListPatch) (model.List, error) {
	if patch.Empty() {
		return model.List{}, fmt.Errorf("nothing to update: %w", model.ErrInvalid)
	}
	if err := patch.Validate(); err != nil {
		return model.List{}, err
	}
	var out model.List
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.visibleList(ctx, tx, uid, listID, true)
		if err != nil {
			return err
		}
		if l.CreatedBy != uid {
			return fmt.Errorf("only the owner may edit a list: %w", model.ErrForbidden)
		}
		patch.Apply(&l)
		l.LastActiveAt = s.now()
		repeat, err := encodeRepeat(l.Repeat)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `update lists set name=$2, importance=$3, repeat=$4, is_routine=$5, last_active_at=$6 where id=$1`,
			l.ID, l.Name, string(l.Importance), repeat, l.IsRoutine, l.LastActiveAt)
		out = l
		return err
	})
	return out, err
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, uid string, req gateway.CreateTaskRequest) (model.Task, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Task{}, fmt.Errorf("task name required: %w", model.ErrInvalid)
	}
	imp := req.Importance
	if imp == "" {
		imp = model.ImportanceMedium
	}
	if !imp.Valid() || (req.Effort != "" && !req.Effort.Valid()) {
		return model.Task{}, fmt.Errorf("importance or effort: %w", model.ErrInvalid)
	}
	repeat, err := encodeRepeat(req.Repeat)
	if err != nil {
		return model.Task{}, err
	}
	now := s.now()
	t := model.Task{
		ID: uuid.NewString(), ListID: req.ListID, Name: name, Status: model.StatusToDo,
		Importance: imp, Effort: req.Effort, CreatedAt: now, LastActiveAt: now, CreatedBy: uid,
	}
	gateway.TaskPatch{Deadline: req.Deadline, Repeat: req.Repeat}.Apply(&t)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.visibleList(ctx, tx, uid, req.ListID, true); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `insert into tasks(id, list_id, name, status_id, importance, effort, deadline, repeat, created_by, created_at, last_active_at)
			values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
			t.ID, t.ListID, t.Name, t.Status.ID(), string(t.Importance), string(t.Effort), nullTime(t.Deadline), repeat, uid, now)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, uid, listID string) ([]model.Task, error) {
	if _, err := s.visibleList(ctx, s.db, uid, listID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select `+taskCols+` from tasks t where t.list_id=$1 order by t.created_at, t.id`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTask is allowed to the task's creator and to the list's owner.
func (s *Store) DeleteTask(ctx context.Context, uid, taskID string) (model.Task, error) {
	var out model.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, l, err := s.visibleTask(ctx, tx, uid, taskID, true)
		if err != nil {
			return err
		}
		if t.CreatedBy != uid && l.CreatedBy != uid {
			return fmt.Errorf("only the creator may delete a task: %w", model.ErrForbidden)
		}
		if _, err := tx.ExecContext(ctx, `delete from tasks where id=$1`, taskID); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Store) ModifyTask(ctx context.Context, uid, taskID string, patch gateway.TaskPatch) (model.Task, error) {
	if patch.Empty() {
		return model.Task{}, fmt.Errorf("nothing to update: %w", model.ErrInvalid)
	}
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}
	var out model.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, _, err := s.visibleTask(ctx, tx, uid, taskID, true)
		if err != nil {
			return err
		}
		patch.Apply(&t)
		t.LastActiveAt = s.now()
		repeat, err := encodeRepeat(t.Repeat)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `update tasks set name=$2, importance=$3, effort=$4, deadline=$5, repeat=$6, last_active_at=$7 where id=$1`,
			t.ID, t.Name, string(t.Importance), string(t.Effort), nullTime(t.Deadline), repeat, t.LastActiveAt)
		out = t
		return err
	})
	return out, err
}

// ModifyTaskStatus holds the task row lock while the counter is computed, so
// concurrent toggles of one task apply one after the other.
func (s *Store) ModifyTaskStatus(ctx context.Context, uid, taskID string, st model.TaskStatus) (model.Task, error) {
	var out model.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, _, err := s.visibleTask(ctx, tx, uid, taskID, true)
		if err != nil {
			return err
		}
		next, err := status.ApplyStatus(t, st, s.now())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `update tasks set status_id=$2, days_done=$3, completed_at=$4, last_active_at=$5 where id=$1`,
			next.ID, next.Status.ID(), next.DaysDone, nullTime(next.CompletedAt), next.LastActiveAt)
		out = next
		return err
	})
	return out, err
}

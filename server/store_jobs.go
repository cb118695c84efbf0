package main

import (
	"context"
	"database/sql"
	"time"

	"village/model"
)

// ResetRoutines moves Done tasks in routine lists back to To Do. The
// counter is left alone: it counts completions, not open tasks.
func (s *Store) ResetRoutines(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update tasks t set status_id=$1, completed_at=null, last_active_at=$3
		from lists l where l.id = t.list_id and l.is_routine and t.status_id=$2`,
		model.StatusToDo.ID(), model.StatusDone.ID(), s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RollDeadlines moves the deadline of every To Do task that is already past
// to the start of today.
func (s *Store) RollDeadlines(ctx context.Context) (int64, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	res, err := s.db.ExecContext(ctx, `update tasks set deadline=$2, last_active_at=$3
		where status_id=$1 and deadline < $2`, model.StatusToDo.ID(), today, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateIdleMembers marks the memberships of users not seen since
// cutoff as Inactive.
func (s *Store) DeactivateIdleMembers(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update group_members gm set status='Inactive', last_active_at=$2
		from users u where u.id = gm.user_id and u.last_active_at < $1 and gm.status='Accepted'`, cutoff, s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AnonymizeIdleUsers scrubs every account not seen since cutoff.
func (s *Store) AnonymizeIdleUsers(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `select id from users where last_active_at < $1 and email is not null`, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		err := s.inTx(ctx, func(tx *sql.Tx) error { return s.anonymize(ctx, tx, id) })
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) PurgeSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"village/model"
	"village/status"
)

// memberFetchLimit caps concurrent member queries when listing groups.
const memberFetchLimit = 4

// ensureVillage returns the user's default village, creating it (with the
// user as accepted admin) on first call. The user row is locked so that two
// concurrent setups cannot both create one.
func (s *Store) ensureVillage(ctx context.Context, tx *sql.Tx, uid string, now time.Time) (model.Group, error) {
	var id string
	if err := tx.QueryRowContext(ctx, `select id from users where id=$1 for update`, uid).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Group{}, fmt.Errorf("user %s: %w", uid, model.ErrUnauthorized)
		}
		return model.Group{}, err
	}
	g, err := s.defaultGroup(ctx, tx, uid)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return g, err
	}
	g = model.Group{ID: uuid.NewString(), Name: model.DefaultGroupName, Score: -1, CreatedBy: uid, CreatedAt: now, LastActiveAt: now}
	if err := s.insertGroup(ctx, tx, g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

func (s *Store) insertGroup(ctx context.Context, tx *sql.Tx, g model.Group) error {
	if _, err := tx.ExecContext(ctx, `insert into groups(id, name, score, created_by, created_at, last_active_at) values($1,$2,$3,$4,$5,$5)`,
		g.ID, g.Name, g.Score, g.CreatedBy, g.CreatedAt); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `insert into group_members(group_id, user_id, role, status, joined_at, last_active_at) values($1,$2,$3,$4,$5,$5)`,
		g.ID, g.CreatedBy, string(model.RoleAdmin), string(model.MemberAccepted), g.CreatedAt)
	return err
}

func (s *Store) defaultGroup(ctx context.Context, q querier, uid string) (model.Group, error) {
	g, err := scanGroup(q.QueryRowContext(ctx, `select `+groupCols+` from groups g
		where g.created_by=$1 and g.name=$2 order by g.created_at limit 1`, uid, model.DefaultGroupName))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, fmt.Errorf("village of %s: %w", uid, model.ErrNotFound)
	}
	return g, err
}

// member loads one membership record, nil when there is none.
func (s *Store) member(ctx context.Context, q querier, groupID, uid string, lock bool) (*model.GroupMember, error) {
	query := `select ` + memberCols + ` from group_members gm join users u on u.id = gm.user_id
		where gm.group_id=$1 and gm.user_id=$2`
	if lock {
		query += ` for update of gm`
	}
	m, err := scanMember(q.QueryRowContext(ctx, query, groupID, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) accepted(ctx context.Context, q querier, groupID, uid string) (*model.GroupMember, bool, error) {
	m, err := s.member(ctx, q, groupID, uid, false)
	if err != nil {
		return nil, false, err
	}
	return m, m != nil && m.Status == model.MemberAccepted, nil
}

// membersOf lists the accepted members of a group in join order.
func (s *Store) membersOf(ctx context.Context, q querier, groupID string) ([]model.GroupMember, error) {
	rows, err := q.QueryContext(ctx, `select `+memberCols+` from group_members gm join users u on u.id = gm.user_id
		where gm.group_id=$1 order by gm.joined_at, gm.user_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var all []model.GroupMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return status.VisibleMembers(all), nil
}

// GroupAudience returns the users with a live (pending or accepted) record
// in the group.
func (s *Store) GroupAudience(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select user_id from group_members where group_id=$1 and status in ('Pending','Accepted')`, groupID)
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

// --- groups ---

// UserGroups returns the groups the user is pending or accepted in, each
// with its accepted members.
func (s *Store) UserGroups(ctx context.Context, uid string) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `select `+groupCols+` from groups g
		join group_members gm on gm.group_id = g.id and gm.user_id = $1
		where gm.status in ('Pending','Accepted') order by g.created_at, g.id`, uid)
	if err != nil {
		return nil, err
	}
	out := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(memberFetchLimit)
	for i := range out {
		g := &out[i]
		eg.Go(func() error {
			members, err := s.membersOf(ctx, s.db, g.ID)
			if err != nil {
				return fmt.Errorf("members of %s: %w", g.ID, err)
			}
			g.Members = members
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateGroup(ctx context.Context, uid, name string) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == model.DefaultGroupName {
		return model.Group{}, fmt.Errorf("group name %q: %w", name, model.ErrInvalid)
	}
	now := s.now()
	g := model.Group{ID: uuid.NewString(), Name: name, CreatedBy: uid, CreatedAt: now, LastActiveAt: now}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertGroup(ctx, tx, g); err != nil {
			return err
		}
		members, err := s.membersOf(ctx, tx, g.ID)
		g.Members = members
		return err
	})
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// AddUserToGroup invites userID as a pending member. Only an accepted admin
// may invite, and outside the default village only people from the
// requester's own village can be invited.
func (s *Store) AddUserToGroup(ctx context.Context, uid, groupID, userID string) (model.GroupMember, error) {
	if groupID == "" || userID == "" {
		return model.GroupMember{}, fmt.Errorf("group and user required: %w", model.ErrInvalid)
	}
	var out model.GroupMember
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := scanGroup(tx.QueryRowContext(ctx, `select `+groupCols+` from groups g where g.id=$1 for update`, groupID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("group %s: %w", groupID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		me, ok, err := s.accepted(ctx, tx, groupID, uid)
		if err != nil {
			return err
		}
		if !ok || me.Role != model.RoleAdmin {
			return fmt.Errorf("only a group admin may invite: %w", model.ErrForbidden)
		}
		exists, err := s.userExists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
		}
		if !g.IsDefault() {
			home, err := s.defaultGroup(ctx, tx, uid)
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("no village to invite from: %w", model.ErrForbidden)
			}
			if err != nil {
				return err
			}
			_, ok, err := s.accepted(ctx, tx, home.ID, userID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("user is not in your village: %w", model.ErrForbidden)
			}
		}
		existing, err := s.member(ctx, tx, groupID, userID, true)
		if err != nil {
			return err
		}
		rec, err := status.Invite(groupID, userID, existing, s.now())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `insert into group_members(group_id, user_id, role, status, score, joined_at, last_active_at)
			values($1,$2,$3,$4,$5,$6,$7)
			on conflict (group_id, user_id) do update set role=excluded.role, status=excluded.status,
				score=excluded.score, joined_at=excluded.joined_at, last_active_at=excluded.last_active_at`,
			rec.GroupID, rec.UserID, string(rec.Role), string(rec.Status), rec.Score, rec.JoinedAt, rec.LastActiveAt)
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `select display_name from users where id=$1`, userID).Scan(&rec.DisplayName); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// ChangeMember moves a membership record through the lifecycle. Removal is
// a transition to Removed, not a delete.
func (s *Store) ChangeMember(ctx context.Context, uid, groupID, userID string, target model.MemberStatus) (model.GroupMember, error) {
	if groupID == "" || userID == "" {
		return model.GroupMember{}, fmt.Errorf("group and user required: %w", model.ErrInvalid)
	}
	var out model.GroupMember
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.member(ctx, tx, groupID, userID, true)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("membership: %w", model.ErrNotFound)
		}
		role := model.RoleGuest
		me, ok, err := s.accepted(ctx, tx, groupID, uid)
		if err != nil {
			return err
		}
		if ok {
			role = me.Role
		}
		res, err := status.RequestMembershipTransition(status.MembershipChange{
			Current: rec.Status, Target: target, Requester: role, Self: userID == uid,
		})
		if err != nil {
			return err
		}
		if !res.NoOp {
			rec.Status = res.Status
			if res.ResetScore {
				rec.Score = 0
			}
			rec.LastActiveAt = s.now()
			if _, err := tx.ExecContext(ctx, `update group_members set status=$3, score=$4, last_active_at=$5 where group_id=$1 and user_id=$2`,
				groupID, userID, string(rec.Status), rec.Score, rec.LastActiveAt); err != nil {
				return err
			}
		}
		out = *rec
		return nil
	})
	return out, err
}

// InviteCandidates lists the other accepted members of the user's village,
// without their emails.
func (s *Store) InviteCandidates(ctx context.Context, uid string) ([]model.User, error) {
	out := []model.User{}
	home, err := s.defaultGroup(ctx, s.db, uid)
	if errors.Is(err, model.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select u.id, u.display_name, u.created_at from group_members gm join users u on u.id = gm.user_id
		where gm.group_id=$1 and gm.status='Accepted' and gm.user_id <> $2 order by gm.joined_at, gm.user_id`, home.ID, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- list sharing ---

func (s *Store) UpdateListGroup(ctx context.Context, uid, listID, groupID string, st model.GeneralStatus) (model.ListGroup, error) {
	if st == "" {
		st = model.GeneralActive
	}
	if !st.Valid() || groupID == "" {
		return model.ListGroup{}, fmt.Errorf("list group: %w", model.ErrInvalid)
	}
	var out model.ListGroup
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.visibleList(ctx, tx, uid, listID, true)
		if err != nil {
			return err
		}
		var name string
		err = tx.QueryRowContext(ctx, `select name from groups where id=$1`, groupID).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("group %s: %w", groupID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if l.CreatedBy != uid {
			return fmt.Errorf("only the owner may share a list: %w", model.ErrForbidden)
		}
		_, ok, err := s.accepted(ctx, tx, groupID, uid)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("not a member of the group: %w", model.ErrForbidden)
		}
		if _, err := tx.ExecContext(ctx, `insert into list_groups(list_id, group_id, status) values($1,$2,$3)
			on conflict (list_id, group_id) do update set status=excluded.status`, listID, groupID, string(st)); err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx, `update lists set last_active_at=$2 where id=$1`, listID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `update groups set last_active_at=$2 where id=$1`, groupID, now); err != nil {
			return err
		}
		out = model.ListGroup{ListID: listID, GroupID: groupID, GroupName: name, Status: st}
		return nil
	})
	return out, err
}

func (s *Store) ListGroups(ctx context.Context, uid, listID string) ([]model.ListGroup, error) {
	if _, err := s.visibleList(ctx, s.db, uid, listID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select lg.list_id, lg.group_id, g.name, lg.status from list_groups lg
		join groups g on g.id = lg.group_id where lg.list_id=$1 order by g.created_at, g.id`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ListGroup{}
	for rows.Next() {
		var lg model.ListGroup
		if err := rows.Scan(&lg.ListID, &lg.GroupID, &lg.GroupName, &lg.Status); err != nil {
			return nil, err
		}
		out = append(out, lg)
	}
	return out, rows.Err()
}

func (s *Store) RemoveListGroup(ctx context.Context, uid, listID, groupID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.visibleList(ctx, tx, uid, listID, true)
		if err != nil {
			return err
		}
		if l.CreatedBy != uid {
			return fmt.Errorf("only the owner may unshare a list: %w", model.ErrForbidden)
		}
		res, err := tx.ExecContext(ctx, `delete from list_groups where list_id=$1 and group_id=$2`, listID, groupID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("list group: %w", model.ErrNotFound)
		}
		return nil
	})
}

// --- assignments ---

func (s *Store) TaskUsers(ctx context.Context, uid, taskID string) ([]model.TaskAssignment, error) {
	if _, _, err := s.visibleTask(ctx, s.db, uid, taskID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select tu.task_id, tu.user_id, u.display_name, tu.status, tu.assigned_at, tu.completed_at
		from task_users tu join users u on u.id = tu.user_id where tu.task_id=$1 order by tu.assigned_at, tu.user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TaskAssignment{}
	for rows.Next() {
		var a model.TaskAssignment
		var completed sql.NullTime
		if err := rows.Scan(&a.TaskID, &a.UserID, &a.DisplayName, &a.Status, &a.AssignedAt, &completed); err != nil {
			return nil, err
		}
		a.CompletedAt = timePtr(completed)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateTaskUser upserts the (task, user) assignment. A pending or accepted
// assignment also becomes the task's current assignee.
func (s *Store) UpdateTaskUser(ctx context.Context, uid, taskID, userID string, st model.AssignmentStatus) (model.TaskAssignment, error) {
	var out model.TaskAssignment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, _, err := s.visibleTask(ctx, tx, uid, taskID, true)
		if err != nil {
			return err
		}
		var name string
		if userID != "" {
			err := tx.QueryRowContext(ctx, `select display_name from users where id=$1`, userID).Scan(&name)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}
		var existing *model.TaskAssignment
		var cur model.TaskAssignment
		var completed sql.NullTime
		err = tx.QueryRowContext(ctx, `select task_id, user_id, status, assigned_at, completed_at from task_users
			where task_id=$1 and user_id=$2 for update`, taskID, userID).
			Scan(&cur.TaskID, &cur.UserID, &cur.Status, &cur.AssignedAt, &completed)
		switch {
		case err == nil:
			cur.CompletedAt = timePtr(completed)
			existing = &cur
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		now := s.now()
		rec, err := status.Assign(status.AssignmentRequest{
			TaskID: taskID, TaskCreator: t.CreatedBy, Assignee: userID, Requester: uid,
			Status: st, Existing: existing, Now: now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `insert into task_users(task_id, user_id, status, assigned_at, completed_at) values($1,$2,$3,$4,$5)
			on conflict (task_id, user_id) do update set status=excluded.status, completed_at=excluded.completed_at`,
			rec.TaskID, rec.UserID, string(rec.Status), rec.AssignedAt, nullTime(rec.CompletedAt)); err != nil {
			return err
		}
		if rec.Status == model.AssignmentPending || rec.Status == model.AssignmentAccepted {
			_, err = tx.ExecContext(ctx, `update tasks set assigned_to=$2, assigned_at=$3, last_active_at=$4 where id=$1`,
				taskID, userID, rec.AssignedAt, now)
		} else {
			_, err = tx.ExecContext(ctx, `update tasks set last_active_at=$2 where id=$1`, taskID, now)
		}
		if err != nil {
			return err
		}
		rec.DisplayName = name
		out = rec
		return nil
	})
	return out, err
}

// --- account ---

// SetupNewUser provisions the default village. Calling it again returns the
// existing one.
func (s *Store) SetupNewUser(ctx context.Context, uid, displayName string) (model.Group, error) {
	var out model.Group
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := s.ensureVillage(ctx, tx, uid, s.now())
		if err != nil {
			return err
		}
		if name := strings.TrimSpace(displayName); name != "" {
			if _, err := tx.ExecContext(ctx, `update users set display_name=$2 where id=$1`, uid, name); err != nil {
				return err
			}
		}
		if g.Members, err = s.membersOf(ctx, tx, g.ID); err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// AnonymizeUser scrubs the account: personal data goes, memberships are
// removed, and the user's lists and tasks stay behind under neutral names.
func (s *Store) AnonymizeUser(ctx context.Context, uid string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.anonymize(ctx, tx, uid)
	})
}

func (s *Store) anonymize(ctx context.Context, tx *sql.Tx, uid string) error {
	res, err := tx.ExecContext(ctx, `update users set display_name=$2, email=null, password_hash='' where id=$1`, uid, anonymousName(uid))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", uid, model.ErrNotFound)
	}
	stmts := []string{
		`update group_members set status='Removed', score=0, last_active_at=now() where user_id=$1`,
		`update tasks set name='[Deleted Task]', created_by=null where created_by=$1`,
		`update lists set name='[Deleted List]' where created_by=$1`,
		`delete from sessions where user_id=$1`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, uid); err != nil {
			return err
		}
	}
	return nil
}

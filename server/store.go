package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"village/gateway"
	"village/model"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store { return &Store{db: db, now: func() time.Time { return time.Now().UTC() }} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- users and sessions ---

const uniqueViolation = "23505"

// CreateUser registers an account and provisions its village in one go.
func (s *Store) CreateUser(ctx context.Context, email, password, displayName string) (model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(password) < 6 {
		return model.User{}, fmt.Errorf("email and a password of at least 6 characters are required: %w", model.ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}
	now := s.now()
	u := model.User{ID: uuid.NewString(), Email: email, DisplayName: strings.TrimSpace(displayName), CreatedAt: now}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `insert into users(id, email, password_hash, display_name, created_at, last_active_at)
			values($1,$2,$3,$4,$5,$5)`, u.ID, u.Email, string(hash), u.DisplayName, now); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("email already registered: %w", model.ErrInvalid)
			}
			return err
		}
		_, err := s.ensureVillage(ctx, tx, u.ID, now)
		return err
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Authenticate checks the password and returns the user. Unknown emails and
// wrong passwords look the same to the caller.
func (s *Store) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	var u model.User
	var hash string
	err := s.db.QueryRowContext(ctx, `select id, coalesce(email,''), display_name, created_at, password_hash
		from users where lower(email)=lower($1)`, strings.TrimSpace(email)).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	if err != nil {
		return model.User{}, err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return model.User{}, fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	return u, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	expires := s.now().Add(ttl)
	_, err := s.db.ExecContext(ctx, `insert into sessions(token, user_id, expires_at) values($1,$2,$3)`, token, userID, expires)
	if err != nil {
		return "", time.Time{}, err
	}
	if _, err := s.db.ExecContext(ctx, `update users set last_active_at=$2 where id=$1`, userID, s.now()); err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// UserBySession resolves a bearer token. Activity is recorded at most once
// an hour per user.
func (s *Store) UserBySession(ctx context.Context, token string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `select u.id, coalesce(u.email,''), u.display_name, u.created_at
		from sessions s join users u on u.id=s.user_id
		where s.token=$1 and s.expires_at > now()`, token).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("session expired or unknown: %w", model.ErrUnauthorized)
	}
	if err != nil {
		return model.User{}, err
	}
	_, err = s.db.ExecContext(ctx, `update users set last_active_at=now()
		where id=$1 and last_active_at < now() - interval '1 hour'`, u.ID)
	return u, err
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, token)
	return err
}

func (s *Store) userExists(ctx context.Context, q querier, id string) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `select exists(select 1 from users where id=$1)`, id).Scan(&ok)
	return ok, err
}

// --- column lists and scanners ---

const listCols = `l.id, l.name, l.importance, l.repeat, l.is_routine, coalesce(l.created_by,''), l.created_at, l.last_active_at`

func scanList(row scanner) (model.List, error) {
	var l model.List
	var repeat []byte
	if err := row.Scan(&l.ID, &l.Name, &l.Importance, &repeat, &l.IsRoutine, &l.CreatedBy, &l.CreatedAt, &l.LastActiveAt); err != nil {
		return model.List{}, err
	}
	r, err := decodeRepeat(repeat)
	if err != nil {
		return model.List{}, err
	}
	l.Repeat = r
	l.Tasks = []model.Task{}
	return l, nil
}

const taskCols = `t.id, t.list_id, t.name, t.status_id, t.importance, t.effort, t.deadline, t.repeat, t.days_done,
	coalesce(t.created_by,''), coalesce(t.assigned_to,''), t.assigned_at, t.completed_at, t.created_at, t.last_active_at`

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	var statusID int
	var repeat []byte
	var deadline, assignedAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.ListID, &t.Name, &statusID, &t.Importance, &t.Effort, &deadline, &repeat, &t.DaysDone,
		&t.CreatedBy, &t.AssignedTo, &assignedAt, &completedAt, &t.CreatedAt, &t.LastActiveAt)
	if err != nil {
		return model.Task{}, err
	}
	st, ok := model.TaskStatusFromID(statusID)
	if !ok {
		return model.Task{}, fmt.Errorf("task %s has unknown status id %d", t.ID, statusID)
	}
	t.Status = st
	if t.Repeat, err = decodeRepeat(repeat); err != nil {
		return model.Task{}, err
	}
	t.Deadline = timePtr(deadline)
	t.AssignedAt = timePtr(assignedAt)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}

const groupCols = `g.id, g.name, g.score, coalesce(g.created_by,''), g.created_at, g.last_active_at`

func scanGroup(row scanner) (model.Group, error) {
	var g model.Group
	err := row.Scan(&g.ID, &g.Name, &g.Score, &g.CreatedBy, &g.CreatedAt, &g.LastActiveAt)
	return g, err
}

const memberCols = `gm.group_id, gm.user_id, u.display_name, gm.role, gm.status, gm.score, gm.joined_at, gm.last_active_at`

func scanMember(row scanner) (model.GroupMember, error) {
	var m model.GroupMember
	err := row.Scan(&m.GroupID, &m.UserID, &m.DisplayName, &m.Role, &m.Status, &m.Score, &m.JoinedAt, &m.LastActiveAt)
	return m, err
}

func decodeRepeat(b []byte) (*model.Repeat, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var r model.Repeat
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode repeat: %w", err)
	}
	return &r, nil
}

// encodeRepeat returns a value suitable for a jsonb parameter.
func encodeRepeat(r *model.Repeat) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// anonymousName is shared with the in-memory backend so both scrub accounts
// the same way.
var anonymousName = gateway.AnonymousName

const schema = `
create table if not exists users(
    id text primary key,
    email text,
    password_hash text not null default '',
    display_name text not null default '',
    created_at timestamptz not null default now(),
    last_active_at timestamptz not null default now()
);
create unique index if not exists users_email_idx on users(lower(email));
create index if not exists users_last_active_idx on users(last_active_at);

create table if not exists sessions(
    token text primary key,
    user_id text not null references users(id) on delete cascade,
    created_at timestamptz not null default now(),
    expires_at timestamptz not null
);
create index if not exists sessions_user_idx on sessions(user_id);

create table if not exists lists(
    id text primary key,
    name text not null check (length(name) > 0),
    importance text not null default 'Medium',
    repeat jsonb,
    is_routine boolean not null default false,
    created_by text references users(id) on delete set null,
    created_at timestamptz not null default now(),
    last_active_at timestamptz not null default now()
);
create index if not exists lists_created_by_idx on lists(created_by);

create table if not exists tasks(
    id text primary key,
    list_id text not null references lists(id) on delete cascade,
    name text not null check (length(name) > 0),
    status_id smallint not null default 1 check (status_id between 1 and 7),
    importance text not null default 'Medium',
    effort text not null default '',
    deadline timestamptz,
    repeat jsonb,
    days_done integer not null default 0 check (days_done >= 0),
    created_by text references users(id) on delete set null,
    assigned_to text references users(id) on delete set null,
    assigned_at timestamptz,
    completed_at timestamptz,
    created_at timestamptz not null default now(),
    last_active_at timestamptz not null default now()
);
create index if not exists tasks_list_idx on tasks(list_id);

create table if not exists groups(
    id text primary key,
    name text not null check (length(name) > 0),
    score integer not null default 0,
    created_by text references users(id) on delete set null,
    created_at timestamptz not null default now(),
    last_active_at timestamptz not null default now()
);
create index if not exists groups_created_by_idx on groups(created_by);

create table if not exists group_members(
    group_id text not null references groups(id) on delete cascade,
    user_id text not null references users(id) on delete cascade,
    role text not null default 'Member',
    status text not null default 'Pending',
    score integer not null default 0,
    joined_at timestamptz not null default now(),
    last_active_at timestamptz not null default now(),
    primary key(group_id, user_id)
);
create index if not exists group_members_user_idx on group_members(user_id);

create table if not exists task_users(
    task_id text not null references tasks(id) on delete cascade,
    user_id text not null references users(id) on delete cascade,
    status text not null default 'Pending',
    assigned_at timestamptz not null default now(),
    completed_at timestamptz,
    primary key(task_id, user_id)
);

create table if not exists list_groups(
    list_id text not null references lists(id) on delete cascade,
    group_id text not null references groups(id) on delete cascade,
    status text not null default 'Active',
    primary key(list_id, group_id)
);
create index if not exists list_groups_group_idx on list_groups(group_id);
`

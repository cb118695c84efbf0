// Package cache keeps the signed-in user's lists and tasks in memory and
// applies mutations through the gateway.
//
// Creates and deletes are pessimistic: local state changes only after the
// gateway confirms. Status changes mirror what the server returns rather
// than recomputing the counter locally. Mutations of the same entity are
// serialized; mutations of different entities run concurrently.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"village/gateway"
	"village/model"
)

// refreshLimit caps concurrent per-list task fetches.
const refreshLimit = 4

// Identity tells the store who is signed in.
type Identity interface {
	CurrentUser() (model.User, bool)
}

// AuthNotifier is the auth-state subscription Bind hooks into.
type AuthNotifier interface {
	OnAuthStateChange(fn func(*model.User)) (cancel func())
}

// State is a snapshot handed to readers. It shares nothing with the store.
type State struct {
	Lists   []model.List
	Loading bool
	// Err is the most recent failure. Success does not clear it.
	Err error
}

type Store struct {
	gw  gateway.Gateway
	id  Identity
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	lists   []model.List
	loading bool
	err     error
	// gen changes on every Reset and Refresh; results computed under an
	// older generation are dropped.
	gen uint64

	subMu sync.Mutex
	subs  map[int]func(State)
	next  int

	locks keyLock
}

func New(gw gateway.Gateway, id Identity, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{gw: gw, id: id, log: log, now: time.Now, subs: map[int]func(State){}}
}

// Bind refreshes on sign-in and resets on sign-out.
func (s *Store) Bind(n AuthNotifier) (cancel func()) {
	return n.OnAuthStateChange(func(u *model.User) {
		if u == nil {
			s.Reset()
			return
		}
		go func() {
			if err := s.Refresh(context.Background()); err != nil {
				s.log.Warn("refresh after sign-in", "user", u.ID, "err", err)
			}
		}()
	})
}

// Subscribe registers fn to receive a snapshot after every state change.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := State{Loading: s.loading, Err: s.err}
	if s.lists != nil {
		st.Lists = make([]model.List, len(s.lists))
		for i, l := range s.lists {
			st.Lists[i] = l.Clone()
		}
	}
	return st
}

func (s *Store) notify() {
	s.mu.Lock()
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Reset tears the state down, as on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.gen++
	s.lists = nil
	s.loading = false
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// fail records err as the shared error and returns it.
func (s *Store) fail(op string, err error) error {
	s.log.Warn(op, "err", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.notify()
	return err
}

func (s *Store) invalid(op, msg string) error {
	return s.fail(op, fmt.Errorf("%s: %w", msg, model.ErrInvalid))
}

// user returns the signed-in user or records an authorization error.
func (s *Store) user(op string) (model.User, error) {
	if s.id != nil {
		if u, ok := s.id.CurrentUser(); ok {
			return u, nil
		}
	}
	return model.User{}, s.fail(op, fmt.Errorf("user must be authenticated: %w", model.ErrUnauthorized))
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// update runs fn on the lists under the lock unless the state was reset
// since gen was read. It reports whether fn ran.
func (s *Store) update(gen uint64, fn func(lists []model.List) []model.List) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.lists = fn(s.lists)
	s.mu.Unlock()
	s.notify()
	return true
}

// Refresh rebuilds local state from the gateway and swaps it in whole. A
// failed list fetch fails the refresh and keeps the lists already held; a
// failed task fetch only empties that list.
func (s *Store) Refresh(ctx context.Context) error {
	const op = "refresh"
	if _, err := s.user(op); err != nil {
		return err
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.loading = true
	s.mu.Unlock()
	s.notify()

	lists, err := s.gw.GetUserLists(ctx)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.loading = false
		}
		s.mu.Unlock()
		return s.fail(op, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(refreshLimit)
	for i := range lists {
		l := &lists[i]
		g.Go(func() error {
			tasks, err := s.gw.GetListTasks(ctx, l.ID)
			if err != nil {
				s.log.Warn("fetch list tasks", "list", l.ID, "err", err)
				l.Tasks = []model.Task{}
				return nil
			}
			l.Tasks = make([]model.Task, 0, len(tasks))
			for _, t := range tasks {
				if t.ListID != "" && t.ListID != l.ID {
					s.log.Warn("task belongs to another list", "task", t.ID, "list", l.ID, "task_list", t.ListID)
					continue
				}
				t.ListID = l.ID
				l.Tasks = append(l.Tasks, t)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.lists = lists
	s.loading = false
	s.mu.Unlock()
	s.notify()
	return nil
}

// Follow refreshes whenever the server reports a change, coalescing bursts.
// It returns when ctx is done or events is closed.
func (s *Store) Follow(ctx context.Context, events <-chan gateway.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.log.Debug("change event", "type", ev.Type, "id", ev.ID)
		drain:
			for {
				select {
				case _, ok := <-events:
					if !ok {
						break drain
					}
				default:
					break drain
				}
			}
			if err := s.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("refresh after event", "err", err)
			}
		}
	}
}

// List returns a copy of the cached list.
func (s *Store) List(id string) (model.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexList(s.lists, id); i >= 0 {
		return s.lists[i].Clone(), true
	}
	return model.List{}, false
}

func (s *Store) Task(listID, taskID string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexList(s.lists, listID)
	if i < 0 {
		return model.Task{}, false
	}
	if j := indexTask(s.lists[i].Tasks, taskID); j >= 0 {
		return s.lists[i].Tasks[j].Clone(), true
	}
	return model.Task{}, false
}

// Routines returns the cached lists flagged as routines.
func (s *Store) Routines() []model.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.List
	for _, l := range s.lists {
		if l.IsRoutine {
			out = append(out, l.Clone())
		}
	}
	return out
}

func indexList(lists []model.List, id string) int {
	for i := range lists {
		if lists[i].ID == id {
			return i
		}
	}
	return -1
}

func indexTask(tasks []model.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

package cache

import (
	"context"
	"fmt"
	"strings"

	"village/gateway"
	"village/model"
)

// CreateList creates the list remotely and appends it once the server has
// assigned its id.
func (s *Store) CreateList(ctx context.Context, name string, isRoutine bool) (model.List, error) {
	return s.CreateListWith(ctx, gateway.CreateListRequest{Name: name, IsRoutine: isRoutine})
}

// CreateListWith is CreateList with importance and recurrence.
func (s *Store) CreateListWith(ctx context.Context, req gateway.CreateListRequest) (model.List, error) {
	const op = "create list"
	if _, err := s.user(op); err != nil {
		return model.List{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return model.List{}, s.invalid(op, "list name cannot be empty")
	}
	gen := s.generation()
	l, err := s.gw.CreateList(ctx, req)
	if err != nil {
		return model.List{}, s.fail(op, err)
	}
	if l.Tasks == nil {
		l.Tasks = []model.Task{}
	}
	s.update(gen, func(lists []model.List) []model.List {
		if indexList(lists, l.ID) >= 0 {
			return lists
		}
		return append(lists, l.Clone())
	})
	return l, nil
}

// UpdateList sends only the fields present in patch and patches only those
// locally.
func (s *Store) UpdateList(ctx context.Context, listID string, patch gateway.ListPatch) (model.List, error) {
	const op = "update list"
	if _, err := s.user(op); err != nil {
		return model.List{}, err
	}
	if listID == "" {
		return model.List{}, s.invalid(op, "list id is required")
	}
	if patch.Empty() {
		return model.List{}, s.invalid(op, "nothing to update")
	}
	if err := patch.Validate(); err != nil {
		return model.List{}, s.fail(op, err)
	}
	unlock := s.locks.Lock("list:" + listID)
	defer unlock()

	if _, ok := s.List(listID); !ok {
		return model.List{}, s.fail(op, fmt.Errorf("list %s: %w", listID, model.ErrNotFound))
	}
	gen := s.generation()
	remote, err := s.gw.ModifyList(ctx, listID, patch)
	if err != nil {
		return model.List{}, s.fail(op, err)
	}
	var out model.List
	s.update(gen, func(lists []model.List) []model.List {
		i := indexList(lists, listID)
		if i < 0 {
			return lists
		}
		patch.Apply(&lists[i])
		if !remote.LastActiveAt.IsZero() {
			lists[i].LastActiveAt = remote.LastActiveAt
		}
		out = lists[i].Clone()
		return lists
	})
	if out.ID == "" {
		out = remote
	}
	return out, nil
}

// DeleteList removes the list and its tasks locally only after the gateway
// confirms.
func (s *Store) DeleteList(ctx context.Context, listID string) error {
	const op = "delete list"
	if _, err := s.user(op); err != nil {
		return err
	}
	if listID == "" {
		return s.invalid(op, "list id is required")
	}
	unlock := s.locks.Lock("list:" + listID)
	defer unlock()

	gen := s.generation()
	if err := s.gw.DeleteList(ctx, listID); err != nil {
		return s.fail(op, err)
	}
	s.update(gen, func(lists []model.List) []model.List {
		i := indexList(lists, listID)
		if i < 0 {
			return lists
		}
		return append(lists[:i:i], lists[i+1:]...)
	})
	return nil
}

// UpdateListGroup shares (or changes the share status of) a list with a
// group and touches the list so readers see a new version.
func (s *Store) UpdateListGroup(ctx context.Context, listID, groupID string, st model.GeneralStatus) (model.ListGroup, error) {
	const op = "update list group"
	if _, err := s.user(op); err != nil {
		return model.ListGroup{}, err
	}
	if listID == "" || groupID == "" {
		return model.ListGroup{}, s.invalid(op, "list and group ids are required")
	}
	gen := s.generation()
	lg, err := s.gw.UpdateListGroup(ctx, listID, groupID, st)
	if err != nil {
		return model.ListGroup{}, s.fail(op, err)
	}
	s.touchList(gen, listID)
	return lg, nil
}

func (s *Store) RemoveListGroup(ctx context.Context, listID, groupID string) error {
	const op = "remove list group"
	if _, err := s.user(op); err != nil {
		return err
	}
	if listID == "" || groupID == "" {
		return s.invalid(op, "list and group ids are required")
	}
	gen := s.generation()
	if err := s.gw.RemoveListGroup(ctx, listID, groupID); err != nil {
		return s.fail(op, err)
	}
	s.touchList(gen, listID)
	return nil
}

// ListGroups returns the groups a list is shared with.
func (s *Store) ListGroups(ctx context.Context, listID string) ([]model.ListGroup, error) {
	const op = "list groups"
	if _, err := s.user(op); err != nil {
		return nil, err
	}
	if listID == "" {
		return nil, s.invalid(op, "list id is required")
	}
	out, err := s.gw.GetListGroups(ctx, listID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) touchList(gen uint64, listID string) {
	now := s.now().UTC()
	s.update(gen, func(lists []model.List) []model.List {
		if i := indexList(lists, listID); i >= 0 {
			lists[i].LastActiveAt = now
		}
		return lists
	})
}

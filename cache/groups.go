package cache

import (
	"context"
	"strings"

	"village/model"
)

// Group operations are pass-throughs: villages are not held in the store,
// but failures land in the shared error like every other operation.

func (s *Store) Groups(ctx context.Context) ([]model.Group, error) {
	const op = "groups"
	if _, err := s.user(op); err != nil {
		return nil, err
	}
	out, err := s.gw.GetUserGroups(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) CreateGroup(ctx context.Context, name string) (model.Group, error) {
	const op = "create group"
	if _, err := s.user(op); err != nil {
		return model.Group{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, s.invalid(op, "group name cannot be empty")
	}
	if name == model.DefaultGroupName {
		return model.Group{}, s.invalid(op, "group name is reserved")
	}
	g, err := s.gw.CreateGroup(ctx, name)
	if err != nil {
		return model.Group{}, s.fail(op, err)
	}
	return g, nil
}

// InviteToGroup adds userID to the group as Pending.
func (s *Store) InviteToGroup(ctx context.Context, groupID, userID string) (model.GroupMember, error) {
	const op = "invite to group"
	if _, err := s.user(op); err != nil {
		return model.GroupMember{}, err
	}
	if groupID == "" || userID == "" {
		return model.GroupMember{}, s.invalid(op, "group and user ids are required")
	}
	m, err := s.gw.AddUserToGroup(ctx, groupID, userID)
	if err != nil {
		return model.GroupMember{}, s.fail(op, err)
	}
	return m, nil
}

func (s *Store) RemoveFromGroup(ctx context.Context, groupID, userID string) error {
	const op = "remove from group"
	if _, err := s.user(op); err != nil {
		return err
	}
	if groupID == "" || userID == "" {
		return s.invalid(op, "group and user ids are required")
	}
	unlock := s.locks.Lock("member:" + groupID + "/" + userID)
	defer unlock()
	if err := s.gw.DeleteUserFromGroup(ctx, groupID, userID); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// SetMemberStatus moves a membership along its lifecycle, e.g. accepting an
// invite or leaving a village.
func (s *Store) SetMemberStatus(ctx context.Context, groupID, userID string, st model.MemberStatus) (model.GroupMember, error) {
	const op = "set member status"
	if _, err := s.user(op); err != nil {
		return model.GroupMember{}, err
	}
	if groupID == "" || userID == "" {
		return model.GroupMember{}, s.invalid(op, "group and user ids are required")
	}
	if !st.Valid() {
		return model.GroupMember{}, s.invalid(op, "unknown member status "+string(st))
	}
	unlock := s.locks.Lock("member:" + groupID + "/" + userID)
	defer unlock()
	m, err := s.gw.UpdateGroupMemberStatus(ctx, groupID, userID, st)
	if err != nil {
		return model.GroupMember{}, s.fail(op, err)
	}
	return m, nil
}

// InviteCandidates lists the people in the user's own village.
func (s *Store) InviteCandidates(ctx context.Context) ([]model.User, error) {
	const op = "invite candidates"
	if _, err := s.user(op); err != nil {
		return nil, err
	}
	out, err := s.gw.InviteCandidates(ctx)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

// signerOut is implemented by identities that can drop the session locally.
type signerOut interface {
	Clear()
}

// AnonymizeAccount scrubs the account server-side, then signs out and
// resets the store.
func (s *Store) AnonymizeAccount(ctx context.Context) error {
	const op = "anonymize account"
	if _, err := s.user(op); err != nil {
		return err
	}
	if err := s.gw.AnonymizeUser(ctx); err != nil {
		return s.fail(op, err)
	}
	if so, ok := s.id.(signerOut); ok {
		so.Clear()
	}
	s.Reset()
	return nil
}

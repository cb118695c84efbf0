package main

import (
	"context"

	"village/gateway"
	"village/model"
)

func (a *api) notifyGroup(ctx context.Context, actor, groupID string, extra []string, ev gateway.Event) {
	aud, err := a.store.GroupAudience(ctx, groupID)
	if err != nil {
		a.log.Warn("group audience", "group", groupID, "err", err)
	}
	a.bus.Publish(append(append(aud, extra...), actor), ev)
}

func (a *api) getUserGroups(ctx context.Context, u model.User, _ struct{}) ([]model.Group, error) {
	return a.store.UserGroups(ctx, u.ID)
}

func (a *api) createGroup(ctx context.Context, u model.User, req gateway.GroupRequest) (model.Group, error) {
	g, err := a.store.CreateGroup(ctx, u.ID, req.Name)
	if err != nil {
		return model.Group{}, err
	}
	a.bus.Publish([]string{u.ID}, gateway.Event{Type: "group.created", Entity: "group", ID: g.ID})
	return g, nil
}

func (a *api) addUserToGroup(ctx context.Context, u model.User, req gateway.MemberRequest) (model.GroupMember, error) {
	m, err := a.store.AddUserToGroup(ctx, u.ID, req.GroupID, req.UserID)
	if err != nil {
		return model.GroupMember{}, err
	}
	a.notifyGroup(ctx, u.ID, req.GroupID, nil, gateway.Event{Type: "member.invited", Entity: "group", ID: req.GroupID})
	return m, nil
}

func (a *api) deleteUserFromGroup(ctx context.Context, u model.User, req gateway.MemberRequest) (struct{}, error) {
	if _, err := a.store.ChangeMember(ctx, u.ID, req.GroupID, req.UserID, model.MemberRemoved); err != nil {
		return struct{}{}, err
	}
	a.notifyGroup(ctx, u.ID, req.GroupID, []string{req.UserID}, gateway.Event{Type: "member.removed", Entity: "group", ID: req.GroupID})
	return struct{}{}, nil
}

func (a *api) updateGroupMemberStatus(ctx context.Context, u model.User, req gateway.MemberRequest) (model.GroupMember, error) {
	m, err := a.store.ChangeMember(ctx, u.ID, req.GroupID, req.UserID, req.Status)
	if err != nil {
		return model.GroupMember{}, err
	}
	a.notifyGroup(ctx, u.ID, req.GroupID, []string{req.UserID}, gateway.Event{Type: "member.updated", Entity: "group", ID: req.GroupID})
	return m, nil
}

func (a *api) inviteCandidates(ctx context.Context, u model.User, _ struct{}) ([]model.User, error) {
	return a.store.InviteCandidates(ctx, u.ID)
}

func (a *api) updateListGroup(ctx context.Context, u model.User, req gateway.ListGroupRequest) (model.ListGroup, error) {
	// members who lose access with a status change still need to hear about it
	before, _ := a.store.ListAudience(ctx, req.ListID)
	lg, err := a.store.UpdateListGroup(ctx, u.ID, req.ListID, req.GroupID, req.Status)
	if err != nil {
		return model.ListGroup{}, err
	}
	a.notifyList(ctx, u.ID, req.ListID, gateway.Event{Type: "list.shared", Entity: "list", ID: req.ListID})
	a.bus.Publish(before, gateway.Event{Type: "list.shared", Entity: "list", ID: req.ListID})
	return lg, nil
}

func (a *api) getListGroups(ctx context.Context, u model.User, req gateway.ListRef) ([]model.ListGroup, error) {
	return a.store.ListGroups(ctx, u.ID, req.ListID)
}

func (a *api) removeListGroup(ctx context.Context, u model.User, req gateway.ListGroupRequest) (struct{}, error) {
	before, _ := a.store.ListAudience(ctx, req.ListID)
	if err := a.store.RemoveListGroup(ctx, u.ID, req.ListID, req.GroupID); err != nil {
		return struct{}{}, err
	}
	a.bus.Publish(append(before, u.ID), gateway.Event{Type: "list.unshared", Entity: "list", ID: req.ListID})
	return struct{}{}, nil
}

func (a *api) getTaskUsers(ctx context.Context, u model.User, req gateway.TaskRef) ([]model.TaskAssignment, error) {
	return a.store.TaskUsers(ctx, u.ID, req.TaskID)
}

func (a *api) updateTaskUser(ctx context.Context, u model.User, req gateway.TaskUserRequest) (model.TaskAssignment, error) {
	rec, err := a.store.UpdateTaskUser(ctx, u.ID, req.TaskID, req.UserID, req.Status)
	if err != nil {
		return model.TaskAssignment{}, err
	}
	a.bus.Publish([]string{u.ID, req.UserID}, gateway.Event{Type: "task.assigned", Entity: "task", ID: req.TaskID})
	return rec, nil
}

func (a *api) setupNewUser(ctx context.Context, u model.User, req gateway.SetupRequest) (model.Group, error) {
	return a.store.SetupNewUser(ctx, u.ID, req.DisplayName)
}

func (a *api) anonymizeUser(ctx context.Context, u model.User, _ struct{}) (struct{}, error) {
	if err := a.store.AnonymizeUser(ctx, u.ID); err != nil {
		return struct{}{}, err
	}
	a.log.Info("account anonymized", "user", u.ID)
	return struct{}{}, nil
}

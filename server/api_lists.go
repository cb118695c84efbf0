package main

import (
	"context"

	"village/gateway"
	"village/model"
)

// notifyList publishes ev to everyone who can see the list, falling back to
// the actor alone when the audience cannot be resolved.
func (a *api) notifyList(ctx context.Context, actor, listID string, ev gateway.Event) {
	aud, err := a.store.ListAudience(ctx, listID)
	if err != nil {
		a.log.Warn("list audience", "list", listID, "err", err)
	}
	a.bus.Publish(append(aud, actor), ev)
}

func (a *api) createList(ctx context.Context, u model.User, req gateway.CreateListRequest) (model.List, error) {
	l, err := a.store.CreateList(ctx, u.ID, req)
	if err != nil {
		return model.List{}, err
	}
	a.bus.Publish([]string{u.ID}, gateway.Event{Type: "list.created", Entity: "list", ID: l.ID})
	return l, nil
}

func (a *api) getUserLists(ctx context.Context, u model.User, _ struct{}) ([]model.List, error) {
	return a.store.UserLists(ctx, u.ID)
}

func (a *api) deleteList(ctx context.Context, u model.User, req gateway.ListRef) (struct{}, error) {
	// the audience has to be read before the shares are cascaded away
	aud, err := a.store.ListAudience(ctx, req.ListID)
	if err != nil {
		a.log.Warn("list audience", "list", req.ListID, "err", err)
	}
	if err := a.store.DeleteList(ctx, u.ID, req.ListID); err != nil {
		return struct{}{}, err
	}
	a.bus.Publish(append(aud, u.ID), gateway.Event{Type: "list.deleted", Entity: "list", ID: req.ListID})
	return struct{}{}, nil
}

func (a *api) modifyList(ctx context.Context, u model.User, req gateway.ModifyListRequest) (model.List, error) {
	l, err := a.store.ModifyList(ctx, u.ID, req.ListID, req.ListPatch)
	if err != nil {
		return model.List{}, err
	}
	a.notifyList(ctx, u.ID, l.ID, gateway.Event{Type: "list.updated", Entity: "list", ID: l.ID})
	return l, nil
}

func (a *api) createTask(ctx context.Context, u model.User, req gateway.CreateTaskRequest) (model.Task, error) {
	t, err := a.store.CreateTask(ctx, u.ID, req)
	if err != nil {
		return model.Task{}, err
	}
	a.notifyList(ctx, u.ID, t.ListID, gateway.Event{Type: "task.created", Entity: "task", ID: t.ID})
	return t, nil
}

func (a *api) getListTasks(ctx context.Context, u model.User, req gateway.ListRef) ([]model.Task, error) {
	return a.store.ListTasks(ctx, u.ID, req.ListID)
}

func (a *api) deleteTask(ctx context.Context, u model.User, req gateway.TaskRef) (struct{}, error) {
	t, err := a.store.DeleteTask(ctx, u.ID, req.TaskID)
	if err != nil {
		return struct{}{}, err
	}
	a.notifyList(ctx, u.ID, t.ListID, gateway.Event{Type: "task.deleted", Entity: "task", ID: t.ID})
	return struct{}{}, nil
}

func (a *api) modifyTask(ctx context.Context, u model.User, req gateway.ModifyTaskRequest) (model.Task, error) {
	t, err := a.store.ModifyTask(ctx, u.ID, req.TaskID, req.TaskPatch)
	if err != nil {
		return model.Task{}, err
	}
	a.notifyList(ctx, u.ID, t.ListID, gateway.Event{Type: "task.updated", Entity: "task", ID: t.ID})
	return t, nil
}

func (a *api) modifyTaskStatus(ctx context.Context, u model.User, req gateway.TaskStatusRequest) (model.Task, error) {
	t, err := a.store.ModifyTaskStatus(ctx, u.ID, req.TaskID, req.Status)
	if err != nil {
		return model.Task{}, err
	}
	a.notifyList(ctx, u.ID, t.ListID, gateway.Event{Type: "task.status", Entity: "task", ID: t.ID})
	return t, nil
}

package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"village/model"
	"village/status"
)

type memberKey struct{ group, user string }
type taskUserKey struct{ task, user string }
type listGroupKey struct{ list, group string }

// Memory is an in-process backend running the same procedures as the
// server, with the same rules. It is what the cache tests run against.
type Memory struct {
	mu sync.Mutex

	users      map[string]*model.User
	lists      map[string]*model.List
	tasks      map[string]*model.Task
	groups     map[string]*model.Group
	members    map[memberKey]*model.GroupMember
	taskUsers  map[taskUserKey]*model.TaskAssignment
	listGroups map[listGroupKey]*model.ListGroup
	listOrder  []string
	taskOrder  []string
	groupOrder []string

	// Fail makes the named procedure fail with the given error before doing
	// anything. Set it through SetFail once calls may be in flight.
	Fail map[string]error
	// Delay, when set, runs before each procedure outside the lock.
	Delay func(proc string)
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*model.User),
		lists:      make(map[string]*model.List),
		tasks:      make(map[string]*model.Task),
		groups:     make(map[string]*model.Group),
		members:    make(map[memberKey]*model.GroupMember),
		taskUsers:  make(map[taskUserKey]*model.TaskAssignment),
		listGroups: make(map[listGroupKey]*model.ListGroup),
		Fail:       make(map[string]error),
	}
}

// SetFail arms (or with a nil err disarms) failure injection for proc.
func (m *Memory) SetFail(proc string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Fail, proc)
		return
	}
	m.Fail[proc] = err
}

// Register creates a user and provisions their default village.
func (m *Memory) Register(email, displayName string) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	u := &model.User{ID: uuid.NewString(), Email: email, DisplayName: displayName, CreatedAt: now}
	m.users[u.ID] = u
	m.setupLocked(u.ID, now)
	return *u
}

// As returns the gateway seen by userID.
func (m *Memory) As(userID string) *MemoryGateway {
	return &MemoryGateway{m: m, uid: userID}
}

// TaskSnapshot reads a task straight from the backend, bypassing visibility.
func (m *Memory) TaskSnapshot(id string) (model.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// begin runs the delay hook, takes the lock and reports any injected
// failure. On success the caller must unlock.
func (m *Memory) begin(proc, uid string) error {
	if m.Delay != nil {
		m.Delay(proc)
	}
	m.mu.Lock()
	if err := m.Fail[proc]; err != nil {
		m.mu.Unlock()
		return Wrap(proc, err)
	}
	if _, ok := m.users[uid]; !ok {
		m.mu.Unlock()
		return Wrap(proc, fmt.Errorf("unknown session: %w", model.ErrUnauthorized))
	}
	return nil
}

func (m *Memory) accepted(groupID, uid string) (*model.GroupMember, bool) {
	gm, ok := m.members[memberKey{groupID, uid}]
	return gm, ok && gm.Status == model.MemberAccepted
}

// canSee reports whether uid owns the list or reaches it through an active
// share to a group they are an accepted member of.
func (m *Memory) canSee(uid string, l *model.List) bool {
	if l.CreatedBy == uid {
		return true
	}
	for k, lg := range m.listGroups {
		if k.list != l.ID || lg.Status != model.GeneralActive {
			continue
		}
		if _, ok := m.accepted(k.group, uid); ok {
			return true
		}
	}
	return false
}

func (m *Memory) visibleList(uid, listID string) (*model.List, error) {
	if listID == "" {
		return nil, fmt.Errorf("list id: %w", model.ErrInvalid)
	}
	l, ok := m.lists[listID]
	if !ok || !m.canSee(uid, l) {
		return nil, fmt.Errorf("list %s: %w", listID, model.ErrNotFound)
	}
	return l, nil
}

func (m *Memory) visibleTask(uid, taskID string) (*model.Task, *model.List, error) {
	if taskID == "" {
		return nil, nil, fmt.Errorf("task id: %w", model.ErrInvalid)
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	l, err := m.visibleList(uid, t.ListID)
	if err != nil {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	return t, l, nil
}

func (m *Memory) defaultGroup(uid string) *model.Group {
	for _, id := range m.groupOrder {
		g := m.groups[id]
		if g.CreatedBy == uid && g.IsDefault() {
			return g
		}
	}
	return nil
}

func (m *Memory) setupLocked(uid string, now time.Time) *model.Group {
	if g := m.defaultGroup(uid); g != nil {
		return g
	}
	g := &model.Group{ID: uuid.NewString(), Name: model.DefaultGroupName, Score: -1, CreatedBy: uid, CreatedAt: now, LastActiveAt: now}
	m.groups[g.ID] = g
	m.groupOrder = append(m.groupOrder, g.ID)
	m.members[memberKey{g.ID, uid}] = &model.GroupMember{
		GroupID: g.ID, UserID: uid, Role: model.RoleAdmin, Status: model.MemberAccepted,
		JoinedAt: now, LastActiveAt: now,
	}
	return g
}

func (m *Memory) displayName(uid string) string {
	if u, ok := m.users[uid]; ok {
		return u.DisplayName
	}
	return ""
}

func (m *Memory) deleteTaskLocked(id string) {
	delete(m.tasks, id)
	m.taskOrder = slices.DeleteFunc(m.taskOrder, func(s string) bool { return s == id })
	for k := range m.taskUsers {
		if k.task == id {
			delete(m.taskUsers, k)
		}
	}
}

// MemoryGateway is one user's view of a Memory backend.
type MemoryGateway struct {
	m   *Memory
	uid string
}

func (g *MemoryGateway) UserID() string { return g.uid }

func (g *MemoryGateway) CreateList(ctx context.Context, req CreateListRequest) (model.List, error) {
	m := g.m
	if err := m.begin(ProcCreateList, g.uid); err != nil {
		return model.List{}, err
	}
	defer m.mu.Unlock()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.List{}, Wrap(ProcCreateList, fmt.Errorf("list name required: %w", model.ErrInvalid))
	}
	imp := req.Importance
	if imp == "" {
		imp = model.ImportanceMedium
	}
	if !imp.Valid() {
		return model.List{}, Wrap(ProcCreateList, fmt.Errorf("importance %q: %w", imp, model.ErrInvalid))
	}
	now := m.now()
	l := &model.List{
		ID: uuid.NewString(), Name: name, Importance: imp, CreatedBy: g.uid,
		CreatedAt: now, LastActiveAt: now, IsRoutine: req.IsRoutine, Tasks: []model.Task{},
	}
	if req.Repeat != nil {
		r := *req.Repeat
		l.Repeat = &r
	}
	m.lists[l.ID] = l
	m.listOrder = append(m.listOrder, l.ID)
	return l.Clone(), nil
}

func (g *MemoryGateway) GetUserLists(ctx context.Context) ([]model.List, error) {
	m := g.m
	if err := m.begin(ProcGetUserLists, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := []model.List{}
	for _, id := range m.listOrder {
		l := m.lists[id]
		if !m.canSee(g.uid, l) {
			continue
		}
		c := l.Clone()
		c.Tasks = []model.Task{}
		out = append(out, c)
	}
	return out, nil
}

func (g *MemoryGateway) DeleteList(ctx context.Context, listID string) error {
	m := g.m
	if err := m.begin(ProcDeleteList, g.uid); err != nil {
		return err
	}
	defer m.mu.Unlock()

	l, err := m.visibleList(g.uid, listID)
	if err != nil {
		return Wrap(ProcDeleteList, err)
	}
	if l.CreatedBy != g.uid {
		return Wrap(ProcDeleteList, fmt.Errorf("only the owner may delete a list: %w", model.ErrForbidden))
	}
	for _, tid := range slices.Clone(m.taskOrder) {
		if m.tasks[tid].ListID == listID {
			m.deleteTaskLocked(tid)
		}
	}
	for k := range m.listGroups {
		if k.list == listID {
			delete(m.listGroups, k)
		}
	}
	delete(m.lists, listID)
	m.listOrder = slices.DeleteFunc(m.listOrder, func(s string) bool { return s == listID })
	return nil
}

func (g *MemoryGateway) ModifyList(ctx context.Context, listID string, patch ListPatch) (model.List, error) {
	m := g.m
	if err := m.begin(ProcModifyList, g.uid); err != nil {
		return model.List{}, err
	}
	defer m.mu.Unlock()

	if patch.Empty() {
		return model.List{}, Wrap(ProcModifyList, fmt.Errorf("nothing to update: %w", model.ErrInvalid))
	}
	if err := patch.Validate(); err != nil {
		return model.List{}, Wrap(ProcModifyList, err)
	}
	l, err := m.visibleList(g.uid, listID)
	if err != nil {
		return model.List{}, Wrap(ProcModifyList, err)
	}
	if l.CreatedBy != g.uid {
		return model.List{}, Wrap(ProcModifyList, fmt.Errorf("only the owner may edit a list: %w", model.ErrForbidden))
	}
	patch.Apply(l)
	l.LastActiveAt = m.now()
	c := l.Clone()
	c.Tasks = nil
	return c, nil
}

func (g *MemoryGateway) CreateTask(ctx context.Context, req CreateTaskRequest) (model.Task, error) {
	m := g.m
	if err := m.begin(ProcCreateTask, g.uid); err != nil {
		return model.Task{}, err
	}
	defer m.mu.Unlock()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Task{}, Wrap(ProcCreateTask, fmt.Errorf("task name required: %w", model.ErrInvalid))
	}
	imp := req.Importance
	if imp == "" {
		imp = model.ImportanceMedium
	}
	if !imp.Valid() || (req.Effort != "" && !req.Effort.Valid()) {
		return model.Task{}, Wrap(ProcCreateTask, fmt.Errorf("importance or effort: %w", model.ErrInvalid))
	}
	if _, err := m.visibleList(g.uid, req.ListID); err != nil {
		return model.Task{}, Wrap(ProcCreateTask, err)
	}
	now := m.now()
	t := &model.Task{
		ID: uuid.NewString(), ListID: req.ListID, Name: name, Status: model.StatusToDo,
		Importance: imp, Effort: req.Effort, CreatedAt: now, LastActiveAt: now, CreatedBy: g.uid,
	}
	TaskPatch{Deadline: req.Deadline, Repeat: req.Repeat}.Apply(t)
	m.tasks[t.ID] = t
	m.taskOrder = append(m.taskOrder, t.ID)
	return t.Clone(), nil
}

func (g *MemoryGateway) GetListTasks(ctx context.Context, listID string) ([]model.Task, error) {
	m := g.m
	if err := m.begin(ProcGetListTasks, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if _, err := m.visibleList(g.uid, listID); err != nil {
		return nil, Wrap(ProcGetListTasks, err)
	}
	out := []model.Task{}
	for _, id := range m.taskOrder {
		if t := m.tasks[id]; t.ListID == listID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (g *MemoryGateway) DeleteTask(ctx context.Context, taskID string) error {
	m := g.m
	if err := m.begin(ProcDeleteTask, g.uid); err != nil {
		return err
	}
	defer m.mu.Unlock()

	t, l, err := m.visibleTask(g.uid, taskID)
	if err != nil {
		return Wrap(ProcDeleteTask, err)
	}
	if t.CreatedBy != g.uid && l.CreatedBy != g.uid {
		return Wrap(ProcDeleteTask, fmt.Errorf("only the creator may delete a task: %w", model.ErrForbidden))
	}
	m.deleteTaskLocked(taskID)
	return nil
}

func (g *MemoryGateway) ModifyTask(ctx context.Context, taskID string, patch TaskPatch) (model.Task, error) {
	m := g.m
	if err := m.begin(ProcModifyTask, g.uid); err != nil {
		return model.Task{}, err
	}
	defer m.mu.Unlock()

	if patch.Empty() {
		return model.Task{}, Wrap(ProcModifyTask, fmt.Errorf("nothing to update: %w", model.ErrInvalid))
	}
	if err := patch.Validate(); err != nil {
		return model.Task{}, Wrap(ProcModifyTask, err)
	}
	t, _, err := m.visibleTask(g.uid, taskID)
	if err != nil {
		return model.Task{}, Wrap(ProcModifyTask, err)
	}
	patch.Apply(t)
	t.LastActiveAt = m.now()
	return t.Clone(), nil
}

func (g *MemoryGateway) ModifyTaskStatus(ctx context.Context, taskID string, st model.TaskStatus) (model.Task, error) {
	m := g.m
	if err := m.begin(ProcModifyTaskStatus, g.uid); err != nil {
		return model.Task{}, err
	}
	defer m.mu.Unlock()

	t, _, err := m.visibleTask(g.uid, taskID)
	if err != nil {
		return model.Task{}, Wrap(ProcModifyTaskStatus, err)
	}
	next, err := status.ApplyStatus(*t, st, m.now())
	if err != nil {
		return model.Task{}, Wrap(ProcModifyTaskStatus, err)
	}
	*t = next
	return next.Clone(), nil
}

func (g *MemoryGateway) GetUserGroups(ctx context.Context) ([]model.Group, error) {
	m := g.m
	if err := m.begin(ProcGetUserGroups, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := []model.Group{}
	for _, id := range m.groupOrder {
		gm, ok := m.members[memberKey{id, g.uid}]
		if !ok || (gm.Status != model.MemberPending && gm.Status != model.MemberAccepted) {
			continue
		}
		grp := m.groups[id].Clone()
		grp.Members = m.membersOf(id)
		out = append(out, grp)
	}
	return out, nil
}

// membersOf lists the accepted members of a group in join order.
func (m *Memory) membersOf(groupID string) []model.GroupMember {
	var all []model.GroupMember
	for k, gm := range m.members {
		if k.group != groupID {
			continue
		}
		c := *gm
		c.DisplayName = m.displayName(k.user)
		all = append(all, c)
	}
	slices.SortFunc(all, func(a, b model.GroupMember) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return status.VisibleMembers(all)
}

func (g *MemoryGateway) CreateGroup(ctx context.Context, name string) (model.Group, error) {
	m := g.m
	if err := m.begin(ProcCreateGroup, g.uid); err != nil {
		return model.Group{}, err
	}
	defer m.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" || name == model.DefaultGroupName {
		return model.Group{}, Wrap(ProcCreateGroup, fmt.Errorf("group name %q: %w", name, model.ErrInvalid))
	}
	now := m.now()
	grp := &model.Group{ID: uuid.NewString(), Name: name, CreatedBy: g.uid, CreatedAt: now, LastActiveAt: now}
	m.groups[grp.ID] = grp
	m.groupOrder = append(m.groupOrder, grp.ID)
	m.members[memberKey{grp.ID, g.uid}] = &model.GroupMember{
		GroupID: grp.ID, UserID: g.uid, Role: model.RoleAdmin, Status: model.MemberAccepted,
		JoinedAt: now, LastActiveAt: now,
	}
	out := grp.Clone()
	out.Members = m.membersOf(grp.ID)
	return out, nil
}

func (g *MemoryGateway) AddUserToGroup(ctx context.Context, groupID, userID string) (model.GroupMember, error) {
	m := g.m
	if err := m.begin(ProcAddUserToGroup, g.uid); err != nil {
		return model.GroupMember{}, err
	}
	defer m.mu.Unlock()

	if groupID == "" || userID == "" {
		return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("group and user required: %w", model.ErrInvalid))
	}
	grp, ok := m.groups[groupID]
	if !ok {
		return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("group %s: %w", groupID, model.ErrNotFound))
	}
	if me, ok := m.accepted(groupID, g.uid); !ok || me.Role != model.RoleAdmin {
		return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("only a group admin may invite: %w", model.ErrForbidden))
	}
	if _, ok := m.users[userID]; !ok {
		return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("user %s: %w", userID, model.ErrNotFound))
	}
	if !grp.IsDefault() {
		home := m.defaultGroup(g.uid)
		if home == nil {
			return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("no village to invite from: %w", model.ErrForbidden))
		}
		if _, ok := m.accepted(home.ID, userID); !ok {
			return model.GroupMember{}, Wrap(ProcAddUserToGroup, fmt.Errorf("user is not in your village: %w", model.ErrForbidden))
		}
	}
	var existing *model.GroupMember
	if cur, ok := m.members[memberKey{groupID, userID}]; ok {
		existing = cur
	}
	rec, err := status.Invite(groupID, userID, existing, m.now())
	if err != nil {
		return model.GroupMember{}, Wrap(ProcAddUserToGroup, err)
	}
	m.members[memberKey{groupID, userID}] = &rec
	rec.DisplayName = m.displayName(userID)
	return rec, nil
}

func (g *MemoryGateway) DeleteUserFromGroup(ctx context.Context, groupID, userID string) error {
	_, err := g.changeMember(ProcDeleteUserFromGroup, groupID, userID, model.MemberRemoved)
	return err
}

func (g *MemoryGateway) UpdateGroupMemberStatus(ctx context.Context, groupID, userID string, st model.MemberStatus) (model.GroupMember, error) {
	return g.changeMember(ProcUpdateGroupMemberStatus, groupID, userID, st)
}

func (g *MemoryGateway) changeMember(proc, groupID, userID string, target model.MemberStatus) (model.GroupMember, error) {
	m := g.m
	if err := m.begin(proc, g.uid); err != nil {
		return model.GroupMember{}, err
	}
	defer m.mu.Unlock()

	if groupID == "" || userID == "" {
		return model.GroupMember{}, Wrap(proc, fmt.Errorf("group and user required: %w", model.ErrInvalid))
	}
	rec, ok := m.members[memberKey{groupID, userID}]
	if !ok {
		return model.GroupMember{}, Wrap(proc, fmt.Errorf("membership: %w", model.ErrNotFound))
	}
	role := model.RoleGuest
	if me, ok := m.accepted(groupID, g.uid); ok {
		role = me.Role
	}
	out, err := status.RequestMembershipTransition(status.MembershipChange{
		Current: rec.Status, Target: target, Requester: role, Self: userID == g.uid,
	})
	if err != nil {
		return model.GroupMember{}, Wrap(proc, err)
	}
	if !out.NoOp {
		rec.Status = out.Status
		if out.ResetScore {
			rec.Score = 0
		}
		rec.LastActiveAt = m.now()
	}
	c := *rec
	c.DisplayName = m.displayName(userID)
	return c, nil
}

func (g *MemoryGateway) InviteCandidates(ctx context.Context) ([]model.User, error) {
	m := g.m
	if err := m.begin(ProcInviteCandidates, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := []model.User{}
	home := m.defaultGroup(g.uid)
	if home == nil {
		return out, nil
	}
	for _, gm := range m.membersOf(home.ID) {
		if gm.UserID == g.uid {
			continue
		}
		u := *m.users[gm.UserID]
		u.Email = ""
		out = append(out, u)
	}
	return out, nil
}

func (g *MemoryGateway) UpdateListGroup(ctx context.Context, listID, groupID string, st model.GeneralStatus) (model.ListGroup, error) {
	m := g.m
	if err := m.begin(ProcUpdateListGroup, g.uid); err != nil {
		return model.ListGroup{}, err
	}
	defer m.mu.Unlock()

	if st == "" {
		st = model.GeneralActive
	}
	if !st.Valid() || groupID == "" {
		return model.ListGroup{}, Wrap(ProcUpdateListGroup, fmt.Errorf("list group: %w", model.ErrInvalid))
	}
	l, err := m.visibleList(g.uid, listID)
	if err != nil {
		return model.ListGroup{}, Wrap(ProcUpdateListGroup, err)
	}
	grp, ok := m.groups[groupID]
	if !ok {
		return model.ListGroup{}, Wrap(ProcUpdateListGroup, fmt.Errorf("group %s: %w", groupID, model.ErrNotFound))
	}
	if l.CreatedBy != g.uid {
		return model.ListGroup{}, Wrap(ProcUpdateListGroup, fmt.Errorf("only the owner may share a list: %w", model.ErrForbidden))
	}
	if _, ok := m.accepted(groupID, g.uid); !ok {
		return model.ListGroup{}, Wrap(ProcUpdateListGroup, fmt.Errorf("not a member of the group: %w", model.ErrForbidden))
	}
	lg := &model.ListGroup{ListID: listID, GroupID: groupID, GroupName: grp.Name, Status: st}
	m.listGroups[listGroupKey{listID, groupID}] = lg
	now := m.now()
	l.LastActiveAt = now
	grp.LastActiveAt = now
	return *lg, nil
}

func (g *MemoryGateway) GetListGroups(ctx context.Context, listID string) ([]model.ListGroup, error) {
	m := g.m
	if err := m.begin(ProcGetListGroups, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if _, err := m.visibleList(g.uid, listID); err != nil {
		return nil, Wrap(ProcGetListGroups, err)
	}
	out := []model.ListGroup{}
	for _, gid := range m.groupOrder {
		if lg, ok := m.listGroups[listGroupKey{listID, gid}]; ok {
			out = append(out, *lg)
		}
	}
	return out, nil
}

func (g *MemoryGateway) RemoveListGroup(ctx context.Context, listID, groupID string) error {
	m := g.m
	if err := m.begin(ProcRemoveListGroup, g.uid); err != nil {
		return err
	}
	defer m.mu.Unlock()

	l, err := m.visibleList(g.uid, listID)
	if err != nil {
		return Wrap(ProcRemoveListGroup, err)
	}
	if l.CreatedBy != g.uid {
		return Wrap(ProcRemoveListGroup, fmt.Errorf("only the owner may unshare a list: %w", model.ErrForbidden))
	}
	k := listGroupKey{listID, groupID}
	if _, ok := m.listGroups[k]; !ok {
		return Wrap(ProcRemoveListGroup, fmt.Errorf("list group: %w", model.ErrNotFound))
	}
	delete(m.listGroups, k)
	return nil
}

func (g *MemoryGateway) GetTaskUsers(ctx context.Context, taskID string) ([]model.TaskAssignment, error) {
	m := g.m
	if err := m.begin(ProcGetTaskUsers, g.uid); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if _, _, err := m.visibleTask(g.uid, taskID); err != nil {
		return nil, Wrap(ProcGetTaskUsers, err)
	}
	out := []model.TaskAssignment{}
	for k, a := range m.taskUsers {
		if k.task == taskID {
			c := *a
			c.DisplayName = m.displayName(k.user)
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.TaskAssignment) int {
		if c := a.AssignedAt.Compare(b.AssignedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (g *MemoryGateway) UpdateTaskUser(ctx context.Context, taskID, userID string, st model.AssignmentStatus) (model.TaskAssignment, error) {
	m := g.m
	if err := m.begin(ProcUpdateTaskUser, g.uid); err != nil {
		return model.TaskAssignment{}, err
	}
	defer m.mu.Unlock()

	t, _, err := m.visibleTask(g.uid, taskID)
	if err != nil {
		return model.TaskAssignment{}, Wrap(ProcUpdateTaskUser, err)
	}
	if _, ok := m.users[userID]; !ok && userID != "" {
		return model.TaskAssignment{}, Wrap(ProcUpdateTaskUser, fmt.Errorf("user %s: %w", userID, model.ErrNotFound))
	}
	k := taskUserKey{taskID, userID}
	now := m.now()
	rec, err := status.Assign(status.AssignmentRequest{
		TaskID: taskID, TaskCreator: t.CreatedBy, Assignee: userID, Requester: g.uid,
		Status: st, Existing: m.taskUsers[k], Now: now,
	})
	if err != nil {
		return model.TaskAssignment{}, Wrap(ProcUpdateTaskUser, err)
	}
	m.taskUsers[k] = &rec
	if rec.Status == model.AssignmentPending || rec.Status == model.AssignmentAccepted {
		t.AssignedTo = userID
		at := rec.AssignedAt
		t.AssignedAt = &at
	}
	t.LastActiveAt = now
	rec.DisplayName = m.displayName(userID)
	return rec, nil
}

func (g *MemoryGateway) SetupNewUser(ctx context.Context, displayName string) (model.Group, error) {
	m := g.m
	if err := m.begin(ProcSetupNewUser, g.uid); err != nil {
		return model.Group{}, err
	}
	defer m.mu.Unlock()

	if name := strings.TrimSpace(displayName); name != "" {
		m.users[g.uid].DisplayName = name
	}
	grp := m.setupLocked(g.uid, m.now()).Clone()
	grp.Members = m.membersOf(grp.ID)
	return grp, nil
}

func (g *MemoryGateway) AnonymizeUser(ctx context.Context) error {
	m := g.m
	if err := m.begin(ProcAnonymizeUser, g.uid); err != nil {
		return err
	}
	defer m.mu.Unlock()

	u := m.users[g.uid]
	u.DisplayName = AnonymousName(g.uid)
	u.Email = ""
	for k, gm := range m.members {
		if k.user == g.uid {
			gm.Status = model.MemberRemoved
			gm.Score = 0
		}
	}
	for _, t := range m.tasks {
		if t.CreatedBy == g.uid {
			t.Name = "[Deleted Task]"
			t.CreatedBy = ""
		}
	}
	for _, l := range m.lists {
		if l.CreatedBy == g.uid {
			l.Name = "[Deleted List]"
		}
	}
	return nil
}

// AnonymousName is the display name an anonymized account is left with.
func AnonymousName(userID string) string {
	short := strings.ReplaceAll(userID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return "Deleted User " + short
}

var _ Gateway = (*MemoryGateway)(nil)

// Package gateway is the narrow request/response boundary to the backing
// service. Every operation is one named remote procedure; the Client speaks
// HTTP to the server, Memory runs the same procedures in process.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"village/model"
)

// Gateway is implemented by Client and by the per-user views of Memory.
// The caller's identity is implicit: it travels as the bearer credential.
type Gateway interface {
	CreateList(ctx context.Context, req CreateListRequest) (model.List, error)
	GetUserLists(ctx context.Context) ([]model.List, error)
	DeleteList(ctx context.Context, listID string) error
	ModifyList(ctx context.Context, listID string, patch ListPatch) (model.List, error)

	CreateTask(ctx context.Context, req CreateTaskRequest) (model.Task, error)
	GetListTasks(ctx context.Context, listID string) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	ModifyTask(ctx context.Context, taskID string, patch TaskPatch) (model.Task, error)
	// ModifyTaskStatus applies the completion engine server-side and returns
	// the stored task, counter included.
	ModifyTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) (model.Task, error)

	GetUserGroups(ctx context.Context) ([]model.Group, error)
	CreateGroup(ctx context.Context, name string) (model.Group, error)
	AddUserToGroup(ctx context.Context, groupID, userID string) (model.GroupMember, error)
	DeleteUserFromGroup(ctx context.Context, groupID, userID string) error
	UpdateGroupMemberStatus(ctx context.Context, groupID, userID string, status model.MemberStatus) (model.GroupMember, error)
	InviteCandidates(ctx context.Context) ([]model.User, error)

	UpdateListGroup(ctx context.Context, listID, groupID string, status model.GeneralStatus) (model.ListGroup, error)
	GetListGroups(ctx context.Context, listID string) ([]model.ListGroup, error)
	RemoveListGroup(ctx context.Context, listID, groupID string) error

	GetTaskUsers(ctx context.Context, taskID string) ([]model.TaskAssignment, error)
	UpdateTaskUser(ctx context.Context, taskID, userID string, status model.AssignmentStatus) (model.TaskAssignment, error)

	SetupNewUser(ctx context.Context, displayName string) (model.Group, error)
	AnonymizeUser(ctx context.Context) error
}

// Procedure names as they appear on the wire.
const (
	ProcCreateList              = "create-list"
	ProcGetUserLists            = "get-user-lists"
	ProcDeleteList              = "delete-list"
	ProcModifyList              = "modify-list"
	ProcCreateTask              = "create-task"
	ProcGetListTasks            = "get-list-tasks"
	ProcDeleteTask              = "delete-task"
	ProcModifyTask              = "modify-task"
	ProcModifyTaskStatus        = "modify-task-status"
	ProcGetUserGroups           = "get-user-groups"
	ProcCreateGroup             = "create-group"
	ProcAddUserToGroup          = "add-user-to-group"
	ProcDeleteUserFromGroup     = "delete-user-from-group"
	ProcUpdateGroupMemberStatus = "update-group-member-status"
	ProcInviteCandidates        = "invite-candidates"
	ProcUpdateListGroup         = "update-list-group"
	ProcGetListGroups           = "get-list-groups"
	ProcRemoveListGroup         = "remove-list-group"
	ProcGetTaskUsers            = "get-task-user"
	ProcUpdateTaskUser          = "update-task-user"
	ProcSetupNewUser            = "setup-new-user"
	ProcAnonymizeUser           = "anonymize-user"
)

type CreateListRequest struct {
	Name       string           `json:"name"`
	Importance model.Importance `json:"importance,omitempty"`
	Repeat     *model.Repeat    `json:"repeat,omitempty"`
	IsRoutine  bool             `json:"is_routine"`
}

type CreateTaskRequest struct {
	Name       string           `json:"name"`
	ListID     string           `json:"list_id"`
	Importance model.Importance `json:"importance,omitempty"`
	Effort     model.Effort     `json:"task_effort,omitempty"`
	Deadline   *time.Time       `json:"deadline,omitempty"`
	Repeat     *model.Repeat    `json:"repeat,omitempty"`
}

// ListPatch carries only the fields being changed.
type ListPatch struct {
	Name       *string           `json:"name,omitempty"`
	Importance *model.Importance `json:"importance,omitempty"`
	Repeat     *model.Repeat     `json:"repeat,omitempty"`
	IsRoutine  *bool             `json:"is_routine,omitempty"`
}

func (p ListPatch) Empty() bool {
	return p.Name == nil && p.Importance == nil && p.Repeat == nil && p.IsRoutine == nil
}

// Validate rejects present-but-bad fields. It does not reject an empty patch.
func (p ListPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("list name cannot be empty: %w", model.ErrInvalid)
	}
	if p.Importance != nil && !p.Importance.Valid() {
		return fmt.Errorf("importance %q: %w", *p.Importance, model.ErrInvalid)
	}
	return nil
}

// Apply copies the present fields onto l.
func (p ListPatch) Apply(l *model.List) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Importance != nil {
		l.Importance = *p.Importance
	}
	if p.Repeat != nil {
		r := *p.Repeat
		l.Repeat = &r
	}
	if p.IsRoutine != nil {
		l.IsRoutine = *p.IsRoutine
	}
}

type TaskPatch struct {
	Name       *string           `json:"name,omitempty"`
	Importance *model.Importance `json:"importance,omitempty"`
	Effort     *model.Effort     `json:"task_effort,omitempty"`
	Deadline   *time.Time        `json:"deadline,omitempty"`
	Repeat     *model.Repeat     `json:"repeat,omitempty"`
}

func (p TaskPatch) Empty() bool {
	return p.Name == nil && p.Importance == nil && p.Effort == nil && p.Deadline == nil && p.Repeat == nil
}

func (p TaskPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("task name cannot be empty: %w", model.ErrInvalid)
	}
	if p.Importance != nil && !p.Importance.Valid() {
		return fmt.Errorf("importance %q: %w", *p.Importance, model.ErrInvalid)
	}
	if p.Effort != nil && !p.Effort.Valid() {
		return fmt.Errorf("effort %q: %w", *p.Effort, model.ErrInvalid)
	}
	return nil
}

func (p TaskPatch) Apply(t *model.Task) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Importance != nil {
		t.Importance = *p.Importance
	}
	if p.Effort != nil {
		t.Effort = *p.Effort
	}
	if p.Deadline != nil {
		d := *p.Deadline
		t.Deadline = &d
	}
	if p.Repeat != nil {
		r := *p.Repeat
		t.Repeat = &r
	}
}

// Wire bodies for the procedures that take only identifiers.
type (
	ListRef struct {
		ListID string `json:"list_id"`
	}
	TaskRef struct {
		TaskID string `json:"task_id"`
	}
	ModifyListRequest struct {
		ListID string `json:"list_id"`
		ListPatch
	}
	ModifyTaskRequest struct {
		TaskID string `json:"task_id"`
		TaskPatch
	}
	TaskStatusRequest struct {
		TaskID string           `json:"task_id"`
		Status model.TaskStatus `json:"task_status"`
	}
	GroupRequest struct {
		Name string `json:"name"`
	}
	MemberRequest struct {
		GroupID string             `json:"group_id"`
		UserID  string             `json:"user_id"`
		Status  model.MemberStatus `json:"status,omitempty"`
	}
	ListGroupRequest struct {
		ListID  string              `json:"list_id"`
		GroupID string              `json:"group_id"`
		Status  model.GeneralStatus `json:"status,omitempty"`
	}
	TaskUserRequest struct {
		TaskID string                 `json:"task_id"`
		UserID string                 `json:"user_id"`
		Status model.AssignmentStatus `json:"status,omitempty"`
	}
	SetupRequest struct {
		DisplayName string `json:"display_name"`
	}
)

// Event is a change notification pushed by the server after a mutation.
type Event struct {
	Type   string `json:"type"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Package model holds the entities shared by the cache, the gateway and the
// server: lists, tasks, villages (groups) and the records that link them.
package model

import "time"

// DefaultGroupName is the reserved name of the village every account gets
// at setup. Its members are the pool of invitees for the user's other groups.
const DefaultGroupName = "My village"

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Repeat struct {
	Label      string `json:"label"`
	Period     string `json:"period"` // day | week | month | year
	Interval   int    `json:"interval"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
}

type List struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Importance   Importance `json:"importance"`
	Repeat       *Repeat    `json:"repeat,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	IsRoutine    bool       `json:"is_routine"`
	Tasks        []Task     `json:"tasks"`
	Groups       []Group    `json:"groups,omitempty"`
}

// Clone returns a copy that shares no slices with l.
func (l List) Clone() List {
	out := l
	if l.Tasks != nil {
		out.Tasks = make([]Task, len(l.Tasks))
		for i, t := range l.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	if l.Groups != nil {
		out.Groups = make([]Group, len(l.Groups))
		for i, g := range l.Groups {
			out.Groups[i] = g.Clone()
		}
	}
	if l.Repeat != nil {
		r := *l.Repeat
		out.Repeat = &r
	}
	return out
}

type Task struct {
	ID           string     `json:"id"`
	ListID       string     `json:"list_id"`
	Name         string     `json:"name"`
	Status       TaskStatus `json:"task_status"`
	Importance   Importance `json:"importance"`
	Effort       Effort     `json:"task_effort,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Repeat       *Repeat    `json:"repeat,omitempty"`
	DaysDone     int        `json:"days_done"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	out.Deadline = cloneTime(t.Deadline)
	out.AssignedAt = cloneTime(t.AssignedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	if t.Repeat != nil {
		r := *t.Repeat
		out.Repeat = &r
	}
	return out
}

type Group struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Score        int           `json:"score"`
	CreatedBy    string        `json:"created_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	Members      []GroupMember `json:"members,omitempty"`
}

func (g Group) Clone() Group {
	out := g
	if g.Members != nil {
		out.Members = append([]GroupMember(nil), g.Members...)
	}
	return out
}

// IsDefault reports whether g is its creator's own village.
func (g Group) IsDefault() bool { return g.Name == DefaultGroupName }

type GroupMember struct {
	GroupID      string       `json:"group_id"`
	UserID       string       `json:"user_id"`
	DisplayName  string       `json:"display_name"`
	Role         Role         `json:"role_name"`
	Status       MemberStatus `json:"status"`
	Score        int          `json:"score"`
	JoinedAt     time.Time    `json:"joined_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// TaskAssignment is the task_user record. CompletedAt is non-nil exactly when
// Status is Accepted or Done.
type TaskAssignment struct {
	TaskID      string           `json:"task_id"`
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	Status      AssignmentStatus `json:"status"`
	AssignedAt  time.Time        `json:"assigned_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

type ListGroup struct {
	ListID    string        `json:"list_id"`
	GroupID   string        `json:"group_id"`
	GroupName string        `json:"group_name,omitempty"`
	Status    GeneralStatus `json:"status"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package model

type Importance string

const (
	ImportanceLow    Importance = "Low"
	ImportanceMedium Importance = "Medium"
	ImportanceHigh   Importance = "High"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

type Effort string

const (
	EffortVeryQuick    Effort = "Very Quick"
	EffortQuick        Effort = "Quick"
	EffortModerate     Effort = "Moderate"
	EffortConsiderable Effort = "Considerable"
	EffortLong         Effort = "Long"
	EffortVeryLong     Effort = "Very Long"
)

func (e Effort) Valid() bool {
	switch e {
	case EffortVeryQuick, EffortQuick, EffortModerate, EffortConsiderable, EffortLong, EffortVeryLong:
		return true
	}
	return false
}

// TaskStatus is a flat enum: any valid status may follow any other.
type TaskStatus string

const (
	StatusToDo       TaskStatus = "To Do"
	StatusDone       TaskStatus = "Done"
	StatusActive     TaskStatus = "Active"
	StatusInactive   TaskStatus = "Inactive"
	StatusReported   TaskStatus = "Reported"
	StatusInProgress TaskStatus = "In Progress"
	StatusOnHold     TaskStatus = "On Hold"
)

// taskStatusIDs keeps the numeric ids the task_status table used (1-based).
var taskStatusIDs = []TaskStatus{
	StatusToDo, StatusDone, StatusActive, StatusInactive, StatusReported, StatusInProgress, StatusOnHold,
}

func (s TaskStatus) Valid() bool { return s.ID() != 0 }

// ID returns the numeric status id, or 0 for an unknown status.
func (s TaskStatus) ID() int {
	for i, v := range taskStatusIDs {
		if v == s {
			return i + 1
		}
	}
	return 0
}

func TaskStatusFromID(id int) (TaskStatus, bool) {
	if id < 1 || id > len(taskStatusIDs) {
		return "", false
	}
	return taskStatusIDs[id-1], true
}

type MemberStatus string

const (
	MemberPending  MemberStatus = "Pending"
	MemberAccepted MemberStatus = "Accepted"
	MemberRejected MemberStatus = "Rejected"
	MemberInactive MemberStatus = "Inactive"
	MemberRemoved  MemberStatus = "Removed"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberPending, MemberAccepted, MemberRejected, MemberInactive, MemberRemoved:
		return true
	}
	return false
}

// Terminal statuses are never left; re-inviting replaces the record.
func (s MemberStatus) Terminal() bool {
	return s == MemberRejected || s == MemberInactive || s == MemberRemoved
}

type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
	RoleGuest  Role = "Guest"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember || r == RoleGuest
}

type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "Pending"
	AssignmentAccepted AssignmentStatus = "Accepted"
	AssignmentRejected AssignmentStatus = "Rejected"
	AssignmentDone     AssignmentStatus = "Done"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentPending, AssignmentAccepted, AssignmentRejected, AssignmentDone:
		return true
	}
	return false
}

// Completed reports whether the status carries a completion timestamp.
func (s AssignmentStatus) Completed() bool {
	return s == AssignmentAccepted || s == AssignmentDone
}

// GeneralStatus is used by list/group associations.
type GeneralStatus string

const (
	GeneralActive   GeneralStatus = "Active"
	GeneralInactive GeneralStatus = "Inactive"
	GeneralArchived GeneralStatus = "Archived"
)

func (s GeneralStatus) Valid() bool {
	return s == GeneralActive || s == GeneralInactive || s == GeneralArchived
}

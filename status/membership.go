package status

import (
	"fmt"
	"time"

	"village/model"
)

// MembershipChange describes a requested move of one member record.
type MembershipChange struct {
	Current model.MemberStatus
	Target  model.MemberStatus
	// Requester is the role of the user asking for the change.
	Requester model.Role
	// Self is true when the requester is the member being changed.
	Self bool
}

type MembershipOutcome struct {
	Status model.MemberStatus
	// NoOp is set when the record is already in the target state.
	NoOp bool
	// ResetScore is set when the member's score must be zeroed.
	ResetScore bool
}

var membershipEdges = map[model.MemberStatus][]model.MemberStatus{
	model.MemberPending:  {model.MemberAccepted, model.MemberRejected},
	model.MemberAccepted: {model.MemberInactive, model.MemberRemoved},
}

// RequestMembershipTransition validates c. Authorization comes first: a
// requester who is neither an admin nor the member is refused whatever the
// record's state, and only the invitee answers a Pending invitation.
func RequestMembershipTransition(c MembershipChange) (MembershipOutcome, error) {
	if !c.Target.Valid() {
		return MembershipOutcome{}, fmt.Errorf("member status %q: %w", c.Target, model.ErrInvalid)
	}
	if !c.Self && c.Requester != model.RoleAdmin {
		return MembershipOutcome{}, fmt.Errorf("change %s member to %s: %w", c.Current, c.Target, model.ErrForbidden)
	}
	if c.Current == model.MemberPending && !c.Self {
		return MembershipOutcome{}, fmt.Errorf("answer invitation for another user: %w", model.ErrForbidden)
	}
	if c.Current == model.MemberAccepted && c.Target == model.MemberAccepted {
		return MembershipOutcome{Status: c.Current, NoOp: true}, nil
	}
	for _, next := range membershipEdges[c.Current] {
		if next == c.Target {
			return MembershipOutcome{Status: c.Target, ResetScore: c.Target == model.MemberRemoved}, nil
		}
	}
	return MembershipOutcome{}, fmt.Errorf("%s -> %s: %w", c.Current, c.Target, model.ErrInvalidTransition)
}

// Invite builds the Pending record for a new invitation. existing is the
// record already held for the (group, user) pair, if any: a live one
// (Pending or Accepted) refuses the invite, a terminal one is replaced.
func Invite(groupID, userID string, existing *model.GroupMember, now time.Time) (model.GroupMember, error) {
	if groupID == "" || userID == "" {
		return model.GroupMember{}, fmt.Errorf("invite: %w", model.ErrInvalid)
	}
	if existing != nil && !existing.Status.Terminal() {
		return model.GroupMember{}, fmt.Errorf("invite %s: %w", userID, model.ErrAlreadyMember)
	}
	return model.GroupMember{
		GroupID:      groupID,
		UserID:       userID,
		Role:         model.RoleMember,
		Status:       model.MemberPending,
		Score:        0,
		JoinedAt:     now,
		LastActiveAt: now,
	}, nil
}

// VisibleMembers keeps only Accepted members, preserving order.
func VisibleMembers(members []model.GroupMember) []model.GroupMember {
	out := make([]model.GroupMember, 0, len(members))
	for _, m := range members {
		if m.Status == model.MemberAccepted {
			out = append(out, m)
		}
	}
	return out
}

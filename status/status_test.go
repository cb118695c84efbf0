package status

import (
	"errors"
	"sync"
	"testing"
	"time"

	"village/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func apply(t *testing.T, task model.Task, next model.TaskStatus) model.Task {
	t.Helper()
	out, err := ApplyStatus(task, next, t0)
	if err != nil {
		t.Fatalf("ApplyStatus(%q): %v", next, err)
	}
	return out
}

func TestApplyStatusCounter(t *testing.T) {
	tests := []struct {
		name     string
		from     model.TaskStatus
		to       model.TaskStatus
		days     int
		wantDays int
	}{
		{"into done", model.StatusToDo, model.StatusDone, 0, 1},
		{"done to done", model.StatusDone, model.StatusDone, 3, 3},
		{"out of done", model.StatusDone, model.StatusToDo, 3, 2},
		{"out of done floors at zero", model.StatusDone, model.StatusOnHold, 0, 0},
		{"between non-done", model.StatusInProgress, model.StatusOnHold, 5, 5},
		{"negative input is clamped", model.StatusToDo, model.StatusActive, -2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apply(t, model.Task{ID: "t", Status: tt.from, DaysDone: tt.days}, tt.to)
			if got.DaysDone != tt.wantDays {
				t.Errorf("days done = %d, want %d", got.DaysDone, tt.wantDays)
			}
			if got.Status != tt.to {
				t.Errorf("status = %q, want %q", got.Status, tt.to)
			}
			if !got.LastActiveAt.Equal(t0) {
				t.Errorf("last active = %v, want %v", got.LastActiveAt, t0)
			}
		})
	}
}

func TestApplyStatusRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		task := model.Task{ID: "t", Status: model.StatusToDo, DaysDone: n}
		for _, s := range []model.TaskStatus{model.StatusDone, model.StatusToDo, model.StatusDone, model.StatusToDo} {
			task = apply(t, task, s)
		}
		if task.DaysDone != n {
			t.Errorf("round trip from %d ended at %d", n, task.DaysDone)
		}
	}
}

func TestApplyStatusNeverNegative(t *testing.T) {
	all := []model.TaskStatus{
		model.StatusToDo, model.StatusDone, model.StatusActive, model.StatusInactive,
		model.StatusReported, model.StatusInProgress, model.StatusOnHold,
	}
	task := model.Task{ID: "t", Status: model.StatusDone}
	// walk every ordered pair twice
	for i := 0; i < 2; i++ {
		for _, a := range all {
			for _, b := range all {
				task = apply(t, apply(t, task, a), b)
				if task.DaysDone < 0 {
					t.Fatalf("days done went negative after %s -> %s", a, b)
				}
			}
		}
	}
}

func TestApplyStatusScenario(t *testing.T) {
	task := model.Task{ID: "milk", Name: "Buy milk", Status: model.StatusToDo}
	task = apply(t, task, model.StatusDone)
	if task.DaysDone != 1 || task.CompletedAt == nil {
		t.Fatalf("after Done: days=%d completed=%v", task.DaysDone, task.CompletedAt)
	}
	// Leaving Done for any other status, On Hold included, takes the credit back.
	task = apply(t, task, model.StatusOnHold)
	if task.DaysDone != 0 {
		t.Fatalf("after On Hold: days=%d, want 0", task.DaysDone)
	}
	if task.CompletedAt != nil {
		t.Errorf("completed at should clear when leaving Done")
	}
	task = apply(t, task, model.StatusToDo)
	if task.DaysDone != 0 {
		t.Fatalf("after To Do: days=%d, want 0", task.DaysDone)
	}
}

func TestApplyStatusRejectsUnknown(t *testing.T) {
	_, err := ApplyStatus(model.Task{ID: "t"}, "Finished", t0)
	if !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestApplyStatusConcurrentToggles(t *testing.T) {
	// Serialised read-modify-write from many goroutines must leave the
	// counter equal to the number of net entries into Done.
	var mu sync.Mutex
	task := model.Task{ID: "t", Status: model.StatusToDo}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := model.StatusDone
			if i%2 == 1 {
				next = model.StatusToDo
			}
			mu.Lock()
			defer mu.Unlock()
			out, err := ApplyStatus(task, next, t0)
			if err != nil {
				t.Error(err)
				return
			}
			task = out
		}(i)
	}
	wg.Wait()
	if task.DaysDone < 0 || task.DaysDone > 1 {
		t.Fatalf("days done = %d after alternating toggles from zero", task.DaysDone)
	}
	if (task.Status == model.StatusDone) != (task.DaysDone == 1) {
		t.Fatalf("status %q inconsistent with days done %d", task.Status, task.DaysDone)
	}
}

func TestMembershipTransitions(t *testing.T) {
	tests := []struct {
		name    string
		change  MembershipChange
		want    model.MemberStatus
		noop    bool
		reset   bool
		wantErr error
	}{
		{"self accepts invite", MembershipChange{model.MemberPending, model.MemberAccepted, model.RoleMember, true}, model.MemberAccepted, false, false, nil},
		{"self rejects invite", MembershipChange{model.MemberPending, model.MemberRejected, model.RoleMember, true}, model.MemberRejected, false, false, nil},
		{"accept is idempotent", MembershipChange{model.MemberAccepted, model.MemberAccepted, model.RoleMember, true}, model.MemberAccepted, true, false, nil},
		{"self leaves", MembershipChange{model.MemberAccepted, model.MemberInactive, model.RoleMember, true}, model.MemberInactive, false, false, nil},
		{"admin removes", MembershipChange{model.MemberAccepted, model.MemberRemoved, model.RoleAdmin, false}, model.MemberRemoved, false, true, nil},
		{"member removes other", MembershipChange{model.MemberAccepted, model.MemberRemoved, model.RoleMember, false}, "", false, false, model.ErrForbidden},
		{"guest removes other pending", MembershipChange{model.MemberPending, model.MemberRemoved, model.RoleGuest, false}, "", false, false, model.ErrForbidden},
		{"removed is terminal", MembershipChange{model.MemberRemoved, model.MemberAccepted, model.RoleAdmin, false}, "", false, false, model.ErrInvalidTransition},
		{"rejected is terminal", MembershipChange{model.MemberRejected, model.MemberAccepted, model.RoleMember, true}, "", false, false, model.ErrInvalidTransition},
		{"admin accepts for invitee", MembershipChange{model.MemberPending, model.MemberAccepted, model.RoleAdmin, false}, "", false, false, model.ErrForbidden},
		{"admin rejects for invitee", MembershipChange{model.MemberPending, model.MemberRejected, model.RoleAdmin, false}, "", false, false, model.ErrForbidden},
		{"pending cannot be removed", MembershipChange{model.MemberPending, model.MemberRemoved, model.RoleMember, true}, "", false, false, model.ErrInvalidTransition},
		{"unknown target", MembershipChange{model.MemberPending, "Banned", model.RoleAdmin, false}, "", false, false, model.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RequestMembershipTransition(tt.change)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Status != tt.want || out.NoOp != tt.noop || out.ResetScore != tt.reset {
				t.Errorf("outcome = %+v", out)
			}
		})
	}
}

func TestNonAdminNonSelfRemovalAlwaysDenied(t *testing.T) {
	states := []model.MemberStatus{model.MemberPending, model.MemberAccepted, model.MemberRejected, model.MemberInactive, model.MemberRemoved}
	for _, role := range []model.Role{model.RoleMember, model.RoleGuest} {
		for _, cur := range states {
			_, err := RequestMembershipTransition(MembershipChange{Current: cur, Target: model.MemberRemoved, Requester: role})
			if !errors.Is(err, model.ErrForbidden) {
				t.Errorf("%s removing %s member: err = %v", role, cur, err)
			}
		}
	}
}

func TestInvite(t *testing.T) {
	if _, err := Invite("g", "u", &model.GroupMember{Status: model.MemberAccepted}, t0); !errors.Is(err, model.ErrAlreadyMember) {
		t.Errorf("accepted member: err = %v", err)
	}
	if _, err := Invite("g", "u", &model.GroupMember{Status: model.MemberPending}, t0); !errors.Is(err, model.ErrAlreadyMember) {
		t.Errorf("pending member: err = %v", err)
	}
	old := &model.GroupMember{Status: model.MemberRemoved, Score: 40, JoinedAt: t0.Add(-time.Hour)}
	m, err := Invite("g", "u", old, t0)
	if err != nil {
		t.Fatalf("re-invite removed: %v", err)
	}
	if m.Status != model.MemberPending || m.Score != 0 || !m.JoinedAt.Equal(t0) || m.Role != model.RoleMember {
		t.Errorf("fresh record = %+v", m)
	}
	if _, err := Invite("", "u", nil, t0); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("missing group: err = %v", err)
	}
}

func TestVisibleMembers(t *testing.T) {
	members := []model.GroupMember{
		{UserID: "a", Status: model.MemberAccepted},
		{UserID: "b", Status: model.MemberPending},
		{UserID: "c", Status: model.MemberRemoved},
		{UserID: "d", Status: model.MemberAccepted},
		{UserID: "e", Status: model.MemberInactive},
	}
	got := VisibleMembers(members)
	if len(got) != 2 || got[0].UserID != "a" || got[1].UserID != "d" {
		t.Fatalf("visible = %+v", got)
	}
}

func TestAssign(t *testing.T) {
	base := AssignmentRequest{TaskID: "x", TaskCreator: "A", Assignee: "B", Now: t0}

	req := base
	req.Requester = "A"
	req.Status = model.AssignmentPending
	rec, err := Assign(req)
	if err != nil {
		t.Fatalf("owner assigns: %v", err)
	}
	if rec.Status != model.AssignmentPending || rec.CompletedAt != nil || !rec.AssignedAt.Equal(t0) {
		t.Fatalf("record = %+v", rec)
	}

	req = base
	req.Requester = "C"
	req.Status = model.AssignmentAccepted
	req.Existing = &rec
	if _, err := Assign(req); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("third party: err = %v, want ErrForbidden", err)
	}

	later := t0.Add(time.Hour)
	req = base
	req.Requester = "B"
	req.Status = model.AssignmentAccepted
	req.Existing = &rec
	req.Now = later
	acc, err := Assign(req)
	if err != nil {
		t.Fatalf("self accepts: %v", err)
	}
	if acc.CompletedAt == nil || !acc.CompletedAt.Equal(later) {
		t.Errorf("completed at = %v, want %v", acc.CompletedAt, later)
	}
	if !acc.AssignedAt.Equal(t0) {
		t.Errorf("assigned at changed on update: %v", acc.AssignedAt)
	}

	req.Existing = &acc
	req.Status = model.AssignmentRejected
	rej, err := Assign(req)
	if err != nil {
		t.Fatal(err)
	}
	if rej.CompletedAt != nil {
		t.Errorf("completed at should clear for %s", rej.Status)
	}
}

func TestAssignDefaultsToPending(t *testing.T) {
	rec, err := Assign(AssignmentRequest{TaskID: "x", Assignee: "B", Requester: "B", Now: t0})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.AssignmentPending {
		t.Errorf("status = %q", rec.Status)
	}
	if _, err := Assign(AssignmentRequest{TaskID: "x", Assignee: "B", Requester: "B", Status: "Maybe", Now: t0}); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("bad status: err = %v", err)
	}
}

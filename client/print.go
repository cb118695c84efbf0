package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"village/model"
)

var (
	importances     = []model.Importance{model.ImportanceLow, model.ImportanceMedium, model.ImportanceHigh}
	efforts         = []model.Effort{model.EffortVeryQuick, model.EffortQuick, model.EffortModerate, model.EffortConsiderable, model.EffortLong, model.EffortVeryLong}
	memberStatuses  = []model.MemberStatus{model.MemberPending, model.MemberAccepted, model.MemberRejected, model.MemberInactive, model.MemberRemoved}
	generalStatuses = []model.GeneralStatus{model.GeneralActive, model.GeneralInactive, model.GeneralArchived}

	assignmentStatuses = []model.AssignmentStatus{model.AssignmentPending, model.AssignmentAccepted, model.AssignmentRejected, model.AssignmentDone}
)

func taskStatuses() []model.TaskStatus {
	var out []model.TaskStatus
	for id := 1; ; id++ {
		st, ok := model.TaskStatusFromID(id)
		if !ok {
			return out
		}
		out = append(out, st)
	}
}

// parseEnum matches s against known ignoring case, so "on hold" and
// "On Hold" both work on the command line.
func parseEnum[T ~string](s string, known []T) (T, error) {
	s = strings.TrimSpace(s)
	names := make([]string, len(known))
	for i, k := range known {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
		names[i] = string(k)
	}
	var zero T
	return zero, fmt.Errorf("%q is not one of %s: %w", s, strings.Join(names, ", "), model.ErrInvalid)
}

func printLists(w io.Writer, lists []model.List) {
	if len(lists) == 0 {
		fmt.Fprintln(w, "no lists")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, l := range lists {
		kind := "list"
		if l.IsRoutine {
			kind = "routine"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ID, l.Name, kind, l.Importance)
		for _, t := range l.Tasks {
			line := fmt.Sprintf("  %s\t[%s]\t%s", t.ID, t.Status, t.Name)
			if t.DaysDone > 0 {
				line += fmt.Sprintf("\tdone %dd", t.DaysDone)
			}
			if t.Deadline != nil {
				line += "\tdue " + t.Deadline.Format("2006-01-02")
			}
			fmt.Fprintln(tw, line)
		}
	}
	tw.Flush()
}

// printGroups marks the groups where me is still only invited. Member lists
// hold accepted members only, so an invitation shows as me being absent.
func printGroups(w io.Writer, groups []model.Group, me string) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "no groups")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, g := range groups {
		note := "invited"
		for _, m := range g.Members {
			if m.UserID == me {
				note = ""
			}
		}
		fmt.Fprintf(tw, "%s\t%s\tscore %d\t%s\n", g.ID, g.Name, g.Score, note)
		for _, m := range g.Members {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", m.UserID, m.DisplayName, m.Role, m.Status)
		}
	}
	tw.Flush()
}

func printUsers(w io.Writer, users []model.User) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u.ID, u.DisplayName)
	}
	tw.Flush()
}

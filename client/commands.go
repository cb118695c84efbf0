package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"village/cache"
	"village/gateway"
	"village/model"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password, name string
	var register bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in (or register with --register) and keep the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sess == nil {
				return errors.New("login needs a server connection")
			}
			if password == "" {
				// read one line so the password stays out of shell history
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("password: %w", model.ErrInvalid)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			var (
				u   model.User
				err error
			)
			if register {
				u, err = a.sess.SignUp(cmd.Context(), email, password, name)
			} else {
				u, err = a.sess.SignIn(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			creds, _ := a.sess.Credentials()
			if err := saveSession(a.cfg.SessionFile, a.cfg.Server, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", u.DisplayName, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name when registering")
	cmd.Flags().BoolVar(&register, "register", false, "create the account first")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session here and on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sess != nil {
				if err := a.sess.SignOut(cmd.Context()); err != nil {
					a.log.Warn("server sign out failed; dropping local session anyway", "err", err)
				}
			}
			if err := removeSession(a.cfg.SessionFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func (a *app) listsCmd() *cobra.Command {
	var routines bool
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Show your lists and their tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Refresh(cmd.Context()); err != nil {
				return err
			}
			lists := a.store.State().Lists
			if routines {
				lists = a.store.Routines()
			}
			printLists(cmd.OutOrStdout(), lists)
			return nil
		},
	}
	cmd.Flags().BoolVar(&routines, "routines", false, "only routine lists")
	return cmd
}

func (a *app) addListCmd() *cobra.Command {
	var routine bool
	var importance string
	cmd := &cobra.Command{
		Use:   "add-list NAME",
		Short: "Create a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := gateway.CreateListRequest{Name: args[0], IsRoutine: routine}
			if importance != "" {
				imp, err := parseEnum(importance, importances)
				if err != nil {
					return err
				}
				req.Importance = imp
			}
			l, err := a.store.CreateListWith(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created list %s %q\n", l.ID, l.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&routine, "routine", false, "reset done tasks every day")
	cmd.Flags().StringVar(&importance, "importance", "", "Low, Medium or High")
	return cmd
}

func (a *app) addTaskCmd() *cobra.Command {
	var importance, effort, deadline string
	cmd := &cobra.Command{
		Use:   "add-task LIST_ID NAME",
		Short: "Add a task to a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := gateway.CreateTaskRequest{ListID: args[0], Name: args[1]}
			if importance != "" {
				imp, err := parseEnum(importance, importances)
				if err != nil {
					return err
				}
				req.Importance = imp
			}
			if effort != "" {
				e, err := parseEnum(effort, efforts)
				if err != nil {
					return err
				}
				req.Effort = e
			}
			if deadline != "" {
				d, err := time.ParseInLocation(time.DateOnly, deadline, time.UTC)
				if err != nil {
					return fmt.Errorf("deadline %q: %w", deadline, model.ErrInvalid)
				}
				req.Deadline = &d
			}
			// the store only creates into lists it holds
			if err := a.store.Refresh(cmd.Context()); err != nil {
				return err
			}
			t, err := a.store.CreateTaskWith(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created task %s %q\n", t.ID, t.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&importance, "importance", "", "Low, Medium or High")
	cmd.Flags().StringVar(&effort, "effort", "", "Very Quick through Very Long")
	cmd.Flags().StringVar(&deadline, "deadline", "", "due date, YYYY-MM-DD")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID STATUS",
		Short: `Set a task's status ("To Do", "Done", "On Hold", ...)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseEnum(args[1], taskStatuses())
			if err != nil {
				return err
			}
			l, err := a.findTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t, err := a.store.UpdateTaskStatus(cmd.Context(), l.ID, args[0], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s, done %d day(s) running\n", t.Name, t.Status, t.DaysDone)
			return nil
		},
	}
}

func (a *app) rmListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-list LIST_ID",
		Short: "Delete a list you own, with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DeleteList(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted list", args[0])
			return nil
		},
	}
}

func (a *app) rmTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-task TASK_ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.findTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteTask(cmd.Context(), l.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted task", args[0])
			return nil
		},
	}
}

func (a *app) groupsCmd() *cobra.Command {
	var candidates bool
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Show your villages and pending invitations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if candidates {
				users, err := a.store.InviteCandidates(cmd.Context())
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), users)
				return nil
			}
			groups, err := a.store.Groups(cmd.Context())
			if err != nil {
				return err
			}
			me, _ := a.id.CurrentUser()
			printGroups(cmd.OutOrStdout(), groups, me.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&candidates, "candidates", false, "list the people you can invite")
	return cmd
}

func (a *app) addGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-group NAME",
		Short: "Create a village; you become its admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.store.CreateGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created group %s %q\n", g.ID, g.Name)
			return nil
		},
	}
}

func (a *app) inviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite GROUP_ID USER_ID",
		Short: "Invite someone from your own village into a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.store.InviteToGroup(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invited %s (%s)\n", m.DisplayName, m.Status)
			return nil
		},
	}
}

func (a *app) memberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "member GROUP_ID USER_ID|me STATUS",
		Short: "Accept or reject an invitation, or remove a member",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseEnum(args[2], memberStatuses)
			if err != nil {
				return err
			}
			userID := args[1]
			if userID == "me" {
				me, ok := a.id.CurrentUser()
				if !ok {
					return fmt.Errorf("member: %w", model.ErrUnauthorized)
				}
				userID = me.ID
			}
			if st == model.MemberRemoved {
				if err := a.store.RemoveFromGroup(cmd.Context(), args[0], userID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed", userID)
				return nil
			}
			m, err := a.store.SetMemberStatus(cmd.Context(), args[0], userID, st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m.DisplayName, m.Status)
			return nil
		},
	}
}

func (a *app) shareCmd() *cobra.Command {
	var status string
	var remove bool
	cmd := &cobra.Command{
		Use:   "share LIST_ID GROUP_ID",
		Short: "Share a list with a village, or stop sharing with --remove",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Refresh(cmd.Context()); err != nil {
				return err
			}
			if remove {
				if err := a.store.RemoveListGroup(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "unshared", args[0])
				return nil
			}
			st, err := parseEnum(status, generalStatuses)
			if err != nil {
				return err
			}
			lg, err := a.store.UpdateListGroup(cmd.Context(), args[0], args[1], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shared with %s (%s)\n", lg.GroupID, lg.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(model.GeneralActive), "Active, Inactive or Archived")
	cmd.Flags().BoolVar(&remove, "remove", false, "stop sharing")
	return cmd
}

func (a *app) assignCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "assign TASK_ID USER_ID",
		Short: "Assign a task, or update an assignment with --status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseEnum(status, assignmentStatuses)
			if err != nil {
				return err
			}
			l, err := a.findTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rec, err := a.store.UpdateTaskUser(cmd.Context(), l.ID, args[0], args[1], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assignment %s\n", rec.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(model.AssignmentPending), "Pending, Accepted, Rejected or Done")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print your lists again whenever something changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, cmd)
		},
	}
}

// watch prints every settled state until ctx ends or the stream drops.
func (a *app) watch(ctx context.Context, cmd *cobra.Command) error {
	if a.events == nil {
		return errors.New("watch needs a server connection")
	}
	out := cmd.OutOrStdout()
	cancel := a.store.Subscribe(func(st cache.State) {
		if st.Loading {
			return
		}
		fmt.Fprintf(out, "-- %s\n", a.now().Format(time.TimeOnly))
		printLists(out, st.Lists)
	})
	defer cancel()

	events, err := a.events(ctx)
	if err != nil {
		return err
	}
	if err := a.store.Refresh(ctx); err != nil {
		return err
	}
	a.store.Follow(ctx, events)
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("event stream closed")
}

func (a *app) anonymizeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Scrub your account; your lists and tasks stay behind without your name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this cannot be undone; pass --yes: %w", model.ErrInvalid)
			}
			if err := a.store.AnonymizeAccount(cmd.Context()); err != nil {
				return err
			}
			if err := removeSession(a.cfg.SessionFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "account anonymized")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

// findTask refreshes and returns the list holding taskID.
func (a *app) findTask(ctx context.Context, taskID string) (model.List, error) {
	if err := a.store.Refresh(ctx); err != nil {
		return model.List{}, err
	}
	for _, l := range a.store.State().Lists {
		for _, t := range l.Tasks {
			if t.ID == taskID {
				return l, nil
			}
		}
	}
	return model.List{}, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
}

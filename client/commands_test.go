package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"village/cache"
	"village/gateway"
	"village/model"
)

type signedIn model.User

func (u signedIn) CurrentUser() (model.User, bool) { return model.User(u), true }

// memApp returns an app wired to the in-memory backend as u.
func memApp(t *testing.T, mem *gateway.Memory, u model.User) *app {
	t.Helper()
	a := newApp()
	a.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	a.id = signedIn(u)
	a.store = cache.New(mem.As(u.ID), a.id, a.log)
	a.cfg.SessionFile = filepath.Join(t.TempDir(), "session.yaml")
	return a
}

func run(a *app, args ...string) (string, error) {
	cmd := a.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, a *app, args ...string) string {
	t.Helper()
	out, err := run(a, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

// createdID pulls the id out of "created <kind> <id> ..." output.
func createdID(t *testing.T, out string) string {
	t.Helper()
	f := strings.Fields(out)
	if len(f) < 3 || f[0] != "created" {
		t.Fatalf("unexpected output %q", out)
	}
	return f[2]
}

func TestListAndTaskCommands(t *testing.T) {
	mem := gateway.NewMemory()
	ann := mem.Register("ann@example.com", "Ann")
	a := memApp(t, mem, ann)

	listID := createdID(t, mustRun(t, a, "add-list", "Morning", "--routine", "--importance", "high"))
	taskID := createdID(t, mustRun(t, a, "add-task", listID, "Stretch", "--effort", "quick", "--deadline", "2026-05-01"))

	steps := []struct {
		status string
		want   string
	}{
		{"done", "done 1 day"},
		{"On Hold", "done 0 day"},
		{"to do", "done 0 day"},
		{"DONE", "done 1 day"},
	}
	for _, s := range steps {
		if out := mustRun(t, a, "status", taskID, s.status); !strings.Contains(out, s.want) {
			t.Fatalf("status %s: %q", s.status, out)
		}
	}

	out := mustRun(t, a, "lists", "--routines")
	for _, want := range []string{"Morning", "routine", "High", "Stretch", "[Done]", "done 1d", "due 2026-05-01"} {
		if !strings.Contains(out, want) {
			t.Fatalf("lists output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(a, "status", taskID, "finished"); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("bad status: %v", err)
	}
	if _, err := run(a, "status", "no-such-task", "done"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown task: %v", err)
	}
	if _, err := run(a, "add-task", listID, "x", "--deadline", "tomorrow"); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("bad deadline: %v", err)
	}

	mustRun(t, a, "rm-task", taskID)
	if out := mustRun(t, a, "lists"); strings.Contains(out, "Stretch") {
		t.Fatalf("task survived removal:\n%s", out)
	}
	mustRun(t, a, "rm-list", listID)
	if out := mustRun(t, a, "lists"); !strings.Contains(out, "no lists") {
		t.Fatalf("list survived removal:\n%s", out)
	}
}

func TestVillageCommands(t *testing.T) {
	mem := gateway.NewMemory()
	ann := mem.Register("ann@example.com", "Ann")
	bob := mem.Register("bob@example.com", "Bob")
	annApp := memApp(t, mem, ann)
	bobApp := memApp(t, mem, bob)

	groups, err := mem.As(ann.ID).GetUserGroups(context.Background())
	if err != nil || len(groups) != 1 {
		t.Fatalf("village %+v, %v", groups, err)
	}
	village := groups[0].ID

	if out := mustRun(t, annApp, "invite", village, bob.ID); !strings.Contains(out, "Pending") {
		t.Fatalf("invite: %q", out)
	}
	if out := mustRun(t, bobApp, "groups"); !strings.Contains(out, "invited") {
		t.Fatalf("bob should see the invitation:\n%s", out)
	}
	if out := mustRun(t, bobApp, "member", village, "me", "accepted"); !strings.Contains(out, "Accepted") {
		t.Fatalf("accept: %q", out)
	}
	if out := mustRun(t, annApp, "groups", "--candidates"); !strings.Contains(out, "Bob") {
		t.Fatalf("candidates:\n%s", out)
	}

	club := createdID(t, mustRun(t, annApp, "add-group", "Book club"))
	if _, err := run(annApp, "add-group", model.DefaultGroupName); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("reserved name: %v", err)
	}
	mustRun(t, annApp, "invite", club, bob.ID)
	mustRun(t, bobApp, "member", club, "me", "Accepted")

	listID := createdID(t, mustRun(t, annApp, "add-list", "Reading"))
	taskID := createdID(t, mustRun(t, annApp, "add-task", listID, "Chapter 3"))
	if out := mustRun(t, bobApp, "lists"); strings.Contains(out, "Reading") {
		t.Fatalf("list visible before sharing:\n%s", out)
	}
	if out := mustRun(t, annApp, "share", listID, club); !strings.Contains(out, "Active") {
		t.Fatalf("share: %q", out)
	}
	if out := mustRun(t, bobApp, "lists"); !strings.Contains(out, "Chapter 3") {
		t.Fatalf("shared list not visible:\n%s", out)
	}

	if out := mustRun(t, annApp, "assign", taskID, bob.ID); !strings.Contains(out, "Pending") {
		t.Fatalf("assign: %q", out)
	}
	if out := mustRun(t, bobApp, "assign", taskID, bob.ID, "--status", "accepted"); !strings.Contains(out, "Accepted") {
		t.Fatalf("self accept: %q", out)
	}

	mustRun(t, annApp, "share", listID, club, "--remove")
	if out := mustRun(t, bobApp, "lists"); strings.Contains(out, "Reading") {
		t.Fatalf("list still visible after unsharing:\n%s", out)
	}

	if _, err := run(bobApp, "member", club, ann.ID, "removed"); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("member removing the admin: %v", err)
	}
	if out := mustRun(t, annApp, "member", club, bob.ID, "removed"); !strings.Contains(out, "removed") {
		t.Fatalf("remove: %q", out)
	}
}

func TestAnonymizeNeedsConfirmation(t *testing.T) {
	mem := gateway.NewMemory()
	ann := mem.Register("ann@example.com", "Ann")
	a := memApp(t, mem, ann)

	if _, err := run(a, "anonymize"); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("without --yes: %v", err)
	}
	if err := os.WriteFile(a.cfg.SessionFile, []byte("token: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	mustRun(t, a, "anonymize", "--yes")
	if _, err := os.Stat(a.cfg.SessionFile); !os.IsNotExist(err) {
		t.Fatalf("session file kept: %v", err)
	}
}

// fakeAuth answers the sign-in endpoints the way the server does.
func fakeAuth(t *testing.T, loggedOut *atomic.Bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var body struct{ Email, Password string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Password != "secret1" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials", "code": "unauthorized"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"token":      "tok-abc",
				"expires_at": time.Now().Add(time.Hour).UTC(),
				"user":       map[string]string{"id": "u-ann", "email": body.Email, "display_name": "Ann"},
			}})
		case "/api/auth/logout":
			if r.Header.Get("Authorization") == "Bearer tok-abc" {
				loggedOut.Store(true)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestLoginLogoutPersistSession(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var loggedOut atomic.Bool
	srv := fakeAuth(t, &loggedOut)
	defer srv.Close()
	sessionFile := filepath.Join(t.TempDir(), "session.yaml")
	flags := []string{"--server", srv.URL, "--session-file", sessionFile}

	if _, err := run(newApp(), append([]string{"login", "-e", "ann@example.com", "-p", "wrong"}, flags...)...); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("bad password: %v", err)
	}
	if _, err := os.Stat(sessionFile); !os.IsNotExist(err) {
		t.Fatal("session saved after a failed login")
	}

	login := newApp()
	cmd := login.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("secret1\n"))
	cmd.SetArgs(append([]string{"login", "-e", "ann@example.com"}, flags...))
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "signed in as Ann") {
		t.Fatalf("login output %q", out.String())
	}

	// a fresh process picks the session up from disk
	next := newApp()
	mustRun(t, next, append([]string{"logout"}, flags...)...)
	if !loggedOut.Load() {
		t.Fatal("logout did not present the saved token")
	}
	if _, err := os.Stat(sessionFile); !os.IsNotExist(err) {
		t.Fatalf("session file kept: %v", err)
	}
}

func TestParseEnum(t *testing.T) {
	st, err := parseEnum(" in progress ", taskStatuses())
	if err != nil || st != model.StatusInProgress {
		t.Fatalf("got %q, %v", st, err)
	}
	if len(taskStatuses()) != 7 {
		t.Fatalf("statuses %v", taskStatuses())
	}
	if _, err := parseEnum("urgent", importances); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("got %v", err)
	}
}

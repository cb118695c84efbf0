// Package auth holds the client side of authentication: who is signed in,
// their bearer token, and notifications when that changes.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"village/model"
)

// Credentials is what the server hands back on sign-in and sign-up.
type Credentials struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// Session tracks the signed-in user. The zero value is not usable; call New.
type Session struct {
	base string
	hc   *http.Client
	log  *slog.Logger

	mu    sync.RWMutex
	creds *Credentials
	subs  map[int]func(*model.User)
	next  int
}

func New(baseURL string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
		log:  log,
		subs: map[int]func(*model.User){},
	}
}

// CurrentUser returns the signed-in user, if any.
func (s *Session) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return model.User{}, false
	}
	return s.creds.User, true
}

// Credentials returns a copy of the current credentials for persisting.
func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Token implements oauth2.TokenSource so the gateway client can attach the
// session as a bearer credential.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil || s.creds.Token == "" {
		return nil, fmt.Errorf("no session: %w", model.ErrUnauthorized)
	}
	return &oauth2.Token{AccessToken: s.creds.Token, TokenType: "Bearer", Expiry: s.creds.ExpiresAt}, nil
}

// OnAuthStateChange registers fn to be called with the new user on sign-in
// and with nil on sign-out. The returned func unregisters it.
func (s *Session) OnAuthStateChange(fn func(*model.User)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Restore installs previously saved credentials and notifies listeners.
func (s *Session) Restore(c Credentials) {
	if c.Token == "" {
		return
	}
	s.set(&c)
}

func (s *Session) SignIn(ctx context.Context, email, password string) (model.User, error) {
	body := map[string]string{"email": email, "password": password}
	return s.authenticate(ctx, "/api/auth/login", body)
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (model.User, error) {
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	return s.authenticate(ctx, "/api/auth/register", body)
}

// SignOut drops the local session even when the server call fails.
func (s *Session) SignOut(ctx context.Context) error {
	tok, err := s.Token()
	if err != nil {
		return nil
	}
	_, err = s.post(ctx, "/api/auth/logout", tok.AccessToken, struct{}{})
	s.set(nil)
	if err != nil {
		s.log.Warn("sign out", "err", err)
	}
	return err
}

// Clear forgets the session locally and notifies listeners.
func (s *Session) Clear() { s.set(nil) }

func (s *Session) authenticate(ctx context.Context, path string, body any) (model.User, error) {
	raw, err := s.post(ctx, path, "", body)
	if err != nil {
		return model.User{}, err
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil || c.Token == "" {
		return model.User{}, fmt.Errorf("%s: malformed credentials", path)
	}
	s.set(&c)
	s.log.Info("signed in", "user", c.User.ID)
	return c.User, nil
}

func (s *Session) set(c *Credentials) {
	s.mu.Lock()
	s.creds = c
	fns := make([]func(*model.User), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	var u *model.User
	if c != nil {
		cp := c.User
		u = &cp
	}
	for _, fn := range fns {
		fn(u)
	}
}

func (s *Session) post(ctx context.Context, path, token string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer res.Body.Close()

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&env)
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %s: %w", path, env.Error, model.ErrUnauthorized)
	case res.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%s: %s: %w", path, env.Error, model.ErrInvalid)
	case res.StatusCode >= 300:
		return nil, fmt.Errorf("%s: status %d: %s", path, res.StatusCode, env.Error)
	}
	return env.Data, nil
}

var _ oauth2.TokenSource = (*Session)(nil)

package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"village/model"
)

type credentials struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := readJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		a.fail(w, "register", fmt.Errorf("invalid payload: %w", model.ErrInvalid))
		return
	}
	u, err := a.store.CreateUser(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		a.fail(w, "register", err)
		return
	}
	a.issueSession(w, r, u)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		a.fail(w, "login", fmt.Errorf("invalid payload: %w", model.ErrInvalid))
		return
	}
	u, err := a.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, "login", err)
		return
	}
	a.issueSession(w, r, u)
}

func (a *api) issueSession(w http.ResponseWriter, r *http.Request, u model.User) {
	token, exp, err := a.store.CreateSession(r.Context(), u.ID, a.sessionTTL())
	if err != nil {
		a.fail(w, "create session", err)
		return
	}
	a.log.Info("session issued", "user", u.ID)
	writeData(w, credentials{Token: token, ExpiresAt: exp, User: u})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := bearerToken(r); tok != "" {
		if err := a.store.DeleteSession(r.Context(), tok); err != nil {
			a.fail(w, "logout", err)
			return
		}
	}
	writeData(w, struct{}{})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		a.fail(w, "me", err)
		return
	}
	writeData(w, u)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"

	"village/gateway"
	"village/model"
)

type api struct {
	store *Store
	log   *slog.Logger
	bus   *EventBus
	jobs  *jobRunner
	// rate limiting buckets per IP:key
	rlMu sync.Mutex
	rl   map[string]*rateBucket
}

func newAPI(store *Store, log *slog.Logger, jobs *jobRunner) *api {
	return &api{store: store, log: log, bus: NewEventBus(), jobs: jobs, rl: map[string]*rateBucket{}}
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

func (a *api) allow(ip, key string, max int, window time.Duration) bool {
	now := time.Now()
	rk := ip + ":" + key
	a.rlMu.Lock()
	defer a.rlMu.Unlock()
	b, ok := a.rl[rk]
	if !ok || now.After(b.resetAt) {
		b = &rateBucket{resetAt: now.Add(window)}
		a.rl[rk] = b
	}
	if b.count >= max {
		return false
	}
	b.count++
	return true
}

func (a *api) withRateLimit(name string, max int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !a.allow(ip, name, max, window) {
			writeError(w, http.StatusTooManyRequests, "too many requests", gateway.KindRateLimited)
			return
		}
		next(w, r)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// writeData answers with the success envelope.
func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, msg string, kind gateway.Kind) {
	writeJSON(w, status, map[string]any{"error": msg, "code": kind})
}

// fail maps err onto the failure envelope. Unclassified errors are logged
// and hidden from the caller.
func (a *api) fail(w http.ResponseWriter, op string, err error) {
	kind := gateway.KindOf(err)
	if kind == gateway.KindServer {
		a.log.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error", kind)
		return
	}
	a.log.Debug(op, "kind", kind, "err", err)
	writeError(w, gateway.HTTPStatus(kind), err.Error(), kind)
}

func (a *api) sessionTTL() time.Duration {
	if v := getenv("SESSION_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 14 * 24 * time.Hour
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (a *api) currentUser(r *http.Request) (model.User, error) {
	tok := bearerToken(r)
	if tok == "" {
		return model.User{}, fmt.Errorf("missing bearer token: %w", model.ErrUnauthorized)
	}
	return a.store.UserBySession(r.Context(), tok)
}

// procedure adapts a typed store call to POST /functions/v1/{name}: it
// authenticates the caller, decodes the body into Req and answers with the
// envelope.
func procedure[Req, Res any](a *api, name string, fn func(ctx context.Context, u model.User, req Req) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := a.currentUser(r)
		if err != nil {
			a.fail(w, name, err)
			return
		}
		var req Req
		if err := readJSON(w, r, &req); err != nil {
			a.fail(w, name, fmt.Errorf("invalid payload: %v: %w", err, model.ErrInvalid))
			return
		}
		res, err := fn(r.Context(), u, req)
		if err != nil {
			a.fail(w, name, err)
			return
		}
		writeData(w, res)
	}
}

// withLogging records one access line per request and tags it with a
// request id.
func withLogging(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Info("http", "method", r.Method, "path", r.URL.Path, "status", m.Code,
			"bytes", m.Written, "dur_ms", m.Duration.Milliseconds(), "request_id", id)
	})
}

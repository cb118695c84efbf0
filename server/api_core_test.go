package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"village/gateway"
	"village/model"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  gateway.Kind    `json:"code"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestFailMapsErrorsOntoEnvelope(t *testing.T) {
	a := newAPI(nil, quietLog(), nil)
	tests := []struct {
		err    error
		status int
		code   gateway.Kind
	}{
		{fmt.Errorf("list name required: %w", model.ErrInvalid), 400, gateway.KindInvalid},
		{fmt.Errorf("missing bearer token: %w", model.ErrUnauthorized), 401, gateway.KindUnauthorized},
		{fmt.Errorf("only the owner may delete a list: %w", model.ErrForbidden), 403, gateway.KindForbidden},
		{fmt.Errorf("list x: %w", model.ErrNotFound), 404, gateway.KindNotFound},
		{fmt.Errorf("invite: %w", model.ErrAlreadyMember), 409, gateway.KindAlreadyMember},
		{fmt.Errorf("Pending -> Removed: %w", model.ErrInvalidTransition), 409, gateway.KindInvalidTransition},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		a.fail(rec, "op", tt.err)
		if rec.Code != tt.status {
			t.Errorf("%v: status %d, want %d", tt.err, rec.Code, tt.status)
		}
		env := decodeEnvelope(t, rec)
		if env.Code != tt.code || env.Error != tt.err.Error() {
			t.Errorf("%v: envelope %+v", tt.err, env)
		}
	}
}

func TestFailHidesServerErrors(t *testing.T) {
	a := newAPI(nil, quietLog(), nil)
	rec := httptest.NewRecorder()
	a.fail(rec, "op", errors.New("pq: connection reset at 10.0.0.3"))
	if rec.Code != 500 {
		t.Fatalf("status %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error != "internal error" || env.Code != gateway.KindServer {
		t.Fatalf("envelope %+v", env)
	}
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	writeData(rec, model.List{ID: "l1", Name: "Groceries", Tasks: []model.Task{}})
	env := decodeEnvelope(t, rec)
	var l model.List
	if err := json.Unmarshal(env.Data, &l); err != nil || l.Name != "Groceries" {
		t.Fatalf("data %s: %v", env.Data, err)
	}
	if env.Error != "" {
		t.Fatalf("unexpected error %q", env.Error)
	}
}

func TestReadJSON(t *testing.T) {
	var dst gateway.ListRef
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"list_id":"l1"}`))
	if err := readJSON(httptest.NewRecorder(), r, &dst); err != nil || dst.ListID != "l1" {
		t.Fatalf("got %+v, %v", dst, err)
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"list_id":"l1","extra":1}`))
	if err := readJSON(httptest.NewRecorder(), r, &dst); err == nil {
		t.Fatal("unknown field accepted")
	}

	var empty struct{}
	r = httptest.NewRequest("POST", "/", strings.NewReader(""))
	if err := readJSON(httptest.NewRecorder(), r, &empty); err != nil {
		t.Fatalf("empty body: %v", err)
	}
}

func TestReadJSONEmbeddedPatch(t *testing.T) {
	var dst gateway.ModifyTaskRequest
	body := `{"task_id":"t1","name":"Milk","task_effort":"Quick"}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if err := readJSON(httptest.NewRecorder(), r, &dst); err != nil {
		t.Fatal(err)
	}
	if dst.TaskID != "t1" || dst.Name == nil || *dst.Name != "Milk" || dst.Effort == nil || *dst.Effort != model.EffortQuick {
		t.Fatalf("got %+v", dst)
	}
	if dst.Deadline != nil || dst.Importance != nil {
		t.Fatal("absent fields must stay nil")
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"":            "",
		"Bearer":      "",
	}
	for h, want := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if h != "" {
			r.Header.Set("Authorization", h)
		}
		if got := bearerToken(r); got != want {
			t.Errorf("%q: got %q, want %q", h, got, want)
		}
	}
}

func TestProcedureRequiresBearer(t *testing.T) {
	a := newAPI(nil, quietLog(), nil)
	called := false
	h := procedure(a, "create-list", func(_ context.Context, _ model.User, _ gateway.CreateListRequest) (model.List, error) {
		called = true
		return model.List{}, nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/functions/v1/create-list", strings.NewReader(`{"name":"x"}`)))
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("status %d, called %v", rec.Code, called)
	}
	if env := decodeEnvelope(t, rec); env.Code != gateway.KindUnauthorized {
		t.Fatalf("code %q", env.Code)
	}
}

func TestRateLimit(t *testing.T) {
	a := newAPI(nil, quietLog(), nil)
	h := a.withRateLimit("login", 2, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, true)
	})
	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/api/auth/login", nil)
		r.RemoteAddr = fmt.Sprintf("10.0.0.1:%d", 5000+i)
		h(last, r)
		codes = append(codes, last.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes %v", codes)
	}
	if env := decodeEnvelope(t, last); env.Code != gateway.KindRateLimited {
		t.Fatalf("rate limit reported as %q", env.Code)
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/auth/login", nil)
	r.RemoteAddr = "10.0.0.2:5000"
	h(rec, r)
	if rec.Code != 200 {
		t.Fatalf("other address limited: %d", rec.Code)
	}
}

func TestWithLoggingSetsRequestID(t *testing.T) {
	h := withLogging(quietLog(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("code %d, id %q", rec.Code, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get("X-Request-ID"); got != "req-7" {
		t.Fatalf("request id %q", got)
	}
}

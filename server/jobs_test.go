package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"village/gateway"
	"village/model"
)

func testRunner() (*jobRunner, *atomic.Int32) {
	var calls atomic.Int32
	j := &jobRunner{log: quietLog(), jobs: map[string]func(context.Context) (int64, error){}}
	j.add("one", func(context.Context) (int64, error) { calls.Add(1); return 3, nil })
	j.add("two", func(context.Context) (int64, error) { calls.Add(1); return 0, nil })
	return j, &calls
}

func TestJobRunnerRun(t *testing.T) {
	j, calls := testRunner()
	n, err := j.Run(context.Background(), "one")
	if err != nil || n != 3 || calls.Load() != 1 {
		t.Fatalf("n=%d err=%v calls=%d", n, err, calls.Load())
	}
	if _, err := j.Run(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown job: %v", err)
	}
}

func TestJobRunnerRunAll(t *testing.T) {
	j, calls := testRunner()
	if err := j.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls %d", calls.Load())
	}

	boom := errors.New("boom")
	j.add("bad", func(context.Context) (int64, error) { return 0, boom })
	if err := j.RunAll(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestJobEndpointNeedsSecret(t *testing.T) {
	j, calls := testRunner()
	a := newAPI(nil, quietLog(), j)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/jobs/{name}", a.requireJobSecret(a.handleRunJob))

	run := func(name, secret string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/api/admin/jobs/"+name, nil)
		if secret != "" {
			r.Header.Set("X-Jobs-Secret", secret)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, r)
		return rec
	}

	t.Setenv("JOBS_SECRET", "")
	if rec := run("one", "anything"); rec.Code != http.StatusForbidden {
		t.Fatalf("unconfigured secret: %d", rec.Code)
	}

	t.Setenv("JOBS_SECRET", "s3cret")
	if rec := run("one", "wrong"); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Fatal("job ran without the secret")
	}
	rec := run("one", "s3cret")
	if rec.Code != http.StatusOK || calls.Load() != 1 {
		t.Fatalf("status %d calls %d", rec.Code, calls.Load())
	}
	rec = run("missing", "s3cret")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job: %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != gateway.KindNotFound {
		t.Fatalf("code %q", env.Code)
	}
}

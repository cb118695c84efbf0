package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"village/model"
)

const (
	idleMemberAfter = 6 * 30 * 24 * time.Hour
	idleUserAfter   = 365 * 24 * time.Hour
)

// jobRunner holds the periodic maintenance jobs. Each reports how many rows
// it touched.
type jobRunner struct {
	log   *slog.Logger
	order []string
	jobs  map[string]func(ctx context.Context) (int64, error)
}

func newJobRunner(store *Store, log *slog.Logger) *jobRunner {
	j := &jobRunner{log: log, jobs: map[string]func(ctx context.Context) (int64, error){}}
	j.add("routine-reset", store.ResetRoutines)
	j.add("deadline-rollover", store.RollDeadlines)
	j.add("inactive-members", func(ctx context.Context) (int64, error) {
		return store.DeactivateIdleMembers(ctx, store.now().Add(-idleMemberAfter))
	})
	j.add("anonymize-inactive", func(ctx context.Context) (int64, error) {
		return store.AnonymizeIdleUsers(ctx, store.now().Add(-idleUserAfter))
	})
	j.add("purge-sessions", store.PurgeSessions)
	return j
}

func (j *jobRunner) add(name string, fn func(ctx context.Context) (int64, error)) {
	j.order = append(j.order, name)
	j.jobs[name] = fn
}

func (j *jobRunner) Names() []string { return append([]string(nil), j.order...) }

func (j *jobRunner) Run(ctx context.Context, name string) (int64, error) {
	fn, ok := j.jobs[name]
	if !ok {
		return 0, fmt.Errorf("job %q: %w", name, model.ErrNotFound)
	}
	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		j.log.Error("job", "name", name, "err", err)
		return n, err
	}
	j.log.Info("job", "name", name, "rows", n, "dur_ms", time.Since(start).Milliseconds())
	return n, nil
}

// RunAll runs every job concurrently and returns the first failure.
func (j *jobRunner) RunAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range j.order {
		g.Go(func() error {
			_, err := j.Run(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Loop runs all jobs every interval until ctx is done.
func (j *jobRunner) Loop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := j.RunAll(ctx); err != nil {
				j.log.Warn("scheduled jobs", "err", err)
			}
		}
	}
}

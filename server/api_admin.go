package main

import (
	"crypto/subtle"
	"net/http"
	"time"

	"village/gateway"
)

// requireJobSecret guards the maintenance endpoints. With no JOBS_SECRET
// configured they are closed.
func (a *api) requireJobSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := getenv("JOBS_SECRET", "")
		got := r.Header.Get("X-Jobs-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(got)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden", gateway.KindForbidden)
			return
		}
		next(w, r)
	}
}

func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeData(w, a.jobs.Names())
}

func (a *api) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := a.jobs.Run(r.Context(), name)
	if err != nil {
		a.fail(w, "job "+name, err)
		return
	}
	writeData(w, map[string]any{"job": name, "updated_count": n, "processed_at": time.Now().UTC()})
}

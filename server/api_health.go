package main

import (
	"context"
	"net/http"
	"time"

	"village/gateway"
)

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("health", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable", gateway.KindServer)
		return
	}
	writeData(w, map[string]any{"ok": true, "ts": time.Now().UTC().Format(time.RFC3339)})
}

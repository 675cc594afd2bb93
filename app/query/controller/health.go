package controller

import (
	"context"
	"net/http"
	"time"
)

type healther interface {
	Health(ctx context.Context) error
}

// HandleHealth pings the fact store and Redis when they expose a health
// check. Temporal poller state is informational only.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := map[string]any{"status": "ok", "driver": c.App.Backend.Driver}

	if h, ok := c.App.Backend.Facts.(healther); ok {
		if err := h.Health(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "database connection error"})
			return
		}
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}

	if c.App.TemporalClient != nil {
		h, _ := c.App.TemporalClient.Health(ctx)
		out["temporal"] = h
	}

	writeJSON(w, http.StatusOK, out)
}

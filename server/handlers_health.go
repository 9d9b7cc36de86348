package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/thedrkness/livebot/db"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"stream_state", func() error {
			_, err := db.GetStreamState(r.Context(), h.db, h.opts.ChannelID)
			return err
		}},
		{"webhook_secret", func() error {
			if h.opts.EventSubSecret == "" {
				return fmt.Errorf("EVENTSUB_SECRET not configured")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports the persisted stream state for the watched channel.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := db.GetStreamState(r.Context(), h.db, h.opts.ChannelID)
	if err != nil {
		http.Error(w, "state unavailable", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"channel_id":        st.ChannelID,
		"status":            st.Status,
		"current_stream_id": st.CurrentStreamID,
		"uptime_seconds":    int(time.Since(h.started).Seconds()),
	}
	if !st.StartedAt.IsZero() {
		resp["started_at"] = st.StartedAt.UTC().Format(time.RFC3339)
		if st.Status == db.StatusOnline {
			resp["live_for_seconds"] = int(time.Since(st.StartedAt).Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

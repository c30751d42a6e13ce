package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-herald/telemetry"
)

// HandleStatus returns followed channels with their guild counts and the live streams.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := h.engine.Status()
	type channel struct {
		Name      string `json:"name"`
		RemoteID  string `json:"remote_id"`
		Followers int    `json:"followers"`
	}
	channels := make([]channel, 0, len(st.Channels))
	for _, c := range st.Channels {
		channels = append(channels, channel{Name: string(c.Name), RemoteID: c.RemoteID, Followers: len(c.Followers)})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"guilds":   st.Guilds,
		"channels": channels,
		"live":     st.Live,
	})
}

// HandleAdminRenew runs a subscription renew pass immediately.
func (h *Handlers) HandleAdminRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := h.engine.Renew(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("admin renew failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	orphans := make([]string, 0, len(res.Orphans))
	for _, o := range res.Orphans {
		orphans = append(orphans, string(o.Name))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"renewed": len(res.Renewed),
		"failed":  res.Failed,
		"orphans": orphans,
	})
}

// HandleAdminResync re-polls live status for every followed channel.
func (h *Handlers) HandleAdminResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.engine.Resync(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("admin resync failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "live": len(h.engine.Status().Live)})
}

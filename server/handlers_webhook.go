package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/telemetry"
)

// maxWebhookBody caps hub deliveries; a streams payload is a few KB.
const maxWebhookBody = 1 << 20

// HandleTwitchWebhook receives hub callbacks: GET for verification and
// denials, POST for stream notifications. Apart from the challenge echo the
// hub always gets an empty 200, even for payloads it cannot use.
func (h *Handlers) HandleTwitchWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		// A truncated body must never be mistaken for a verification request.
		telemetry.ObserveWebhook(notifier.Malformed{}.Kind())
		var tooLarge *http.MaxBytesError
		telemetry.LoggerWithCorr(r.Context()).Warn("webhook body unreadable",
			slog.Bool("too_large", errors.As(err, &tooLarge)), slog.Any("err", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := h.engine.HandleWebhook(r.Context(), r.URL.Query(), r.Header, body)
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		_, _ = io.WriteString(w, resp.Body)
	}
}

// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	WebhookEvents   *prometheus.CounterVec // kind=challenge|started|ended|denied|malformed
	HubCalls        *prometheus.CounterVec // mode, outcome=ok|error
	Announcements   *prometheus.CounterVec // outcome
	DigestEdits     *prometheus.CounterVec // op=add|update|remove|publish|rebuild, outcome
	DigestsCleared  prometheus.Counter
	RenewRuns       *prometheus.CounterVec // outcome
	LeasesRenewed   prometheus.Counter
	OrphansRemoved  prometheus.Counter
	TwitchReauths   prometheus.Counter
	StateSaves      *prometheus.CounterVec // outcome
	DedupSuppressed prometheus.Counter
	Commands        *prometheus.CounterVec // command, outcome

	// Histograms (seconds)
	WebhookDuration prometheus.Observer
	RenewDuration   prometheus.Observer

	// Gauges
	LiveChannelsGauge     prometheus.Gauge
	FollowedChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_webhook_events_total", Help: "Inbound hub deliveries by decoded kind"}, []string{"kind"})
		HubCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_hub_calls_total", Help: "Hub subscribe/unsubscribe calls"}, []string{"mode", "outcome"})
		Announcements = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_announcements_total", Help: "One-shot go-live announcements sent"}, []string{"outcome"})
		DigestEdits = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_digest_edits_total", Help: "Live digest post edits"}, []string{"op", "outcome"})
		DigestsCleared = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_digests_cleared_total", Help: "Digest configurations cleared because the post was gone"})
		RenewRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_renew_runs_total", Help: "Subscription renew passes"}, []string{"outcome"})
		LeasesRenewed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_leases_renewed_total", Help: "Hub leases re-requested before expiry"})
		OrphansRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_orphans_removed_total", Help: "Followed channels dropped because the hub no longer lists them"})
		TwitchReauths = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_twitch_reauths_total", Help: "App token re-authorizations after an auth failure"})
		StateSaves = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_state_saves_total", Help: "Persisted state writes"}, []string{"outcome"})
		DedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_dedup_suppressed_total", Help: "Started events treated as updates (no announcement)"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_commands_total", Help: "Chat commands handled"}, []string{"command", "outcome"})
		WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_webhook_duration_seconds", Help: "Webhook handling duration seconds", Buckets: prometheus.DefBuckets})
		RenewDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_renew_duration_seconds", Help: "Renew pass duration seconds", Buckets: prometheus.DefBuckets})
		LiveChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_live_channels", Help: "Followed channels currently live"})
		FollowedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_followed_channels", Help: "Channels with at least one following guild"})
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveWebhook counts a decoded webhook delivery.
func ObserveWebhook(kind string) {
	if WebhookEvents != nil {
		WebhookEvents.WithLabelValues(kind).Inc()
	}
}

// ObserveHubCall counts a hub request by mode and result.
func ObserveHubCall(mode string, err error) {
	if HubCalls != nil {
		HubCalls.WithLabelValues(mode, outcome(err)).Inc()
	}
}

// ObserveAnnouncement counts a one-shot announcement attempt.
func ObserveAnnouncement(err error) {
	if Announcements != nil {
		Announcements.WithLabelValues(outcome(err)).Inc()
	}
}

// ObserveDigestEdit counts a digest edit attempt.
func ObserveDigestEdit(op string, err error) {
	if DigestEdits != nil {
		DigestEdits.WithLabelValues(op, outcome(err)).Inc()
	}
}

// IncDigestCleared counts a digest configuration removed by self-healing.
func IncDigestCleared() {
	if DigestsCleared != nil {
		DigestsCleared.Inc()
	}
}

// ObserveRenew records a renew pass.
func ObserveRenew(renewed, orphans int, err error) {
	if RenewRuns != nil {
		RenewRuns.WithLabelValues(outcome(err)).Inc()
	}
	if LeasesRenewed != nil {
		LeasesRenewed.Add(float64(renewed))
	}
	if OrphansRemoved != nil {
		OrphansRemoved.Add(float64(orphans))
	}
}

// IncTwitchReauth counts a reactive token refresh.
func IncTwitchReauth() {
	if TwitchReauths != nil {
		TwitchReauths.Inc()
	}
}

// ObserveStateSave counts a state write.
func ObserveStateSave(err error) {
	if StateSaves != nil {
		StateSaves.WithLabelValues(outcome(err)).Inc()
	}
}

// IncDedupSuppressed counts a started event that did not announce.
func IncDedupSuppressed() {
	if DedupSuppressed != nil {
		DedupSuppressed.Inc()
	}
}

// ObserveCommand counts a handled chat command.
func ObserveCommand(command string, err error) {
	if Commands != nil {
		Commands.WithLabelValues(command, outcome(err)).Inc()
	}
}

// SetLiveChannels records the current live channel count.
func SetLiveChannels(n int) {
	if LiveChannelsGauge != nil {
		LiveChannelsGauge.Set(float64(n))
	}
}

// SetFollowedChannels records the current followed channel count.
func SetFollowedChannels(n int) {
	if FollowedChannelsGauge != nil {
		FollowedChannelsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

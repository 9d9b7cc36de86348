// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
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
	EventsReceived      *prometheus.CounterVec // raw online/offline signals by type
	EventsDuplicate     prometheus.Counter     // signals ignored by the in-flight guard or idempotency check
	ResolutionsFinished *prometheus.CounterVec // resolution cycles by kind and path (probe|timeout)
	Deliveries          *prometheus.CounterVec // per-recipient delivery results by kind and outcome
	ProbeFailures       prometheus.Counter     // transient upstream probe errors (retried)

	// Histograms (seconds)
	ResolutionDuration prometheus.Observer
	DeliveryDuration   prometheus.Observer

	// Gauges
	LiveGauge           prometheus.Gauge // 1 while the watched channel is online
	TrackedRecordsGauge prometheus.Gauge // current MessageTracker entries
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livebot_events_received_total", Help: "Raw stream signals received"}, []string{"type"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "livebot_events_duplicate_total", Help: "Signals ignored as duplicates"})
		ResolutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livebot_resolutions_finished_total", Help: "Resolution cycles finalized"}, []string{"kind", "path"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livebot_deliveries_total", Help: "Per-recipient delivery results"}, []string{"kind", "outcome"})
		ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "livebot_probe_failures_total", Help: "Transient upstream probe failures"})
		ResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livebot_resolution_duration_seconds", Help: "Resolution cycle duration seconds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livebot_delivery_duration_seconds", Help: "Fan-out duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livebot_channel_live", Help: "Watched channel live=1 offline=0"})
		TrackedRecordsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livebot_tracked_records", Help: "Current tracked notification records"})
	})
}

// CountEvent records a raw inbound signal. Safe before Init.
func CountEvent(eventType string) {
	if EventsReceived != nil {
		EventsReceived.WithLabelValues(eventType).Inc()
	}
}

// CountDuplicate records a signal dropped by the dedupe guards.
func CountDuplicate() {
	if EventsDuplicate != nil {
		EventsDuplicate.Inc()
	}
}

// CountResolution records a finalized resolution cycle and its winning path.
func CountResolution(kind, path string) {
	if ResolutionsFinished != nil {
		ResolutionsFinished.WithLabelValues(kind, path).Inc()
	}
}

// CountDelivery records one per-recipient delivery outcome.
func CountDelivery(kind, outcome string) {
	if Deliveries != nil {
		Deliveries.WithLabelValues(kind, outcome).Inc()
	}
}

// CountProbeFailure records a transient probe error.
func CountProbeFailure() {
	if ProbeFailures != nil {
		ProbeFailures.Inc()
	}
}

// SetLive flips the live gauge.
func SetLive(live bool) {
	if LiveGauge != nil {
		if live {
			LiveGauge.Set(1)
		} else {
			LiveGauge.Set(0)
		}
	}
}

// SetTrackedRecords records the current tracker size.
func SetTrackedRecords(n int) {
	if TrackedRecordsGauge != nil {
		TrackedRecordsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records it in observer if non-nil.
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

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

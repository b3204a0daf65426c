// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// setup for the sync engine.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RunsStarted     prometheus.Counter
	RunsFailed      prometheus.Counter
	RunsSucceeded   prometheus.Counter
	MessagesPosted  prometheus.Counter
	MessagesDeleted prometheus.Counter

	// Histograms (seconds)
	RunDuration    prometheus.Observer
	RenderDuration prometheus.Observer
	FetchDuration  prometheus.Observer

	// Gauges
	ConfiguredGuildsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RunsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_runs_started_total", Help: "Number of reconciliation runs started"})
		RunsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_runs_failed_total", Help: "Number of reconciliation runs failed"})
		RunsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_runs_succeeded_total", Help: "Number of reconciliation runs succeeded"})
		MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_messages_posted_total", Help: "Number of channel messages posted"})
		MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_messages_deleted_total", Help: "Number of channel messages purged"})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_run_duration_seconds", Help: "Reconciliation run duration seconds", Buckets: prometheus.DefBuckets})
		RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_render_duration_seconds", Help: "Image render duration seconds", Buckets: prometheus.DefBuckets})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_fetch_duration_seconds", Help: "Remote schedule fetch duration seconds", Buckets: prometheus.DefBuckets})
		ConfiguredGuildsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_configured_guilds", Help: "Number of guilds with a complete sync configuration"})
	})
}

// The helpers below nil-check so callers work even when Init was skipped
// (tests).

func IncRunsStarted() {
	if RunsStarted != nil {
		RunsStarted.Inc()
	}
}

func IncRunsFailed() {
	if RunsFailed != nil {
		RunsFailed.Inc()
	}
}

func IncRunsSucceeded() {
	if RunsSucceeded != nil {
		RunsSucceeded.Inc()
	}
}

func AddMessagesPosted(n int) {
	if MessagesPosted != nil && n > 0 {
		MessagesPosted.Add(float64(n))
	}
}

func AddMessagesDeleted(n int) {
	if MessagesDeleted != nil && n > 0 {
		MessagesDeleted.Add(float64(n))
	}
}

func ObserveRunDuration(d time.Duration) {
	if RunDuration != nil {
		RunDuration.Observe(d.Seconds())
	}
}

func ObserveRenderDuration(d time.Duration) {
	if RenderDuration != nil {
		RenderDuration.Observe(d.Seconds())
	}
}

func ObserveFetchDuration(d time.Duration) {
	if FetchDuration != nil {
		FetchDuration.Observe(d.Seconds())
	}
}

func SetConfiguredGuilds(n int) {
	if ConfiguredGuildsGauge != nil {
		ConfiguredGuildsGauge.Set(float64(n))
	}
}

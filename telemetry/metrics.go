// Package telemetry provides Prometheus metrics, OTel tracing setup and
// correlation-id aware logging helpers.
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
	SlotsScheduled        prometheus.Counter
	ConfirmationsAccepted prometheus.Counter
	ConfirmationsDeclined prometheus.Counter
	ConfirmationTimeouts  prometheus.Counter
	NoShows               prometheus.Counter
	SlotsCompleted        prometheus.Counter
	SlotsCanceled         prometheus.Counter
	SweepCycles           prometheus.Counter
	TransitionConflicts   prometheus.Counter

	// Histograms (seconds)
	FinalizeDuration prometheus.Observer

	// Gauges
	PendingSlotsGauge prometheus.Gauge
	ArmedTimersGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SlotsScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "match_slots_scheduled_total", Help: "Number of slots paired by the scheduler"})
		ConfirmationsAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "match_confirmations_accepted_total", Help: "Number of individual confirmation acceptances"})
		ConfirmationsDeclined = promauto.NewCounter(prometheus.CounterOpts{Name: "match_confirmations_declined_total", Help: "Number of confirmation declines"})
		ConfirmationTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "match_confirmation_timeouts_total", Help: "Number of confirmation deadline expiries"})
		NoShows = promauto.NewCounter(prometheus.CounterOpts{Name: "match_no_shows_total", Help: "Number of slots canceled by the attendance guard"})
		SlotsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "match_slots_completed_total", Help: "Number of slots finalized with a result"})
		SlotsCanceled = promauto.NewCounter(prometheus.CounterOpts{Name: "match_slots_canceled_total", Help: "Number of slots that reached canceled"})
		SweepCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "match_sweep_cycles_total", Help: "Number of pending-result sweep passes"})
		TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{Name: "match_transition_conflicts_total", Help: "Number of status transitions lost to a competing path"})
		FinalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "match_finalize_duration_seconds", Help: "Finalize duration seconds", Buckets: prometheus.DefBuckets})
		PendingSlotsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "match_pending_slots", Help: "Confirmed past slots awaiting finalization"})
		ArmedTimersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "match_armed_timers", Help: "Currently armed delayed-action timers"})
	})
}

// Nil-safe increment helpers so core packages can be exercised in tests
// without registering metrics.

func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func Observe(o prometheus.Observer, d time.Duration) {
	if o != nil {
		o.Observe(d.Seconds())
	}
}

// SetPendingSlots records the current pending-finalization depth.
func SetPendingSlots(n int) {
	if PendingSlotsGauge != nil {
		PendingSlotsGauge.Set(float64(n))
	}
}

// SetArmedTimers records the current armed-timer count.
func SetArmedTimers(n int) {
	if ArmedTimersGauge != nil {
		ArmedTimersGauge.Set(float64(n))
	}
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

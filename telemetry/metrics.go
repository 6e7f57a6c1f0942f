// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SignalsReceived   *prometheus.CounterVec
	SignalsDropped    prometheus.Counter
	ArtifactsCreated  prometheus.Counter
	ArtifactsUpdated  prometheus.Counter
	ArtifactsClosed   prometheus.Counter
	ChecksScheduled   *prometheus.CounterVec
	ChecksFired       *prometheus.CounterVec
	ChecksAbandoned   prometheus.Counter
	SnapshotSaves     prometheus.Counter
	SnapshotSaveFails prometheus.Counter

	// Gauges
	PendingChecksGauge prometheus.Gauge
	LiveEntitiesGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_signals_received_total", Help: "Liveness signals accepted for processing"}, []string{"platform", "kind"})
		SignalsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_signals_dropped_total", Help: "Inbound payloads dropped (untracked entity or malformed)"})
		ArtifactsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_artifacts_created_total", Help: "Notification artifacts created"})
		ArtifactsUpdated = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_artifacts_updated_total", Help: "Notification artifacts edited in place"})
		ArtifactsClosed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_artifacts_closed_total", Help: "Notification artifacts closed (ended form)"})
		ChecksScheduled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_checks_scheduled_total", Help: "Scheduled checks armed"}, []string{"kind"})
		ChecksFired = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_checks_fired_total", Help: "Scheduled checks fired"}, []string{"kind"})
		ChecksAbandoned = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_checks_abandoned_total", Help: "Sniper checks abandoned past the give-up deadline"})
		SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_snapshot_saves_total", Help: "State snapshot saves attempted"})
		SnapshotSaveFails = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_snapshot_save_failures_total", Help: "State snapshot saves failed"})
		PendingChecksGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_pending_checks", Help: "Current number of pending scheduled checks"})
		LiveEntitiesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_live_entities", Help: "Entities currently live with an active artifact"})
	})
}

// SetPendingChecks records the current scheduler table size.
func SetPendingChecks(n int) {
	if PendingChecksGauge != nil {
		PendingChecksGauge.Set(float64(n))
	}
}

// SetLiveEntities records the current active-record map size.
func SetLiveEntities(n int) {
	if LiveEntitiesGauge != nil {
		LiveEntitiesGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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

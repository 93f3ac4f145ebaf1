package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statusbot_tick_duration_seconds",
			Help:    "Time spent executing one monitor tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)

	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_ticks_total",
			Help: "Monitor ticks executed, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	TicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_ticks_skipped_total",
			Help: "Scheduled ticks skipped because the previous tick was still running",
		},
		[]string{"kind"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_transitions_total",
			Help: "Status transitions classified per monitor kind",
		},
		[]string{"kind", "transition"},
	)

	MessageUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_message_upserts_total",
			Help: "Synced message upserts, by the outward call that satisfied them",
		},
		[]string{"result"},
	)

	ControlActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_control_actions_total",
			Help: "Control actions handled, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	SessionRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_session_recoveries_total",
			Help: "Voice session resume attempts at startup",
		},
		[]string{"status"},
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statusbot_active_monitors",
			Help: "Number of monitors currently registered with the scheduler",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statusbot_active_voice_sessions",
			Help: "Number of voice sessions currently held by the bot",
		},
	)

	ServiceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statusbot_service_healthy",
			Help: "1 when the last health check of a managed service passed",
		},
		[]string{"service"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusbot_store_operations_total",
			Help: "Persistence operations performed",
		},
		[]string{"operation", "status"},
	)
)

// RecordTick records the duration and outcome of one tick.
func RecordTick(kind, outcome string, d time.Duration) {
	TickDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
	TicksTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStoreOperation counts one persistence call.
func RecordStoreOperation(operation string, err error) {
	StoreOperations.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordServiceHealth sets the health gauge for service.
func RecordServiceHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	ServiceHealthy.WithLabelValues(service).Set(v)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

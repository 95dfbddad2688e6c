// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserje_turns_total",
			Help: "Total number of guest turns processed, by outcome",
		},
		[]string{"outcome"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conserje_turn_duration_seconds",
			Help:    "Duration of turn processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserje_collaborator_failures_total",
			Help: "Total number of failed external collaborator calls",
		},
		[]string{"collaborator"},
	)

	IncidentsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserje_incidents_finalized_total",
			Help: "Total number of incidents finalized, by primary area",
		},
		[]string{"area"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserje_dispatch_failures_total",
			Help: "Total number of finalization step failures, by kind",
		},
		[]string{"kind"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserje_deliveries_total",
			Help: "Total number of destination deliveries, by channel and result",
		},
		[]string{"channel", "result"},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conserje_sessions_expired_total",
			Help: "Total number of idle sessions cleared by the sweeper",
		},
	)
)

// Collaborator names used as label values.
const (
	CollaboratorInterpreter = "interpreter"
	CollaboratorVision      = "vision"
	CollaboratorArea        = "area_detector"
	CollaboratorInformal    = "informal_place"
)

// Dispatch failure kinds.
const (
	FailurePersist     = "persist"
	FailureMedia       = "media"
	FailureDelivery    = "delivery"
	FailureUnknownArea = "unknown_area"
	FailureTrace       = "trace"
)

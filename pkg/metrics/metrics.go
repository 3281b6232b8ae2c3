package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveCalls             prometheus.Gauge
	RegisteredCalls         prometheus.Gauge
	CallsStarted            *prometheus.CounterVec
	CallsCompleted          *prometheus.CounterVec
	CallDuration            prometheus.Histogram
	PhaseTransitions        *prometheus.CounterVec
	Handoffs                *prometheus.CounterVec
	ToolCalls               *prometheus.CounterVec
	SafetyTerminations      *prometheus.CounterVec
	ReplyWaitDuration       *prometheus.HistogramVec
	TeardownDuration        prometheus.Histogram
	TeardownFallbacks       *prometheus.CounterVec
	WebhookDeliveries       *prometheus.CounterVec
	WebhookDuration         prometheus.Histogram
	CallControlDuration     *prometheus.HistogramVec
	RedisOperationDuration  *prometheus.HistogramVec
	RegistryCleanupRemoved  prometheus.Counter
	RegistryLeaderChanges   prometheus.Counter
	LeaderElectionDuration  prometheus.Histogram
	SpeechEventsReceived    *prometheus.CounterVec
	OrchestratorEventsDrops prometheus.Counter
}

// NewMetrics registers all collectors with reg. The binary passes
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_calls",
			Help: "Number of calls currently handled by this process",
		}),
		RegisteredCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_registered_calls",
			Help: "Number of active calls in the shared registry across all pods",
		}),
		CallsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_calls_started_total",
			Help: "Total number of calls started",
		}, []string{"direction"}),
		CallsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_calls_completed_total",
			Help: "Total number of calls finalized, by termination reason",
		}, []string{"reason"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_call_duration_seconds",
			Help:    "Call duration from start to finalize",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_phase_transitions_total",
			Help: "Total number of workflow phase transitions, by target phase",
		}, []string{"phase"}),
		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_handoffs_total",
			Help: "Total number of handoff decisions, by outcome",
		}, []string{"outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_tool_calls_total",
			Help: "Total number of tool calls received from the speech session",
		}, []string{"tool", "status"}),
		SafetyTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_safety_terminations_total",
			Help: "Total number of calls terminated by the safety monitor",
		}, []string{"reason"}),
		ReplyWaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_reply_wait_duration_seconds",
			Help:    "Time spent waiting for the speech session to finish a reply",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		TeardownDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_teardown_duration_seconds",
			Help:    "Time taken for the farewell and room deletion sequence",
			Buckets: prometheus.DefBuckets,
		}),
		TeardownFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_teardown_fallbacks_total",
			Help: "Total number of room deletions retried through the fallback path",
		}, []string{"status"}),
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_webhook_deliveries_total",
			Help: "Total number of completion webhook deliveries, by status",
		}, []string{"status"}),
		WebhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_webhook_duration_seconds",
			Help:    "Time taken to deliver the completion webhook",
			Buckets: prometheus.DefBuckets,
		}),
		CallControlDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_call_control_duration_seconds",
			Help:    "Time taken for call-control API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RedisOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Time taken for Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RegistryCleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_registry_stale_calls_removed_total",
			Help: "Total number of stale calls removed from the shared registry",
		}),
		RegistryLeaderChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_registry_leader_changes_total",
			Help: "Total number of registry cleanup leader changes",
		}),
		LeaderElectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leader_election_duration_seconds",
			Help:    "Time taken for leader election operations",
			Buckets: prometheus.DefBuckets,
		}),
		SpeechEventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_speech_events_received_total",
			Help: "Total number of realtime speech events received, by type",
		}, []string{"type"}),
		OrchestratorEventsDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_orchestrator_events_dropped_total",
			Help: "Total number of session events dropped because the call had already ended",
		}),
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/event_id labels)

var (
	// TriggersTotal counts debounce decisions by trigger kind
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_triggers_total",
			Help: "Triggers seen by the debouncer",
		},
		[]string{"kind", "decision"},
	)

	// TriggersDroppedTotal counts triggers that never reached the debouncer
	TriggersDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_triggers_dropped_total",
			Help: "Triggers dropped before processing",
		},
		[]string{"reason"},
	)

	DescriptionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "events_description_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		},
		[]string{"provider"},
	)

	DescriptionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_description_attempts_total",
			Help: "Provider attempts by result",
		},
		[]string{"provider", "result"},
	)

	DescriptionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_description_exhausted_total",
			Help: "Triggers dropped because every provider failed",
		},
	)

	EventsCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_committed_total",
			Help: "Events committed to the store",
		},
		[]string{"provider", "manual"},
	)

	EventCommitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_commit_failures_total",
			Help: "Event commits that failed",
		},
	)

	// RuleEvaluationsTotal result is one of matched, cooldown, repeat, error
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_rule_evaluations_total",
			Help: "Rule evaluations that passed their conditions, by result",
		},
		[]string{"result"},
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_delivery_attempts_total",
			Help: "Notification delivery attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "events_delivery_latency_ms",
			Help:    "Webhook attempt latency in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
		[]string{"action"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "events_queue_depth",
			Help: "Triggers waiting for a worker",
		},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "events_realtime_clients",
			Help: "Connected websocket clients",
		},
	)
)

// Helper functions for metrics recording

func RecordTrigger(kind string, admitted bool) {
	decision := "suppressed"
	if admitted {
		decision = "admitted"
	}
	TriggersTotal.WithLabelValues(kind, decision).Inc()
}

func RecordTriggerDrop(reason string) {
	TriggersDroppedTotal.WithLabelValues(reason).Inc()
}

func RecordDescriptionAttempt(provider, result string, latencyMs float64) {
	DescriptionAttemptsTotal.WithLabelValues(provider, result).Inc()
	DescriptionLatency.WithLabelValues(provider).Observe(latencyMs)
}

func RecordCommit(provider string, manual bool) {
	m := "false"
	if manual {
		m = "true"
	}
	EventsCommittedTotal.WithLabelValues(provider, m).Inc()
}

func RecordRuleResult(result string) {
	RuleEvaluationsTotal.WithLabelValues(result).Inc()
}

func RecordDelivery(action, outcome string, latencyMs float64) {
	DeliveryAttemptsTotal.WithLabelValues(action, outcome).Inc()
	if action == "webhook" {
		DeliveryLatency.WithLabelValues(action).Observe(latencyMs)
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "despensero"

var (
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "turns_total",
		Help:      "Conversation turns by outcome.",
	}, []string{"outcome"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "tool_calls_total",
		Help:      "Tool dispatches by tool and result code.",
	}, []string{"tool", "code"})

	ToolIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "tool_iterations",
		Help:      "Reasoning iterations used per turn.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of one turn including tool dispatch.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
	})

	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Ledger upserts by result.",
	}, []string{"op"})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "webhook_requests_total",
		Help:      "Inbound webhook requests by kind.",
	}, []string{"kind"})

	MediaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "media",
		Name:      "rejections_total",
		Help:      "Media refused before any external call, by reason.",
	}, []string{"reason"})
)

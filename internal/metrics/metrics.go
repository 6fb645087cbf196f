// Package metrics exposes Prometheus metrics for the monitor pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailsentinel"

var (
	// CyclesTotal counts completed monitor cycles by result.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed monitor cycles by result",
		},
		[]string{"result"}, // ok, failed
	)

	// CandidatesSeen counts messages fetched from the mail provider.
	CandidatesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_seen_total",
			Help:      "Messages fetched from the mail provider",
		},
	)

	// CandidatesFiltered counts messages dropped by the keyword filter.
	CandidatesFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_filtered_total",
			Help:      "Messages dropped by the keyword filter",
		},
	)

	// CandidatesDeduped counts messages skipped as already processed.
	CandidatesDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_deduped_total",
			Help:      "Messages skipped because a processed marker exists",
		},
	)

	// AlertsSent counts dispatched alerts by urgency.
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts dispatched, by urgency",
		},
		[]string{"urgency"},
	)

	// StageErrors counts per-stage errors recorded in run summaries.
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Errors recorded per pipeline stage",
		},
		[]string{"stage"},
	)

	// CycleDuration observes wall time per monitor cycle.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time per monitor cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
)

// Package metrics exposes Prometheus instruments for the sync controller.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "acasinha"

// Refetch outcomes.
const (
	RefetchApplied   = "applied"
	RefetchDiscarded = "discarded"
	RefetchFailed    = "failed"
)

type Metrics struct {
	// MutationsTotal counts settled mutations.
	// Labels: op (participant.added, ...), state (committed, rolled_back)
	MutationsTotal *prometheus.CounterVec

	// WriteDuration measures remote writes from launch to settle.
	// Labels: op
	WriteDuration *prometheus.HistogramVec

	// PendingMutations is the number of mutations applied locally and not yet settled.
	PendingMutations prometheus.Gauge

	// RefetchesTotal counts refetches by outcome.
	// Labels: result (applied, discarded, failed)
	RefetchesTotal *prometheus.CounterVec
}

// New registers the instruments with reg. It panics on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "mutations_total",
				Help:      "Settled mutations by operation and final state",
			},
			[]string{"op", "state"},
		),
		WriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "write_duration_seconds",
				Help:      "Time from local apply to remote outcome",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		PendingMutations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "pending_mutations",
				Help:      "Mutations applied locally and awaiting their remote write",
			},
		),
		RefetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "refetches_total",
				Help:      "Authoritative refetches by outcome",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Settled(op, state string, started time.Time) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, state).Inc()
	m.WriteDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.PendingMutations.Set(float64(n))
}

func (m *Metrics) Refetched(result string) {
	if m == nil {
		return
	}
	m.RefetchesTotal.WithLabelValues(result).Inc()
}

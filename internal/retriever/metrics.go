package retriever

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier label values for the degradation counter.
const (
	tierCore     = "core"
	tierSemantic = "semantic"
	tierDeep     = "deep"
)

// metrics holds the retriever's Prometheus instruments. A nil *metrics is
// valid and records nothing, so an uninstrumented Retriever pays no cost.
type metrics struct {
	// retrievalsTotal counts completed Retrieve calls.
	retrievalsTotal prometheus.Counter

	// retrievalDurationSeconds records the wall-clock duration of Retrieve.
	retrievalDurationSeconds prometheus.Histogram

	// tierFailuresTotal counts tier degradations, partitioned by tier.
	tierFailuresTotal *prometheus.CounterVec
}

// Instrument registers the retriever's metrics against reg. Call it at most
// once, before the retriever serves traffic.
func (r *Retriever) Instrument(reg prometheus.Registerer) {
	factory := promauto.With(reg)

	r.metrics = &metrics{
		retrievalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lsai",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of context retrievals performed.",
		}),

		retrievalDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lsai",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of context retrievals.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		tierFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsai",
			Subsystem: "retrieval",
			Name:      "tier_failures_total",
			Help:      "Total number of retrieval tier degradations, partitioned by tier.",
		}, []string{"tier"}),
	}
}

func (m *metrics) observe(start time.Time) {
	if m == nil {
		return
	}
	m.retrievalsTotal.Inc()
	m.retrievalDurationSeconds.Observe(time.Since(start).Seconds())
}

func (m *metrics) tierFailure(tier string) {
	if m == nil {
		return
	}
	m.tierFailuresTotal.WithLabelValues(tier).Inc()
}

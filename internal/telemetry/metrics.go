package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors the engine updates. A single
// instance is created at startup and injected where needed.
type Metrics struct {
	Generations       *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ProviderFailures  *prometheus.CounterVec
	BudgetRejections  prometheus.Counter
	CostCharged       prometheus.Counter
	CostSaved         prometheus.Counter
	StateTransitions  *prometheus.CounterVec
	QualityComposites prometheus.Histogram
}

// NewMetrics registers all collectors with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_generations_total",
			Help: "Completed generation requests by outcome.",
		}, []string{"outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_cache_lookups_total",
			Help: "Cache lookups by result (exact_hit, similar_hit, miss, unavailable).",
		}, []string{"result"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_provider_latency_seconds",
			Help:    "Provider generation call latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_provider_failures_total",
			Help: "Provider call failures by provider.",
		}, []string{"provider"}),
		BudgetRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_budget_rejections_total",
			Help: "Requests rejected because the tenant budget window was exhausted.",
		}),
		CostCharged: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_cost_charged_dollars_total",
			Help: "Cumulative provider cost charged to tenants.",
		}),
		CostSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_cost_saved_dollars_total",
			Help: "Cumulative provider cost avoided by cache hits.",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_state_transitions_total",
			Help: "Orchestrator state transitions by target state.",
		}, []string{"state"}),
		QualityComposites: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loom_quality_composite",
			Help:    "Composite quality scores of generated artifacts.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

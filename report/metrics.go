package report

import (
	"context"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sw965/banditformula/expr"
)

const metricsNamespace = "banditformula"

// Metrics holds the prometheus collectors of one run. It also implements
// Reporter: a BestScore result updates the best_score gauge.
type Metrics struct {
	Evaluations   prometheus.Counter
	BestScore     prometheus.Gauge
	EpisodeRegret prometheus.Histogram
}

// NewMetrics registers the collectors on reg. cacheHits, when non-nil, is
// exported as the cache_hits_total counter.
func NewMetrics(reg prometheus.Registerer, cacheHits func() int64) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evaluations_total",
			Help:      "Total formula evaluations requested by the search drivers",
		}),
		BestScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "best_score",
			Help:      "Best score found so far",
		}),
		EpisodeRegret: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "episode_regret",
			Help:      "Regret of single bandit episodes",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	if cacheHits != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Evaluation cache hits",
		}, func() float64 { return float64(cacheHits()) })
	}
	return m
}

// CountScores wraps a score function so that every call increments
// evaluations_total.
func (m *Metrics) CountScores(f func(*expr.Node, *rand.Rand) (float64, error)) func(*expr.Node, *rand.Rand) (float64, error) {
	return func(e *expr.Node, rng *rand.Rand) (float64, error) {
		m.Evaluations.Inc()
		return f(e, rng)
	}
}

func (m *Metrics) ObserveRegret(regret float64) {
	m.EpisodeRegret.Observe(regret)
}

func (m *Metrics) EnterScope(ctx context.Context, _ string) context.Context { return ctx }
func (m *Metrics) LeaveScope(context.Context, any)                           {}
func (m *Metrics) Progress(context.Context, int, int)                        {}

func (m *Metrics) Result(_ context.Context, name string, value any) {
	if name != BestScore {
		return
	}
	if v, ok := value.(float64); ok && expr.IsValid(v) {
		m.BestScore.Set(v)
	}
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports the core's metrics through a prometheus registry.
type Prometheus struct {
	translationsTotal       *prometheus.CounterVec
	translationDurationMS   prometheus.Histogram
	optimizationImprovement prometheus.Histogram
	cacheHitsTotal          *prometheus.CounterVec
	backendErrorsTotal      *prometheus.CounterVec
}

// NewPrometheus creates and registers the metric set on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		translationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "translations_total",
			Help: "Finished translations by path and backend.",
		}, []string{"path", "backend"}),
		translationDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "translation_duration_ms",
			Help:    "End-to-end translation latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 14),
		}),
		optimizationImprovement: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optimisation_improvement",
			Help:    "Composite quality delta achieved by accepted optimisations.",
			Buckets: prometheus.LinearBuckets(0, 0.05, 11),
		}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by layer.",
		}, []string{"layer"}),
		backendErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_errors_total",
			Help: "Backend failures by error kind and backend.",
		}, []string{"kind", "backend"}),
	}

	reg.MustRegister(
		p.translationsTotal,
		p.translationDurationMS,
		p.optimizationImprovement,
		p.cacheHitsTotal,
		p.backendErrorsTotal,
	)
	return p
}

func (p *Prometheus) TranslationDone(path, backend string) {
	p.translationsTotal.WithLabelValues(path, backend).Inc()
}

func (p *Prometheus) TranslationDuration(ms float64) {
	p.translationDurationMS.Observe(ms)
}

func (p *Prometheus) OptimizationImprovement(delta float64) {
	p.optimizationImprovement.Observe(delta)
}

func (p *Prometheus) CacheHit(layer string) {
	p.cacheHitsTotal.WithLabelValues(layer).Inc()
}

func (p *Prometheus) BackendError(kind, backend string) {
	p.backendErrorsTotal.WithLabelValues(kind, backend).Inc()
}

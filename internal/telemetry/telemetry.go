// Package telemetry is the metrics capability of the translation core.
// The production implementation exports Prometheus counters and
// histograms; tests inject the no-op.
package telemetry

// Telemetry receives the core's counters and histogram observations.
type Telemetry interface {
	// TranslationDone counts a finished translation by path and backend.
	TranslationDone(path, backend string)
	// TranslationDuration observes end-to-end latency in milliseconds.
	TranslationDuration(ms float64)
	// OptimizationImprovement observes the composite-quality delta an
	// accepted optimisation achieved.
	OptimizationImprovement(delta float64)
	// CacheHit counts a cache hit by layer (l1, l2, pattern).
	CacheHit(layer string)
	// BackendError counts a backend failure by error kind and backend.
	BackendError(kind, backend string)
}

// Noop discards all observations.
type Noop struct{}

func (Noop) TranslationDone(path, backend string)  {}
func (Noop) TranslationDuration(ms float64)        {}
func (Noop) OptimizationImprovement(delta float64) {}
func (Noop) CacheHit(layer string)                 {}
func (Noop) BackendError(kind, backend string)     {}

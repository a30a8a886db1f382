package telemetry

import "sync"

// Recorder is an in-memory Telemetry used by tests to assert on what
// the core emitted.
type Recorder struct {
	mu sync.Mutex

	Translations  map[string]int
	Durations     []float64
	Improvements  []float64
	CacheHits     map[string]int
	BackendErrors map[string]int
}

func NewRecorder() *Recorder {
	return &Recorder{
		Translations:  make(map[string]int),
		CacheHits:     make(map[string]int),
		BackendErrors: make(map[string]int),
	}
}

func (r *Recorder) TranslationDone(path, backend string) {
	r.mu.Lock()
	r.Translations[path+"/"+backend]++
	r.mu.Unlock()
}

func (r *Recorder) TranslationDuration(ms float64) {
	r.mu.Lock()
	r.Durations = append(r.Durations, ms)
	r.mu.Unlock()
}

func (r *Recorder) OptimizationImprovement(delta float64) {
	r.mu.Lock()
	r.Improvements = append(r.Improvements, delta)
	r.mu.Unlock()
}

func (r *Recorder) CacheHit(layer string) {
	r.mu.Lock()
	r.CacheHits[layer]++
	r.mu.Unlock()
}

func (r *Recorder) BackendError(kind, backend string) {
	r.mu.Lock()
	r.BackendErrors[kind+"/"+backend]++
	r.mu.Unlock()
}

// TotalBackendErrors sums error counts across kinds and backends.
func (r *Recorder) TotalBackendErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.BackendErrors {
		total += n
	}
	return total
}

// Package optimizer searches for the chunk size that maximises
// composite translation quality, within a strict probe and time budget.
package optimizer

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

const (
	// MinSize and MaxSize bound the probed chunk sizes.
	MinSize = 50
	MaxSize = 2000

	// Texts outside [minTextLen, maxTextLen] are never optimised, nor
	// are texts whose initial quality already clears skipQuality.
	minTextLen  = 100
	maxTextLen  = 10000
	skipQuality = 0.85

	// earlyExitQuality stops the search as soon as any probe reaches it.
	earlyExitQuality = 0.9

	// regionWindow delimits the optimal region: every probed size whose
	// quality is within this distance of the best.
	regionWindow = 0.1

	// maxRefinements bounds the bisection that follows the initial
	// probe grid.
	maxRefinements = 4

	// qualityEps treats probes this close as equal; ties go to the
	// larger size (fewer backend calls).
	qualityEps = 0.001
)

// ProbeFunc chunks, translates and assesses the text at one chunk size,
// returning the composite quality.
type ProbeFunc func(ctx context.Context, size int) (float64, error)

// Config tunes the optimiser.
type Config struct {
	// MaxProbeConcurrency bounds concurrently running probes.
	MaxProbeConcurrency int
}

// Optimizer runs bounded chunk-size searches. Stateless across calls;
// safe for concurrent use.
type Optimizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Optimizer {
	if cfg.MaxProbeConcurrency < 1 {
		cfg.MaxProbeConcurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

// ShouldRun reports whether optimisation applies to a request.
func ShouldRun(textLen int, initialQuality float64, budgets internal.Budgets) bool {
	if !budgets.AllowOptimization {
		return false
	}
	if textLen < minTextLen || textLen > maxTextLen {
		return false
	}
	return initialQuality < skipQuality
}

// Result is the outcome of one optimisation run.
type Result struct {
	BestSize    int
	BestQuality float64
	Trace       internal.OptimizerTrace
}

// run carries the shared state of one optimisation: a memo so no size
// is probed twice, a single-flight group coalescing concurrent probes
// of the same size, and the bounded trace.
type run struct {
	probe ProbeFunc

	mu    sync.Mutex
	memo  map[int]float64
	trace internal.OptimizerTrace

	bestSize    int
	bestQuality float64
}

// Optimize samples the quality curve at five sizes, narrows to the
// optimal region, and bisects it. It honours budget as a hard wall:
// on expiry the best result so far is returned.
func (o *Optimizer) Optimize(
	ctx context.Context,
	textLen int,
	budget time.Duration,
	probe ProbeFunc,
) (*Result, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	max := MaxSize
	if textLen < max {
		max = textLen
	}
	if max <= MinSize {
		max = MinSize + 1
	}

	r := &run{probe: probe, memo: make(map[int]float64), bestSize: -1}
	var sf singleflight.Group

	doProbe := func(ctx context.Context, size int) (float64, bool) {
		r.mu.Lock()
		if q, ok := r.memo[size]; ok {
			r.mu.Unlock()
			return q, true
		}
		full := len(r.trace) >= internal.MaxTraceLen
		r.mu.Unlock()
		if full {
			return 0, false
		}

		v, err, _ := sf.Do(strconv.Itoa(size), func() (any, error) {
			start := time.Now()
			q, err := r.probe(ctx, size)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.memo[size] = q
			if len(r.trace) < internal.MaxTraceLen {
				r.trace = append(r.trace, internal.OptimizerProbe{
					Size:      size,
					Quality:   q,
					ElapsedMS: time.Since(start).Milliseconds(),
				})
			}
			if better(q, size, r.bestQuality, r.bestSize) {
				r.bestQuality = q
				r.bestSize = size
			}
			r.mu.Unlock()
			return q, nil
		})
		if err != nil {
			return 0, false
		}
		return v.(float64), true
	}

	// Phase 1: five-point grid across [MinSize, max].
	quarter := (max - MinSize) / 4
	grid := []int{MinSize, MinSize + quarter, MinSize + 2*quarter, MinSize + 3*quarter, max}
	grid = dedupe(grid)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxProbeConcurrency)
	for _, size := range grid {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if q, ok := doProbe(gctx, size); ok && q >= earlyExitQuality {
				// Good enough: stop the remaining probes.
				return context.Canceled
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	bestSize, bestQuality := r.bestSize, r.bestQuality
	r.mu.Unlock()
	if bestSize < 0 {
		return nil, nexuserr.New(nexuserr.KindInternal, "all optimisation probes failed")
	}
	if bestQuality >= earlyExitQuality || ctx.Err() != nil {
		return o.finish(r), nil
	}

	// Phase 2: bisect the optimal region.
	lo, hi := r.region()
	qLo, qHi := r.quality(lo), r.quality(hi)

	for i := 0; i < maxRefinements; i++ {
		if ctx.Err() != nil || hi-lo < 2 {
			break
		}
		r.mu.Lock()
		full := len(r.trace) >= internal.MaxTraceLen
		r.mu.Unlock()
		if full {
			break
		}

		mid := (lo + hi) / 2
		q, ok := doProbe(ctx, mid)
		if !ok {
			break
		}
		if q >= earlyExitQuality {
			break
		}
		// Keep the half anchored at the stronger endpoint.
		if better(qLo, lo, qHi, hi) {
			hi, qHi = mid, q
		} else {
			lo, qLo = mid, q
		}
	}

	return o.finish(r), nil
}

func (o *Optimizer) finish(r *run) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &Result{
		BestSize:    r.bestSize,
		BestQuality: r.bestQuality,
		Trace:       append(internal.OptimizerTrace(nil), r.trace...),
	}
	o.logger.Debug("optimisation finished",
		"best_size", res.BestSize, "best_quality", res.BestQuality, "probes", len(res.Trace))
	return res
}

// region returns the smallest and largest probed size whose quality is
// within regionWindow of the best.
func (r *run) region() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lo, hi := r.bestSize, r.bestSize
	for size, q := range r.memo {
		if r.bestQuality-q <= regionWindow {
			if size < lo {
				lo = size
			}
			if size > hi {
				hi = size
			}
		}
	}
	return lo, hi
}

func (r *run) quality(size int) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memo[size]
}

// better implements the ranking: higher quality wins; near-equal
// quality goes to the larger size.
func better(q1 float64, size1 int, q2 float64, size2 int) bool {
	if q1 > q2+qualityEps {
		return true
	}
	if q2 > q1+qualityEps {
		return false
	}
	return size1 > size2
}

func dedupe(sizes []int) []int {
	sort.Ints(sizes)
	out := sizes[:0]
	for i, s := range sizes {
		if i == 0 || s != sizes[i-1] {
			out = append(out, s)
		}
	}
	return out
}


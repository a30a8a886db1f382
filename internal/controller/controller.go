// Package controller implements the adaptive translation flow: cache
// lookup, path selection, parallel chunk translation, quality gating,
// chunk-size optimisation, and progressive streaming.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/cache"
	"github.com/meriley/lingua-nexus-sub001/internal/chunker"
	"github.com/meriley/lingua-nexus-sub001/internal/detector"
	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/optimizer"
	"github.com/meriley/lingua-nexus-sub001/internal/orchestrator"
	"github.com/meriley/lingua-nexus-sub001/internal/quality"
	"github.com/meriley/lingua-nexus-sub001/internal/registry"
	"github.com/meriley/lingua-nexus-sub001/internal/stream"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

// Config holds the controller's tunables; zero fields get defaults.
type Config struct {
	DefaultBackend    string
	MaxTextChars      int
	FastPathThreshold int
	DefaultChunkSize  int
	QualityThreshold  float64
	// MinImprovement is the composite delta an optimised result must
	// achieve over the fast-path result to be accepted.
	MinImprovement float64
}

func (c *Config) applyDefaults() {
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = 10000
	}
	if c.FastPathThreshold <= 0 {
		c.FastPathThreshold = 100
	}
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = 400
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = 0.8
	}
	if c.MinImprovement <= 0 {
		c.MinImprovement = 0.05
	}
}

// Deps are the injected collaborators; none is owned by the controller.
type Deps struct {
	Registry  *registry.Registry
	Languages *language.Registry
	Cache     *cache.Cache
	Chunker   *chunker.Chunker
	Assessor  *quality.Assessor
	Optimizer *optimizer.Optimizer
	Orch      *orchestrator.Orchestrator
	Detector  *detector.Detector
	Telemetry telemetry.Telemetry
	Logger    *slog.Logger
}

// Controller orchestrates one translation per call. It is stateless
// across requests and safe for concurrent use.
type Controller struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Controller {
	cfg.applyDefaults()
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, deps: deps}
}

// Translate runs the adaptive flow and returns the final result.
func (c *Controller) Translate(ctx context.Context, req internal.TranslationRequest) (*internal.TranslationResult, error) {
	start := time.Now()

	result, err := c.translate(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	result.ProcessingMS = time.Since(start).Milliseconds()
	c.deps.Telemetry.TranslationDuration(float64(result.ProcessingMS))
	return result, nil
}

// TranslateStream runs the adaptive flow while pushing progressive
// events onto s. The terminal event (final or error) is always sent
// unless the consumer is gone.
func (c *Controller) TranslateStream(ctx context.Context, req internal.TranslationRequest, s *stream.Stream) error {
	start := time.Now()

	result, err := c.translate(ctx, req, s)
	if err != nil {
		_ = s.Fail(ctx, err)
		return err
	}

	result.ProcessingMS = time.Since(start).Milliseconds()
	c.deps.Telemetry.TranslationDuration(float64(result.ProcessingMS))
	return s.Final(ctx, result)
}

// translate is the shared core; s is nil for the non-streaming path.
func (c *Controller) translate(ctx context.Context, req internal.TranslationRequest, s *stream.Stream) (*internal.TranslationResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	backendName := req.BackendHint
	if backendName == "" {
		backendName = c.cfg.DefaultBackend
	}

	tgt, err := c.deps.Languages.Canonicalize(req.TargetLang)
	if err != nil {
		return nil, err
	}
	src, err := c.deps.Languages.Canonicalize(req.SourceLang)
	if err != nil {
		return nil, err
	}

	// The target pair must be declared before any backend call.
	if !c.deps.Languages.Supports(tgt, backendName) {
		return nil, nexuserr.New(nexuserr.KindUnsupportedLanguagePair,
			"backend %q does not support target %q", backendName, tgt)
	}
	if src != language.Auto && !c.deps.Languages.Supports(src, backendName) {
		return nil, nexuserr.New(nexuserr.KindUnsupportedLanguagePair,
			"backend %q does not support source %q", backendName, src)
	}

	guard, err := c.deps.Registry.Acquire(backendName)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	deadline := time.Duration(req.Budgets.MaxLatencyMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if src == language.Auto {
		src, err = c.detectSource(ctx, guard, req)
		if err != nil {
			return nil, err
		}
		if !c.deps.Languages.Supports(src, backendName) {
			return nil, nexuserr.New(nexuserr.KindUnsupportedLanguagePair,
				"backend %q does not support detected source %q", backendName, src)
		}
	}

	key := cache.Key(req.Text, src, tgt, backendName)
	if cached, _, ok := c.deps.Cache.Get(ctx, key, c.qualityFloor(req)); ok {
		cached.DetectedSource = src
		c.deps.Telemetry.TranslationDone(string(internal.PathCached), backendName)
		if s != nil {
			if err := s.Start(ctx, req.ID, cached.ChunksUsed); err != nil {
				return nil, err
			}
		}
		return cached, nil
	}

	// Path choice: short texts and explicit fast preference skip the
	// adaptive machinery.
	textLen := len([]rune(req.Text))
	fastOnly := textLen < c.cfg.FastPathThreshold || req.Preference == internal.PreferenceFast

	size := c.cfg.DefaultChunkSize
	if !fastOnly {
		if pattern, ok := c.deps.Cache.GetPattern(ctx, req.Text, src, tgt); ok {
			size = pattern.ChunkSize
		}
	}

	initial, err := c.translateAtSize(ctx, guard, req.Text, src, tgt, size, s, req.ID)
	if err != nil {
		return nil, c.mapDeadline(err)
	}
	initial.result.DetectedSource = src

	if s != nil {
		if err := s.Partial(ctx, initial.result.Text, initial.result.Quality); err != nil {
			return nil, err
		}
	}

	final := initial
	path := internal.PathFast

	if initial.result.Quality.Composite < c.cfg.QualityThreshold &&
		req.Preference != internal.PreferenceFast &&
		optimizer.ShouldRun(textLen, initial.result.Quality.Composite, req.Budgets) {
		if improved, ok := c.optimize(ctx, guard, req, src, tgt, initial); ok {
			final = improved
			path = internal.PathOptimized
			if s != nil {
				if err := s.Improved(ctx, final.result.Text, final.result.Quality); err != nil {
					return nil, err
				}
			}
		}
	}

	final.result.Path = path
	if s != nil {
		final.result.Path = internal.PathStreamed
	}

	// Only clean, committed results reach the cache.
	if ctx.Err() == nil {
		c.deps.Cache.Put(ctx, key, final.result)
	}

	c.deps.Telemetry.TranslationDone(string(final.result.Path), backendName)
	return final.result, nil
}

// attempt bundles one full chunk-translate-assess pass.
type attempt struct {
	size   int
	result *internal.TranslationResult
}

// translateAtSize chunks the text at size, translates the chunks in
// parallel, assembles and assesses. When s is non-nil the start and
// per-chunk events are emitted.
func (c *Controller) translateAtSize(
	ctx context.Context,
	guard *registry.Guard,
	text, src, tgt string,
	size int,
	s *stream.Stream,
	requestID string,
) (*attempt, error) {
	srcCode, err := c.deps.Languages.ToBackend(src, guard.Name())
	if err != nil {
		return nil, err
	}
	tgtCode, err := c.deps.Languages.ToBackend(tgt, guard.Name())
	if err != nil {
		return nil, err
	}

	chunks, err := c.deps.Chunker.Chunk(text, size)
	if err != nil {
		return nil, err
	}

	var onDone func(internal.ChunkTranslation)
	if s != nil {
		if err := s.Start(ctx, requestID, len(chunks)); err != nil {
			return nil, err
		}
		var mu sync.Mutex
		completed := 0
		total := len(chunks)
		onDone = func(ct internal.ChunkTranslation) {
			mu.Lock()
			completed++
			progress := float64(completed) / float64(total)
			mu.Unlock()
			_ = s.Chunk(ctx, ct, progress)
		}
	}

	translations, err := c.deps.Orch.TranslateChunks(ctx, guard.Translator(), chunks, srcCode, tgtCode, onDone)
	if err != nil {
		if nexuserr.KindOf(err) == nexuserr.KindBackendFatal {
			c.deps.Registry.MarkFailed(guard.Name())
		}
		return nil, err
	}

	assembled := orchestrator.Assemble(chunks, translations)
	report := c.deps.Assessor.Assess(ctx, quality.Input{
		Source:      text,
		Translation: assembled,
		Parts:       translations,
		TargetLang:  tgt,
	})

	return &attempt{
		size: size,
		result: &internal.TranslationResult{
			Text:       assembled,
			Quality:    report,
			ChunksUsed: len(chunks),
			Warnings:   orchestrator.FailedIndices(translations),
		},
	}, nil
}

// optimize searches for a better chunk size within the optimisation
// budget. It reports ok only when the improvement clears MinImprovement.
func (c *Controller) optimize(
	ctx context.Context,
	guard *registry.Guard,
	req internal.TranslationRequest,
	src, tgt string,
	initial *attempt,
) (*attempt, bool) {
	budget := time.Duration(req.Budgets.MaxOptimizationMS) * time.Millisecond

	var mu sync.Mutex
	attempts := map[int]*attempt{initial.size: initial}

	probe := func(ctx context.Context, size int) (float64, error) {
		mu.Lock()
		if a, ok := attempts[size]; ok {
			mu.Unlock()
			return a.result.Quality.Composite, nil
		}
		mu.Unlock()

		a, err := c.translateAtSize(ctx, guard, req.Text, src, tgt, size, nil, req.ID)
		if err != nil {
			return 0, err
		}
		mu.Lock()
		attempts[size] = a
		mu.Unlock()
		return a.result.Quality.Composite, nil
	}

	res, err := c.deps.Optimizer.Optimize(ctx, len([]rune(req.Text)), budget, probe)
	if err != nil {
		c.deps.Logger.Warn("optimisation failed, keeping fast-path result", "error", err)
		return nil, false
	}

	improvement := res.BestQuality - initial.result.Quality.Composite
	if improvement < c.cfg.MinImprovement {
		return nil, false
	}

	mu.Lock()
	best, ok := attempts[res.BestSize]
	mu.Unlock()
	if !ok {
		return nil, false
	}

	best.result.OptimizationApplied = true
	best.result.DetectedSource = initial.result.DetectedSource
	c.deps.Telemetry.OptimizationImprovement(improvement)

	// Remember the winning size for texts of this shape.
	c.deps.Cache.PutPattern(ctx, req.Text, src, tgt, res.BestSize, res.BestQuality)

	return best, true
}

// detectSource resolves "auto": the backend's own detector first, then
// the in-process statistical detector, then the request's declared
// default, then the backend descriptor's default source.
func (c *Controller) detectSource(ctx context.Context, guard *registry.Guard, req internal.TranslationRequest) (string, error) {
	detected, err := guard.Translator().Detect(ctx, req.Text)
	if err != nil {
		c.deps.Telemetry.BackendError(string(nexuserr.KindOf(err)), guard.Name())
		detected = language.Unknown
	}

	if detected == language.Unknown && c.deps.Detector != nil {
		detected = c.deps.Detector.DetectCanonical(req.Text)
	}

	if detected == language.Unknown {
		if req.DefaultSource != "" {
			return c.deps.Languages.Canonicalize(req.DefaultSource)
		}
		if desc, ok := c.deps.Registry.Descriptor(guard.Name()); ok && desc.DefaultSource != "" {
			return desc.DefaultSource, nil
		}
		return "", nexuserr.New(nexuserr.KindDetectionFailed, "could not detect source language")
	}

	return c.deps.Languages.Canonicalize(detected)
}

func (c *Controller) validate(req internal.TranslationRequest) error {
	if req.Text == "" {
		return nexuserr.New(nexuserr.KindInvalidRequest, "text must not be empty")
	}
	if n := len([]rune(req.Text)); n > c.cfg.MaxTextChars {
		return nexuserr.New(nexuserr.KindTextTooLong, "text of %d chars exceeds limit %d", n, c.cfg.MaxTextChars)
	}
	if req.TargetLang == "" || req.TargetLang == language.Auto {
		return nexuserr.New(nexuserr.KindInvalidRequest, "target_lang is required and cannot be auto")
	}
	if req.Budgets.MaxLatencyMS <= 0 {
		return nexuserr.New(nexuserr.KindInvalidRequest, "max_latency_ms must be positive")
	}
	switch req.Preference {
	case internal.PreferenceFast, internal.PreferenceBalanced, internal.PreferenceQuality, "":
	default:
		return nexuserr.New(nexuserr.KindInvalidRequest, "unknown preference %q", req.Preference)
	}
	return nil
}

// qualityFloor is the minimum stored quality a cache hit must carry for
// this request.
func (c *Controller) qualityFloor(req internal.TranslationRequest) float64 {
	if req.Preference == internal.PreferenceQuality {
		return c.cfg.QualityThreshold
	}
	return 0
}

// mapDeadline folds context expiry into the error taxonomy.
func (c *Controller) mapDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return nexuserr.Wrap(nexuserr.KindDeadlineExceeded, err)
	}
	return err
}

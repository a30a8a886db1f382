package controller

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/cache"
	"github.com/meriley/lingua-nexus-sub001/internal/chunker"
	"github.com/meriley/lingua-nexus-sub001/internal/kv"
	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/optimizer"
	"github.com/meriley/lingua-nexus-sub001/internal/orchestrator"
	"github.com/meriley/lingua-nexus-sub001/internal/quality"
	"github.com/meriley/lingua-nexus-sub001/internal/registry"
	"github.com/meriley/lingua-nexus-sub001/internal/stream"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

type env struct {
	controller *Controller
	cache      *cache.Cache
	recorder   *telemetry.Recorder
}

func newTestEnv(t *testing.T, m *backend.MockTranslator, cfg Config) *env {
	t.Helper()

	rec := telemetry.NewRecorder()
	reg := registry.New(nil)
	if err := reg.Register(backend.Descriptor{
		Name:          "mock",
		Kind:          backend.KindMock,
		DefaultSource: "en",
		New: func(ctx context.Context) (backend.Translator, error) {
			return m, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Load(context.Background(), "mock"); err != nil {
		t.Fatalf("load: %v", err)
	}

	langs := language.NewRegistry()
	langs.RegisterBackend("mock", m.Capabilities().Languages)

	ca, err := cache.New(64, kv.NewMemory(), time.Hour, rec, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	cfg.DefaultBackend = "mock"
	ctrl := New(cfg, Deps{
		Registry:  reg,
		Languages: langs,
		Cache:     ca,
		Chunker:   chunker.New(),
		Assessor:  quality.New(nil, nil),
		Optimizer: optimizer.New(optimizer.Config{MaxProbeConcurrency: 3}, nil),
		Orch:      orchestrator.New(orchestrator.Config{MaxConcurrency: 5, MaxAttempts: 3, RetryDelay: time.Millisecond}, rec, nil),
		Telemetry: rec,
	})

	return &env{controller: ctrl, cache: ca, recorder: rec}
}

func request(text, src, tgt string, pref internal.Preference) internal.TranslationRequest {
	return internal.TranslationRequest{
		Text:       text,
		SourceLang: src,
		TargetLang: tgt,
		Preference: pref,
		Budgets: internal.Budgets{
			MaxLatencyMS:      5000,
			MaxOptimizationMS: 2000,
			AllowOptimization: true,
		},
	}
}

// longText builds n short independent sentences.
func longText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(fmt.Sprintf("Plain sentence about topic %c goes right here. ", 'a'+(i%26)))
	}
	return strings.TrimRight(sb.String(), " ")
}

func TestTranslate_ShortFastPath(t *testing.T) {
	e := newTestEnv(t, backend.NewMockTranslator(), Config{})
	ctx := context.Background()

	res, err := e.controller.Translate(ctx, request("Hello world", "auto", "ru", internal.PreferenceFast))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Path != internal.PathFast {
		t.Errorf("expected fast path, got %s", res.Path)
	}
	if res.ChunksUsed != 1 {
		t.Errorf("expected 1 chunk, got %d", res.ChunksUsed)
	}
	if res.DetectedSource != "en" {
		t.Errorf("expected detected source en, got %q", res.DetectedSource)
	}
	if res.CacheHit {
		t.Error("first call must not be a cache hit")
	}
	if res.Quality.Grade != internal.GradeA && res.Quality.Grade != internal.GradeB {
		t.Errorf("expected grade A or B, got %s", res.Quality.Grade)
	}

	// Identical second call: served from cache, byte-identical text.
	res2, err := e.controller.Translate(ctx, request("Hello world", "auto", "ru", internal.PreferenceFast))
	if err != nil {
		t.Fatalf("second translate: %v", err)
	}
	if !res2.CacheHit || res2.Path != internal.PathCached {
		t.Errorf("second call should hit the cache: hit=%v path=%s", res2.CacheHit, res2.Path)
	}
	if res2.Text != res.Text {
		t.Errorf("cached text differs: %q vs %q", res2.Text, res.Text)
	}
}

func TestTranslate_Validation(t *testing.T) {
	e := newTestEnv(t, backend.NewMockTranslator(), Config{MaxTextChars: 100})
	ctx := context.Background()

	tests := []struct {
		name string
		req  internal.TranslationRequest
		kind nexuserr.Kind
	}{
		{"empty text", request("", "en", "ru", ""), nexuserr.KindInvalidRequest},
		{"text too long", request(strings.Repeat("x", 101), "en", "ru", ""), nexuserr.KindTextTooLong},
		{"target auto", request("hello", "en", "auto", ""), nexuserr.KindInvalidRequest},
		{"bad preference", func() internal.TranslationRequest {
			r := request("hello", "en", "ru", "warp")
			return r
		}(), nexuserr.KindInvalidRequest},
		{"zero deadline", func() internal.TranslationRequest {
			r := request("hello", "en", "ru", "")
			r.Budgets.MaxLatencyMS = 0
			return r
		}(), nexuserr.KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.controller.Translate(ctx, tt.req)
			if !nexuserr.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestTranslate_BoundaryLengths(t *testing.T) {
	e := newTestEnv(t, backend.NewMockTranslator(), Config{})
	ctx := context.Background()

	for _, n := range []int{1, 99, 100, 101} {
		req := request(strings.Repeat("a", n), "en", "ru", internal.PreferenceFast)
		if _, err := e.controller.Translate(ctx, req); err != nil {
			t.Errorf("length %d should translate: %v", n, err)
		}
	}

	req := request(strings.Repeat("a", 10001), "en", "ru", internal.PreferenceFast)
	if _, err := e.controller.Translate(ctx, req); !nexuserr.Is(err, nexuserr.KindTextTooLong) {
		t.Errorf("length 10001 should be rejected, got %v", err)
	}
}

func TestTranslate_UnsupportedPairNoBackendCall(t *testing.T) {
	var calls atomic.Int32
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		calls.Add(1)
		return &backend.Result{Text: text}, nil
	}
	e := newTestEnv(t, m, Config{})

	_, err := e.controller.Translate(context.Background(), request("hello there", "en", "fi", ""))
	if !nexuserr.Is(err, nexuserr.KindUnsupportedLanguagePair) {
		t.Fatalf("expected unsupported_language_pair, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("backend must not be called, saw %d calls", calls.Load())
	}
}

func TestTranslate_TransientChunkFailureRecovers(t *testing.T) {
	var flaky atomic.Int32
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if strings.Contains(text, "topic c") && flaky.Add(1) <= 2 {
			return nil, nexuserr.New(nexuserr.KindBackendTransient, "hiccup")
		}
		return &backend.Result{Text: "[ru] " + text, Confidence: 0.95, HasConfidence: true}, nil
	}

	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})
	res, err := e.controller.Translate(context.Background(), request(longText(5), "en", "ru", internal.PreferenceBalanced))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("recovered chunk should leave no warnings, got %v", res.Warnings)
	}
	if got := e.recorder.TotalBackendErrors(); got != 2 {
		t.Errorf("expected 2 recorded backend errors, got %d", got)
	}
}

func TestTranslate_PartialFailureWarnsAndSkipsCache(t *testing.T) {
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if strings.Contains(text, "topic b") {
			return nil, nexuserr.New(nexuserr.KindBackendTransient, "always broken")
		}
		return &backend.Result{Text: "[ru] " + text, Confidence: 0.95, HasConfidence: true}, nil
	}

	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})
	req := request(longText(4), "en", "ru", internal.PreferenceFast)
	res, err := e.controller.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
	if !strings.Contains(res.Text, orchestrator.FailureMarker) {
		t.Error("assembled text should carry the failure marker")
	}
	if !strings.Contains(res.Text, "topic b") {
		t.Error("failed chunk should fall back to its source text")
	}

	// Partial failures are never cached.
	res2, err := e.controller.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("second translate: %v", err)
	}
	if res2.CacheHit {
		t.Error("partial-failure result must not be served from cache")
	}
}

func TestTranslate_OptimizationImprovesQuality(t *testing.T) {
	m := backend.NewMockTranslator()
	// Small chunks translate terribly; once chunks grow past 100 chars
	// the backend behaves.
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if len([]rune(text)) < 100 {
			return &backend.Result{Text: "zz"}, nil
		}
		return &backend.Result{Text: "[ru] " + text, Confidence: 0.95, HasConfidence: true}, nil
	}

	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})
	res, err := e.controller.Translate(context.Background(), request(longText(12), "en", "ru", internal.PreferenceQuality))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Path != internal.PathOptimized {
		t.Errorf("expected optimised path, got %s", res.Path)
	}
	if !res.OptimizationApplied {
		t.Error("optimisation_applied should be true")
	}
	if res.Quality.Composite < 0.8 {
		t.Errorf("optimised composite %v below 0.8", res.Quality.Composite)
	}
	if res.ChunksUsed >= 12 {
		t.Errorf("optimised run should use larger chunks, got %d", res.ChunksUsed)
	}
}

func TestTranslate_OptimizationBudgetExpiry(t *testing.T) {
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len([]rune(text)) < 100 {
			return &backend.Result{Text: "zz"}, nil
		}
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &backend.Result{Text: "[ru] " + text, Confidence: 0.95, HasConfidence: true}, nil
	}

	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})
	req := request(longText(12), "en", "ru", internal.PreferenceQuality)
	req.Budgets.MaxOptimizationMS = 1

	res, err := e.controller.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.OptimizationApplied {
		t.Error("expired budget should keep the fast-path result")
	}
	if res.Path != internal.PathFast {
		t.Errorf("expected fast path after budget expiry, got %s", res.Path)
	}
	if res.ProcessingMS >= req.Budgets.MaxLatencyMS {
		t.Errorf("processing took %dms, budget %dms", res.ProcessingMS, req.Budgets.MaxLatencyMS)
	}
}

func TestTranslate_DeadlineExceeded(t *testing.T) {
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &backend.Result{Text: text}, nil
		}
	}

	e := newTestEnv(t, m, Config{})
	req := request("some text that will not make it in time", "en", "ru", internal.PreferenceFast)
	req.Budgets.MaxLatencyMS = 10

	_, err := e.controller.Translate(context.Background(), req)
	if !nexuserr.Is(err, nexuserr.KindDeadlineExceeded) {
		t.Fatalf("expected deadline_exceeded, got %v", err)
	}
}

func TestTranslate_Idempotence(t *testing.T) {
	m := backend.NewMockTranslator()
	e := newTestEnv(t, m, Config{})
	ctx := context.Background()

	req := request("A reasonable sentence to translate now.", "en", "ru", internal.PreferenceFast)
	res1, err := e.controller.Translate(ctx, req)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	// Same request again hits the cache rather than recomputing.
	res2, _ := e.controller.Translate(ctx, req)
	if !res2.CacheHit || res2.Text != res1.Text {
		t.Errorf("expected identical cached result, got hit=%v", res2.CacheHit)
	}
}

func TestTranslateStream_EventOrdering(t *testing.T) {
	m := backend.NewMockTranslator()
	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})

	s := stream.New(64)
	req := request(longText(4), "en", "ru", internal.PreferenceFast)

	go func() {
		_ = e.controller.TranslateStream(context.Background(), req, s)
	}()

	var events []stream.Event
	for ev := range s.Events() {
		events = append(events, ev)
	}

	if len(events) < 3 {
		t.Fatalf("expected at least start/partial/final, got %d events", len(events))
	}
	if events[0].Type != stream.EventStart {
		t.Errorf("first event must be start, got %s", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != stream.EventFinal {
		t.Fatalf("last event must be final, got %s", last.Type)
	}
	if last.Result == nil || last.Result.Path != internal.PathStreamed {
		t.Errorf("final result should use the streamed path: %+v", last.Result)
	}

	chunkEvents := 0
	seenPartial := false
	for _, ev := range events[1 : len(events)-1] {
		switch ev.Type {
		case stream.EventChunk:
			if seenPartial {
				t.Error("chunk event after partial")
			}
			chunkEvents++
		case stream.EventPartial:
			seenPartial = true
		}
	}
	if chunkEvents != events[0].PlannedChunks {
		t.Errorf("expected %d chunk events, got %d", events[0].PlannedChunks, chunkEvents)
	}
	if !seenPartial {
		t.Error("missing partial event")
	}
}

func TestTranslateStream_CancellationSkipsCache(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	m := backend.NewMockTranslator()
	var calls atomic.Int32
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if blocking.Load() && calls.Add(1) > 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &backend.Result{Text: "[ru] " + text, Confidence: 0.9, HasConfidence: true}, nil
	}

	e := newTestEnv(t, m, Config{DefaultChunkSize: 60})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := stream.New(64)
	req := request(longText(6), "en", "ru", internal.PreferenceFast)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.controller.TranslateStream(ctx, req, s)
	}()

	// Read a couple of events, then walk away.
	seen := 0
	for ev := range s.Events() {
		if ev.Type == stream.EventChunk {
			seen++
		}
		if seen == 2 {
			cancel()
		}
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("cancelled stream should report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
	blocking.Store(false)

	// Nothing may have been cached.
	res, err := e.controller.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("follow-up translate: %v", err)
	}
	if res.CacheHit {
		t.Error("cancelled translation must not leave a cache entry")
	}
}

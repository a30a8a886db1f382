package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

func testConfig() Config {
	return Config{MaxConcurrency: 5, MaxAttempts: 3, RetryDelay: time.Millisecond}
}

func makeChunks(texts ...string) []internal.Chunk {
	chunks := make([]internal.Chunk, len(texts))
	pos := 0
	for i, t := range texts {
		chunks[i] = internal.Chunk{Index: i, Text: t, Start: pos, End: pos + len(t), Kind: internal.ChunkSentence}
		pos += len(t)
	}
	return chunks
}

func TestTranslateChunks_OrderPreserved(t *testing.T) {
	o := New(testConfig(), nil, nil)
	m := backend.NewMockTranslator()
	// Later chunks finish first.
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if strings.Contains(text, "first") {
			time.Sleep(30 * time.Millisecond)
		}
		return &backend.Result{Text: "T:" + strings.TrimSpace(text)}, nil
	}

	chunks := makeChunks("first part. ", "second part. ", "third part.")
	results, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}
	if results[0].Text != "T:first part." {
		t.Errorf("unexpected first result %q", results[0].Text)
	}
}

func TestTranslateChunks_TransientRetrySucceeds(t *testing.T) {
	rec := telemetry.NewRecorder()
	o := New(testConfig(), rec, nil)

	var calls atomic.Int32
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if strings.Contains(text, "flaky") && calls.Add(1) <= 2 {
			return nil, nexuserr.New(nexuserr.KindBackendTransient, "temporary glitch")
		}
		return &backend.Result{Text: "ok:" + text}, nil
	}

	chunks := makeChunks("chunk one. ", "chunk two. ", "flaky chunk. ", "chunk four. ", "chunk five.")
	results, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed := FailedIndices(results); len(failed) != 0 {
		t.Errorf("expected no failed chunks, got %v", failed)
	}
	if results[2].Text != "ok:flaky chunk." {
		t.Errorf("flaky chunk should succeed on retry, got %q", results[2].Text)
	}
	if got := rec.TotalBackendErrors(); got != 2 {
		t.Errorf("expected 2 recorded backend errors, got %d", got)
	}
}

func TestTranslateChunks_ExhaustedFallsBackToSource(t *testing.T) {
	o := New(testConfig(), nil, nil)
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		return nil, nexuserr.New(nexuserr.KindBackendTransient, "always down")
	}

	chunks := makeChunks("unlucky chunk text here.")
	results, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil)
	if err != nil {
		t.Fatalf("chunk-level failure must not fail the call: %v", err)
	}
	r := results[0]
	if r.Error == "" {
		t.Fatal("expected chunk error to be recorded")
	}
	if !strings.HasPrefix(r.Text, FailureMarker) {
		t.Errorf("fallback text should carry the marker, got %q", r.Text)
	}
	if !strings.Contains(r.Text, "unlucky chunk text here.") {
		t.Errorf("fallback should contain the source text, got %q", r.Text)
	}
	if failed := FailedIndices(results); len(failed) != 1 || failed[0] != 0 {
		t.Errorf("expected failed index [0], got %v", failed)
	}
}

func TestTranslateChunks_InputTooLongResplits(t *testing.T) {
	o := New(testConfig(), nil, nil)
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		if len(text) > 20 {
			return nil, nexuserr.New(nexuserr.KindInputTooLong, "too long")
		}
		return &backend.Result{Text: "t(" + text + ")"}, nil
	}

	chunks := makeChunks("alpha beta gamma delta epsilon zeta")
	results, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := results[0]
	if r.Error != "" {
		t.Fatalf("re-split should have recovered the chunk: %v", r.Error)
	}
	if !strings.Contains(r.Text, "t(") {
		t.Errorf("expected translated halves, got %q", r.Text)
	}
}

func TestTranslateChunks_FatalAborts(t *testing.T) {
	o := New(testConfig(), nil, nil)
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		return nil, nexuserr.New(nexuserr.KindBackendFatal, "bad credentials")
	}

	chunks := makeChunks("chunk a. ", "chunk b.")
	_, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil)
	if !nexuserr.Is(err, nexuserr.KindBackendFatal) {
		t.Fatalf("expected backend_fatal, got %v", err)
	}
}

func TestTranslateChunks_ConcurrencyBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 2
	o := New(cfg, nil, nil)

	var inFlight, peak atomic.Int32
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &backend.Result{Text: text}, nil
	}

	chunks := makeChunks("a. ", "b. ", "c. ", "d. ", "e. ", "f.")
	if _, err := o.TranslateChunks(context.Background(), m, chunks, "en", "ru", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency exceeded limit: peak %d", peak.Load())
	}
}

func TestTranslateChunks_Cancellation(t *testing.T) {
	o := New(testConfig(), nil, nil)
	m := backend.NewMockTranslator()
	m.TranslateFunc = func(ctx context.Context, text, src, tgt string) (*backend.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &backend.Result{Text: text}, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	chunks := makeChunks("a. ", "b. ", "c.")
	start := time.Now()
	_, err := o.TranslateChunks(ctx, m, chunks, "en", "ru", nil)
	if err == nil {
		t.Fatal("cancelled run should fail")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation was not observed promptly")
	}
}

func TestAssemble_RestoresSeparators(t *testing.T) {
	chunks := makeChunks("First para.\n\n", "Second sentence. ", "Third.")
	translations := []internal.ChunkTranslation{
		{Index: 0, Text: "Первый абзац."},
		{Index: 1, Text: "Второе предложение."},
		{Index: 2, Text: "Третье."},
	}
	got := Assemble(chunks, translations)
	want := "Первый абзац.\n\nВторое предложение. Третье."
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func TestSplitMiddle(t *testing.T) {
	left, right := splitMiddle("alpha beta gamma delta")
	if left == "" || right == "" {
		t.Fatalf("expected two halves, got %q / %q", left, right)
	}
	if left+" "+right != "alpha beta gamma delta" {
		t.Errorf("halves lost content: %q / %q", left, right)
	}

	if _, right := splitMiddle("unsplittable"); right != "" {
		t.Errorf("single word should not split, got %q", right)
	}
}

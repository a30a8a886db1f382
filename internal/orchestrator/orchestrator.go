// Package orchestrator fans chunk translations out over a backend with
// bounded concurrency, retries transient failures with exponential
// back-off, re-splits stubborn chunks once, and falls back to marked
// source text so one bad chunk never sinks the request.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/telemetry"
)

// FailureMarker is prepended to the untranslated source text of a chunk
// whose translation ultimately failed.
const FailureMarker = "[untranslated] "

// Config controls parallel execution and retry behaviour.
type Config struct {
	// MaxConcurrency bounds in-flight chunk translations per request.
	MaxConcurrency int

	// MaxAttempts is the total number of tries per chunk including the
	// first (default 3: one initial call plus two retries).
	MaxAttempts int

	// RetryDelay is the base wait before the first retry; it doubles on
	// every subsequent retry.
	RetryDelay time.Duration
}

// Orchestrator runs chunk translations in parallel and collects results
// in chunk-index order.
type Orchestrator struct {
	cfg    Config
	tel    telemetry.Telemetry
	logger *slog.Logger
}

// New creates an Orchestrator. Unset config fields receive defaults.
func New(cfg Config, tel telemetry.Telemetry, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 5
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if tel == nil {
		tel = telemetry.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, tel: tel, logger: logger}
}

// TranslateChunks translates every chunk through t, at most
// MaxConcurrency in flight. Results come back in chunk-index order
// regardless of completion order. Transient chunk failures are retried,
// then re-split once, then recovered as marked source text; fatal
// backend errors abort the whole call. onDone, when non-nil, is invoked
// from worker goroutines as each chunk completes.
func (o *Orchestrator) TranslateChunks(
	ctx context.Context,
	t backend.Translator,
	chunks []internal.Chunk,
	srcCode, tgtCode string,
	onDone func(internal.ChunkTranslation),
) ([]internal.ChunkTranslation, error) {
	results := make([]internal.ChunkTranslation, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrency)

	for _, chunk := range chunks {
		g.Go(func() error {
			ct, fatal := o.translateChunk(ctx, t, chunk, srcCode, tgtCode)
			if fatal != nil {
				return fatal
			}
			results[chunk.Index] = ct
			if onDone != nil {
				onDone(ct)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// translateChunk runs the per-chunk recovery ladder: retries with
// back-off, a single forced re-split, then marked source fallback. The
// second return value is non-nil only for unrecoverable request-level
// failures (fatal backend errors, context cancellation).
func (o *Orchestrator) translateChunk(
	ctx context.Context,
	t backend.Translator,
	chunk internal.Chunk,
	srcCode, tgtCode string,
) (internal.ChunkTranslation, error) {
	start := time.Now()
	ct := internal.ChunkTranslation{Index: chunk.Index}

	text := strings.TrimRight(chunk.Text, " \t\n\r")

	res, err := o.attemptWithRetry(ctx, t, text, srcCode, tgtCode)
	if err == nil {
		ct.Text = res.Text
		ct.Confidence = res.Confidence
		ct.HasConfidence = res.HasConfidence
		ct.ElapsedMS = time.Since(start).Milliseconds()
		return ct, nil
	}

	switch nexuserr.KindOf(err) {
	case nexuserr.KindBackendFatal:
		return ct, err
	case nexuserr.KindInputTooLong, nexuserr.KindBackendTransient:
		// One forced re-split: translate the halves individually.
		if res, splitErr := o.translateHalves(ctx, t, text, srcCode, tgtCode); splitErr == nil {
			ct.Text = res.Text
			ct.Confidence = res.Confidence
			ct.HasConfidence = res.HasConfidence
			ct.ElapsedMS = time.Since(start).Milliseconds()
			return ct, nil
		} else if nexuserr.KindOf(splitErr) == nexuserr.KindBackendFatal {
			return ct, splitErr
		}
	default:
		if ctx.Err() != nil {
			return ct, ctx.Err()
		}
	}

	// Recovered locally: the chunk is merged back as marked source text.
	o.logger.Warn("chunk translation failed, falling back to source",
		"chunk", chunk.Index, "backend", t.Name(), "error", err)
	ct.Text = FailureMarker + text
	ct.Error = err.Error()
	ct.ElapsedMS = time.Since(start).Milliseconds()
	return ct, nil
}

// attemptWithRetry calls the backend up to MaxAttempts times, backing
// off exponentially between attempts. Only transient errors are
// retried.
func (o *Orchestrator) attemptWithRetry(
	ctx context.Context,
	t backend.Translator,
	text, srcCode, tgtCode string,
) (*backend.Result, error) {
	var lastErr error
	delay := o.cfg.RetryDelay

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		res, err := t.Translate(ctx, text, srcCode, tgtCode)
		if err == nil {
			return res, nil
		}

		lastErr = err
		kind := nexuserr.KindOf(err)
		o.tel.BackendError(string(kind), t.Name())

		if kind != nexuserr.KindBackendTransient {
			return nil, err
		}
		if attempt < o.cfg.MaxAttempts-1 {
			o.logger.Warn("chunk attempt failed, retrying",
				"backend", t.Name(), "attempt", attempt+1, "error", err)
		}
	}
	return nil, lastErr
}

// translateHalves splits text at the word boundary nearest its middle
// and translates both halves with a single attempt each.
func (o *Orchestrator) translateHalves(
	ctx context.Context,
	t backend.Translator,
	text, srcCode, tgtCode string,
) (*backend.Result, error) {
	left, right := splitMiddle(text)
	if right == "" {
		return nil, nexuserr.New(nexuserr.KindChunkFailed, "chunk cannot be split further")
	}

	leftRes, err := t.Translate(ctx, left, srcCode, tgtCode)
	if err != nil {
		o.tel.BackendError(string(nexuserr.KindOf(err)), t.Name())
		return nil, err
	}
	rightRes, err := t.Translate(ctx, right, srcCode, tgtCode)
	if err != nil {
		o.tel.BackendError(string(nexuserr.KindOf(err)), t.Name())
		return nil, err
	}

	out := &backend.Result{Text: leftRes.Text + " " + rightRes.Text}
	if leftRes.HasConfidence && rightRes.HasConfidence {
		out.Confidence = (leftRes.Confidence + rightRes.Confidence) / 2
		out.HasConfidence = true
	}
	return out, nil
}

// splitMiddle cuts text at the whitespace closest to its midpoint.
func splitMiddle(text string) (string, string) {
	runes := []rune(text)
	mid := len(runes) / 2
	best := -1
	for i, r := range runes {
		if !unicode.IsSpace(r) {
			continue
		}
		if best == -1 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best <= 0 {
		return text, ""
	}
	return strings.TrimSpace(string(runes[:best])), strings.TrimSpace(string(runes[best:]))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Assemble joins chunk translations in index order, restoring the
// inter-chunk separators of the source so paragraph breaks survive
// translation.
func Assemble(chunks []internal.Chunk, translations []internal.ChunkTranslation) string {
	var sb strings.Builder
	for i, ct := range translations {
		sb.WriteString(strings.TrimSpace(ct.Text))
		if i < len(translations)-1 {
			sb.WriteString(separatorOf(chunks[i].Text))
		}
	}
	return sb.String()
}

// separatorOf extracts the trailing whitespace of a source chunk, or a
// single space when the chunk had none.
func separatorOf(chunkText string) string {
	trimmed := strings.TrimRightFunc(chunkText, unicode.IsSpace)
	if len(trimmed) == len(chunkText) {
		return " "
	}
	return chunkText[len(trimmed):]
}

// FailedIndices lists the chunks that fell back to source text.
func FailedIndices(translations []internal.ChunkTranslation) []int {
	var failed []int
	for _, ct := range translations {
		if ct.Error != "" {
			failed = append(failed, ct.Index)
		}
	}
	return failed
}

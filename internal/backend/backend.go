// Package backend defines the translator plug-in contract and the bundled
// backend implementations (Google Translate, Ollama, OpenRouter, mock).
package backend

import (
	"context"
	"net/http"

	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

// Health reports a backend's ability to serve requests.
type Health int

const (
	Down Health = iota
	Degraded
	Ready
)

func (h Health) String() string {
	switch h {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "down"
	}
}

// Kind distinguishes the backend implementation families.
type Kind string

const (
	KindNLLBLike         Kind = "nllb_like"
	KindLLMInstructTuned Kind = "llm_instruct_tuned"
	KindMock             Kind = "mock"
)

// Capabilities describes what a backend can do. Languages maps canonical
// codes to the backend's own codes and doubles as the supported set.
type Capabilities struct {
	Languages          map[string]string `json:"languages"`
	MaxInputChars      int               `json:"max_input_chars"`
	SupportsConfidence bool              `json:"supports_confidence"`
}

// Result is a single successful backend translation.
type Result struct {
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence,omitempty"`
	HasConfidence bool    `json:"has_confidence,omitempty"`
}

// Translator is the capability contract every backend implements.
//
// Translate must not silently truncate: input longer than
// Capabilities().MaxInputChars yields an InputTooLong error and the caller
// re-chunks. Detect may return language.Unknown; callers fall back to a
// declared default. Implementations classify failures as BackendTransient
// (retryable) or BackendFatal.
type Translator interface {
	Name() string
	Translate(ctx context.Context, text, srcCode, tgtCode string) (*Result, error)
	Detect(ctx context.Context, text string) (string, error)
	Capabilities() Capabilities
	Health(ctx context.Context) Health
}

// Canceler is optionally implemented by backends that can abort their
// in-flight work beyond plain context cancellation.
type Canceler interface {
	Cancel()
}

// Descriptor registers a backend with the model registry. New is invoked
// at load time (once per single-flight load) and may be expensive.
type Descriptor struct {
	Name string
	Kind Kind
	// DefaultSource is assumed when detection returns "unknown".
	DefaultSource string
	New           func(ctx context.Context) (Translator, error)
}

// checkInput enforces the no-silent-truncation contract obligation.
func checkInput(text string, caps Capabilities) error {
	if caps.MaxInputChars > 0 && len([]rune(text)) > caps.MaxInputChars {
		return nexuserr.New(nexuserr.KindInputTooLong,
			"input of %d chars exceeds backend limit %d", len([]rune(text)), caps.MaxInputChars)
	}
	return nil
}

// classifyStatus maps an HTTP status from a backend API onto the error
// taxonomy: 408/429/5xx are transient, everything else fatal.
func classifyStatus(status int) nexuserr.Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return nexuserr.KindBackendTransient
	default:
		return nexuserr.KindBackendFatal
	}
}

// commonLanguages is the canonical set the bundled LLM backends accept;
// they take canonical codes directly.
var commonLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "uk",
}

func commonLanguageMapping() map[string]string {
	return language.IdentityMapping(commonLanguages...)
}

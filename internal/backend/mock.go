package backend

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/meriley/lingua-nexus-sub001/internal/language"
)

// MockTranslator is a deterministic in-process backend used by tests and
// as a placeholder when no real backend is configured. The "translation"
// tags the text with the target language, so output is reproducible and
// roughly length-preserving.
type MockTranslator struct {
	// TranslateFunc, DetectFunc and HealthFunc override the default
	// behaviour when set.
	TranslateFunc func(ctx context.Context, text, srcCode, tgtCode string) (*Result, error)
	DetectFunc    func(ctx context.Context, text string) (string, error)
	HealthFunc    func(ctx context.Context) Health

	NameVal string
	Caps    Capabilities
}

// NewMockTranslator returns a mock with the common language set and a
// 2000-char input limit.
func NewMockTranslator() *MockTranslator {
	return &MockTranslator{
		NameVal: "mock",
		Caps: Capabilities{
			Languages:          commonLanguageMapping(),
			MaxInputChars:      2000,
			SupportsConfidence: true,
		},
	}
}

// MockDescriptor registers the mock under the given name.
func MockDescriptor(name string) Descriptor {
	return Descriptor{
		Name:          name,
		Kind:          KindMock,
		DefaultSource: "en",
		New: func(ctx context.Context) (Translator, error) {
			m := NewMockTranslator()
			m.NameVal = name
			return m, nil
		},
	}
}

func (m *MockTranslator) Name() string {
	if m.NameVal == "" {
		return "mock"
	}
	return m.NameVal
}

func (m *MockTranslator) Translate(ctx context.Context, text, srcCode, tgtCode string) (*Result, error) {
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, text, srcCode, tgtCode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(text, m.Capabilities()); err != nil {
		return nil, err
	}
	return &Result{
		Text:          fmt.Sprintf("[%s] %s", tgtCode, text),
		Confidence:    0.95,
		HasConfidence: true,
	}, nil
}

// Detect uses a script heuristic: Cyrillic text is "ru", Han is "zh",
// everything else "en". Good enough for deterministic tests.
func (m *MockTranslator) Detect(ctx context.Context, text string) (string, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, text)
	}
	if strings.TrimSpace(text) == "" {
		return language.Unknown, nil
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			return "ru", nil
		case unicode.Is(unicode.Han, r):
			return "zh", nil
		}
	}
	return "en", nil
}

func (m *MockTranslator) Capabilities() Capabilities {
	if m.Caps.Languages == nil {
		return Capabilities{Languages: commonLanguageMapping(), MaxInputChars: 2000, SupportsConfidence: true}
	}
	return m.Caps
}

func (m *MockTranslator) Health(ctx context.Context) Health {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return Ready
}

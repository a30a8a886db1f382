// Package detector wraps the lingua-go statistical language detector.
// It backs both source-language detection (when a backend's own detector
// reports "unknown") and wrong-language checks in the quality assessor.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/meriley/lingua-nexus-sub001/internal/language"
)

// minReliableLength is the minimum rune count for a trustworthy
// detection. Shorter texts are reported as unknown by DetectCanonical.
const minReliableLength = 20

// Detector detects the language of a text. Building the underlying
// lingua detector is expensive; construct once and reuse.
type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	det := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: det}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the upper-case ISO 639-1 code of the detected
// language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}

// DetectCanonical returns the lower-case canonical code, or
// language.Unknown when the text is too short or ambiguous.
func (d *Detector) DetectCanonical(text string) string {
	if len([]rune(strings.TrimSpace(text))) < minReliableLength {
		return language.Unknown
	}
	code, ok := d.DetectISO(text)
	if !ok {
		return language.Unknown
	}
	return strings.ToLower(code)
}

// Matches reports whether text appears to be written in canonical
// language want. Short or ambiguous texts match by default.
func (d *Detector) Matches(text, want string) bool {
	detected := d.DetectCanonical(text)
	if detected == language.Unknown {
		return true
	}
	return strings.EqualFold(detected, want)
}

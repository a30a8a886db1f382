// Package quality scores a (source, translation, chunks) triple on six
// components and folds them into a composite in [0, 1].
package quality

import (
	"context"
	"strings"
	"unicode"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/detector"
	"github.com/meriley/lingua-nexus-sub001/internal/embedder"
)

// Component weights. Two fixed sets: one for when an embedder supplied a
// semantic-coherence score, one for when it did not.
const (
	wConfidence = 0.3
	wLength     = 0.2
	wStructure  = 0.2
	wEntities   = 0.2
	wBoundary   = 0.1

	wConfidenceSem = 0.25
	wLengthSem     = 0.15
	wStructureSem  = 0.15
	wEntitiesSem   = 0.15
	wBoundarySem   = 0.05
	wSemantic      = 0.25
)

// neutralScore stands in for components that cannot be computed.
const neutralScore = 0.5

// Input is what the assessor scores.
type Input struct {
	Source      string
	Translation string
	// Parts are the per-chunk translations in index order; may be a
	// single element for unchunked translations.
	Parts []internal.ChunkTranslation
	// TargetLang, when set, enables the wrong-language check.
	TargetLang string
}

// Assessor computes quality reports. The detector and embedder are both
// optional; absent capabilities degrade the affected components to their
// documented fallbacks.
type Assessor struct {
	det *detector.Detector
	emb embedder.Embedder
}

// New creates an Assessor. det may be nil to skip language validation;
// emb may be nil to disable semantic coherence.
func New(det *detector.Detector, emb embedder.Embedder) *Assessor {
	return &Assessor{det: det, emb: emb}
}

// Assess scores in and returns the report. It never fails: unavailable
// components degrade to neutral and the composite reweights accordingly.
func (a *Assessor) Assess(ctx context.Context, in Input) internal.QualityReport {
	comp := internal.QualityComponents{
		Confidence:         a.confidence(in.Parts),
		LengthConsistency:  lengthConsistency(in.Source, in.Translation),
		StructureIntegrity: a.structureIntegrity(in.Translation, in.TargetLang),
		EntityPreservation: entityPreservation(in.Source, in.Translation),
		BoundaryCoherence:  boundaryCoherence(in.Parts),
		SemanticCoherence:  neutralScore,
	}

	if a.emb != nil {
		if sim, ok := a.semanticCoherence(ctx, in.Source, in.Translation); ok {
			comp.SemanticCoherence = sim
			comp.SemanticAvailable = true
		}
	}

	var composite float64
	if comp.SemanticAvailable {
		composite = wConfidenceSem*comp.Confidence +
			wLengthSem*comp.LengthConsistency +
			wStructureSem*comp.StructureIntegrity +
			wEntitiesSem*comp.EntityPreservation +
			wBoundarySem*comp.BoundaryCoherence +
			wSemantic*comp.SemanticCoherence
	} else {
		composite = wConfidence*comp.Confidence +
			wLength*comp.LengthConsistency +
			wStructure*comp.StructureIntegrity +
			wEntities*comp.EntityPreservation +
			wBoundary*comp.BoundaryCoherence
	}

	return internal.QualityReport{
		Composite:  composite,
		Grade:      internal.GradeFor(composite),
		Components: comp,
	}
}

// confidence is the mean of backend-provided chunk confidences, or
// neutral when no chunk carried one. Failed chunks count as zero.
func (a *Assessor) confidence(parts []internal.ChunkTranslation) float64 {
	var sum float64
	n := 0
	for _, p := range parts {
		if p.Error != "" {
			sum += 0
			n++
			continue
		}
		if p.HasConfidence {
			sum += p.Confidence
			n++
		}
	}
	if n == 0 {
		return neutralScore
	}
	return sum / float64(n)
}

// lengthConsistency scores the translation/source length ratio: full
// marks inside [0.8, 1.5], linear decay to zero at 0.3 and 3.0.
func lengthConsistency(source, translation string) float64 {
	srcLen := float64(len([]rune(source)))
	tgtLen := float64(len([]rune(translation)))
	if srcLen == 0 {
		return 0
	}
	r := tgtLen / srcLen

	switch {
	case r >= 0.8 && r <= 1.5:
		return 1.0
	case r <= 0.3 || r >= 3.0:
		return 0
	case r < 0.8:
		return (r - 0.3) / 0.5
	default: // 1.5 < r < 3.0
		return (3.0 - r) / 1.5
	}
}

// structureIntegrity deducts for incomplete sentences, repeated phrases
// and basic grammar flags, floored at zero.
func (a *Assessor) structureIntegrity(translation, targetLang string) float64 {
	score := 1.0
	score -= 0.1 * float64(incompleteSentences(translation))
	score -= 0.05 * float64(repeatedPhrases(translation))
	score -= 0.03 * float64(a.grammarFlags(translation, targetLang))
	if score < 0 {
		return 0
	}
	return score
}

// incompleteSentences counts sentence-like segments that do not end with
// a terminator. The terminator set matches the chunker's.
func incompleteSentences(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	count := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := []rune(line)
		last := r[len(r)-1]
		// Closing quotes and brackets after the terminator are fine.
		for len(r) > 1 && (last == '"' || last == '»' || last == '”' || last == ')' || last == '\'') {
			r = r[:len(r)-1]
			last = r[len(r)-1]
		}
		if last != '.' && last != '!' && last != '?' {
			count++
		}
	}
	return count
}

// repeatedPhrases counts token trigrams that occur more than once.
func repeatedPhrases(text string) int {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) < 6 {
		return 0
	}
	seen := make(map[string]int)
	for i := 0; i+3 <= len(tokens); i++ {
		key := tokens[i] + " " + tokens[i+1] + " " + tokens[i+2]
		seen[key]++
	}
	count := 0
	for _, n := range seen {
		if n > 1 {
			count++
		}
	}
	return count
}

// grammarFlags applies cheap sanity checks: doubled words, unbalanced
// brackets, and (when a detector is present) a wrong-language flag.
func (a *Assessor) grammarFlags(text, targetLang string) int {
	flags := 0

	tokens := strings.Fields(strings.ToLower(text))
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] && len(tokens[i]) > 2 {
			flags++
		}
	}

	if strings.Count(text, "(") != strings.Count(text, ")") {
		flags++
	}
	if strings.Count(text, "«") != strings.Count(text, "»") {
		flags++
	}

	if a.det != nil && targetLang != "" && !a.det.Matches(text, targetLang) {
		flags++
	}
	return flags
}

// boundaryCoherence checks each inter-chunk boundary in the assembled
// translation: the preceding chunk must end with a terminator or the
// following chunk must start with an upper-case letter (or a script
// without case). Single-chunk translations score 1.
func boundaryCoherence(parts []internal.ChunkTranslation) float64 {
	if len(parts) <= 1 {
		return 1.0
	}
	boundaries := 0
	coherent := 0
	for i := 1; i < len(parts); i++ {
		prev := strings.TrimSpace(parts[i-1].Text)
		next := strings.TrimSpace(parts[i].Text)
		if prev == "" || next == "" {
			continue
		}
		boundaries++
		if endsWithTerminator(prev) || startsUpper(next) {
			coherent++
		}
	}
	if boundaries == 0 {
		return 1.0
	}
	return float64(coherent) / float64(boundaries)
}

func endsWithTerminator(s string) bool {
	r := []rune(s)
	last := r[len(r)-1]
	for len(r) > 1 && (last == '"' || last == '»' || last == '”' || last == ')' || last == '\'') {
		r = r[:len(r)-1]
		last = r[len(r)-1]
	}
	return last == '.' || last == '!' || last == '?'
}

// startsUpper accepts upper-case starts and uncased scripts (CJK,
// digits, punctuation openers).
func startsUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r) || !unicode.In(r, unicode.Latin, unicode.Cyrillic, unicode.Greek)
		}
		// Leading quotes, digits and brackets do not break coherence.
		return true
	}
	return false
}

// semanticCoherence embeds both texts and returns their clamped cosine
// similarity. ok is false when the embedder failed.
func (a *Assessor) semanticCoherence(ctx context.Context, source, translation string) (float64, bool) {
	srcVec, err := a.emb.Embed(ctx, source)
	if err != nil {
		return 0, false
	}
	tgtVec, err := a.emb.Embed(ctx, translation)
	if err != nil {
		return 0, false
	}
	return embedder.Cosine(srcVec, tgtVec), true
}

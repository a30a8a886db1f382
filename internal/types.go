// Package internal holds the data model shared by the adaptive translation
// core: requests, chunks, quality reports, and results.
package internal

import "time"

// Preference selects the speed/quality trade-off for a request.
type Preference string

const (
	PreferenceFast     Preference = "fast"
	PreferenceBalanced Preference = "balanced"
	PreferenceQuality  Preference = "quality"
)

// Budgets carries the time limits attached to a request.
type Budgets struct {
	MaxLatencyMS      int64 `json:"max_latency_ms"`
	MaxOptimizationMS int64 `json:"max_optimisation_ms"`
	AllowOptimization bool  `json:"allow_optimisation"`
}

// TranslationRequest is a validated translation request as consumed by the
// adaptive controller. SourceLang is a canonical code or "auto"; TargetLang
// is always canonical.
type TranslationRequest struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	BackendHint string `json:"backend_hint,omitempty"`
	// DefaultSource is used when detection returns "unknown".
	DefaultSource string     `json:"default_source,omitempty"`
	Preference    Preference `json:"preference"`
	Budgets       Budgets    `json:"budgets"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ChunkKind records which boundary type produced a chunk.
type ChunkKind string

const (
	ChunkParagraph ChunkKind = "paragraph"
	ChunkSentence  ChunkKind = "sentence"
	ChunkClause    ChunkKind = "clause"
	// ChunkForced marks chunks that exceed the nominal size limit or were
	// cut without a natural boundary.
	ChunkForced ChunkKind = "forced"
)

// Chunk is one piece of a segmentation. Chunks of one segmentation form a
// contiguous, non-overlapping cover of the source text: Text is exactly
// the substring Source[Start:End] and chunk i+1 starts where chunk i ends.
type Chunk struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	Start int       `json:"start"`
	End   int       `json:"end"`
	Kind  ChunkKind `json:"kind"`
}

// ChunkTranslation is the outcome of translating a single chunk.
type ChunkTranslation struct {
	Index         int     `json:"index"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence,omitempty"`
	HasConfidence bool    `json:"has_confidence,omitempty"`
	ElapsedMS     int64   `json:"elapsed_ms"`
	Error         string  `json:"error,omitempty"`
}

// Grade is the letter grade derived from a composite quality score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps a composite score to its letter grade.
func GradeFor(composite float64) Grade {
	switch {
	case composite >= 0.9:
		return GradeA
	case composite >= 0.8:
		return GradeB
	case composite >= 0.7:
		return GradeC
	case composite >= 0.55:
		return GradeD
	default:
		return GradeF
	}
}

// QualityComponents holds the individual scores feeding the composite.
type QualityComponents struct {
	Confidence         float64 `json:"confidence"`
	LengthConsistency  float64 `json:"length_consistency"`
	StructureIntegrity float64 `json:"structure_integrity"`
	EntityPreservation float64 `json:"entity_preservation"`
	BoundaryCoherence  float64 `json:"boundary_coherence"`
	SemanticCoherence  float64 `json:"semantic_coherence"`
	// SemanticAvailable is false when no embedder was reachable; the
	// composite then uses the five-component weighting.
	SemanticAvailable bool `json:"semantic_available"`
}

// QualityReport is the assessor's verdict on a (source, translation) pair.
type QualityReport struct {
	Composite  float64           `json:"composite"`
	Grade      Grade             `json:"grade"`
	Components QualityComponents `json:"components"`
}

// Path names the controller flow that produced a result.
type Path string

const (
	PathCached    Path = "cached"
	PathFast      Path = "fast"
	PathOptimized Path = "optimised"
	PathStreamed  Path = "streamed"
)

// TranslationResult is the final outcome of a translation request.
type TranslationResult struct {
	Text                string        `json:"translated_text"`
	DetectedSource      string        `json:"detected_source"`
	Quality             QualityReport `json:"quality"`
	Path                Path          `json:"path"`
	ChunksUsed          int           `json:"chunks_used"`
	OptimizationApplied bool          `json:"optimisation_applied"`
	ProcessingMS        int64         `json:"processing_ms"`
	CacheHit            bool          `json:"cache_hit"`
	// Warnings lists the indices of chunks whose translation failed and
	// were merged back as marked source text.
	Warnings []int `json:"warnings,omitempty"`
}

// OptimizerProbe records one size probed during chunk-size optimisation.
type OptimizerProbe struct {
	Size      int     `json:"size_probed"`
	Quality   float64 `json:"quality"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// OptimizerTrace is the ordered probe history of one optimiser run,
// bounded to MaxTraceLen entries.
type OptimizerTrace []OptimizerProbe

// MaxTraceLen bounds the optimiser trace.
const MaxTraceLen = 8

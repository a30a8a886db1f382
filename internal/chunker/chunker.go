// Package chunker splits texts into translatable chunks along discourse,
// sentence and clause boundaries. Chunks are exact substrings of the
// source: concatenating them in index order reproduces the input
// character-for-character. It also extracts a sliding-window context
// snippet (last N words) for use with LLM translators.
package chunker

import (
	"strings"
	"unicode"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

const (
	// MinChunkSize is the smallest accepted chunk size in characters.
	MinChunkSize = 50
	// MaxChunkSize is the hard ceiling; larger requests are clamped.
	MaxChunkSize = 2000

	// overflowFactor is how far past the nominal size a chunk may grow
	// to keep a continuation sentence with its antecedent.
	overflowFactor = 1.2

	// forcedSplitTarget places forced split points near this fraction of
	// the size limit.
	forcedSplitTarget = 0.9

	// DefaultContextWords is the sliding-window size used by
	// ExtractContext.
	DefaultContextWords = 25
)

// terminators end a sentence when followed by whitespace or end-of-text.
var terminators = map[rune]bool{'.': true, '!': true, '?': true}

// clauseMarkers are the in-sentence split points for oversized sentences,
// in no particular order; the chosen marker is the one whose cut point
// lands closest to forcedSplitTarget of the limit.
var clauseMarkers = []string{", ", "; ", ": ", " — ", " - "}

// Abbreviations lists per-language tokens whose trailing period does not
// end a sentence. Tunable data: callers may replace or extend it before
// constructing a Chunker.
var Abbreviations = map[string][]string{
	"en": {"mr", "mrs", "ms", "dr", "prof", "st", "vs", "etc", "e.g", "i.e", "cf", "fig", "no", "inc", "ltd", "jr", "sr", "approx"},
	"ru": {"г", "гг", "т.д", "т.п", "т.е", "им", "ул", "др", "стр", "рис"},
}

// continuationWords start sentences that lean on the previous one.
var continuationWords = map[string]bool{
	"however": true, "therefore": true, "moreover": true, "furthermore": true,
	"nevertheless": true, "meanwhile": true, "consequently": true, "thus": true,
	"hence": true, "but": true, "and": true, "also": true, "yet": true, "so": true,
	"однако": true, "поэтому": true, "также": true, "но": true, "и": true,
	"впрочем": true, "затем": true, "потом": true, "ведь": true,
}

// anaphoricWords are pronouns and demonstratives whose referent lives in
// an earlier sentence.
var anaphoricWords = map[string]bool{
	"he": true, "she": true, "it": true, "they": true, "him": true, "her": true,
	"them": true, "this": true, "that": true, "these": true, "those": true,
	"its": true, "their": true, "his": true,
	"он": true, "она": true, "оно": true, "они": true, "это": true,
	"этот": true, "эта": true, "эти": true, "тот": true, "их": true, "его": true, "её": true,
}

// Chunker segments text for translation. The zero value is not usable;
// construct with New.
type Chunker struct {
	abbrev map[string]bool
}

func New() *Chunker {
	abbrev := make(map[string]bool)
	for _, words := range Abbreviations {
		for _, w := range words {
			abbrev[strings.ToLower(w)] = true
		}
	}
	return &Chunker{abbrev: abbrev}
}

// Chunk splits text into chunks of at most maxSize characters, packing
// whole sentences greedily and splitting oversized sentences at clause
// markers or word boundaries. Sentences that open with a continuation
// marker or an anaphoric reference stay with the previous chunk up to
// overflowFactor times maxSize; such over-limit chunks are marked forced.
//
// maxSize below MinChunkSize is rejected; above MaxChunkSize it is
// clamped.
func (c *Chunker) Chunk(text string, maxSize int) ([]internal.Chunk, error) {
	if maxSize < MinChunkSize {
		return nil, nexuserr.New(nexuserr.KindInvalidRequest, "chunk size %d below minimum %d", maxSize, MinChunkSize)
	}
	if maxSize > MaxChunkSize {
		maxSize = MaxChunkSize
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if trimmedLen(runes, 0, len(runes)) <= maxSize {
		return []internal.Chunk{{
			Index: 0,
			Text:  text,
			Start: 0,
			End:   len(text),
			Kind:  internal.ChunkSentence,
		}}, nil
	}

	// Byte offset of every rune position, for Start/End ranges.
	byteOff := make([]int, len(runes)+1)
	for i, r := range runes {
		byteOff[i+1] = byteOff[i] + len(string(r))
	}

	sentences := c.segment(runes)

	b := &builder{runes: runes, byteOff: byteOff}
	hardCap := int(float64(maxSize) * overflowFactor)

	for _, s := range sentences {
		sentLen := trimmedLen(runes, s.start, s.end)

		if b.curLen() == 0 {
			if sentLen > maxSize {
				b.splitOversized(s, maxSize)
				continue
			}
			b.extend(s)
			continue
		}

		extended := trimmedLen(runes, b.curStart, s.end)
		switch {
		case extended <= maxSize:
			b.extend(s)
		case c.isContinuation(runes, s) && extended <= hardCap:
			b.extend(s)
			b.overflowed = true
		default:
			b.flush()
			if sentLen > maxSize {
				b.splitOversized(s, maxSize)
			} else {
				b.extend(s)
			}
		}
	}
	b.flush()

	return b.chunks, nil
}

// sentence is a span of runes including its trailing whitespace.
type sentence struct {
	start, end int
	// paraEnd marks sentences whose trailing whitespace contains a blank
	// line.
	paraEnd bool
}

// segment splits runes into sentence spans. A sentence ends at a
// terminator followed by whitespace (unless the preceding token is a
// known abbreviation) or at a paragraph break. Trailing whitespace
// belongs to the sentence so that spans cover the text exactly.
func (c *Chunker) segment(runes []rune) []sentence {
	var out []sentence
	start := 0
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]

		endHere := false
		newlines := 0
		if terminators[r] {
			// Consume a run of terminators ("?!", "...").
			j := i
			for j+1 < n && terminators[runes[j+1]] {
				j++
			}
			if j+1 >= n || unicode.IsSpace(runes[j+1]) {
				if r != '.' || !c.isAbbreviation(runes, i) {
					i = j
					endHere = true
				}
			}
		} else if r == '\n' && i+1 < n && runes[i+1] == '\n' {
			endHere = true
			newlines = 1
		}

		if !endHere {
			i++
			continue
		}

		// Pull the following whitespace into this sentence.
		end := i + 1
		para := false
		for end < n && unicode.IsSpace(runes[end]) {
			if runes[end] == '\n' {
				newlines++
			}
			end++
		}
		if newlines >= 2 {
			para = true
		}
		out = append(out, sentence{start: start, end: end, paraEnd: para})
		start = end
		i = end
	}

	if start < n {
		out = append(out, sentence{start: start, end: n})
	}
	return out
}

// isAbbreviation reports whether the period at dot ends a known
// abbreviation rather than a sentence.
func (c *Chunker) isAbbreviation(runes []rune, dot int) bool {
	end := dot
	start := end
	for start > 0 {
		r := runes[start-1]
		if unicode.IsLetter(r) || r == '.' {
			start--
			continue
		}
		break
	}
	if start == end {
		return false
	}
	word := strings.ToLower(strings.TrimSuffix(string(runes[start:end]), "."))
	return c.abbrev[word]
}

// isContinuation reports whether the sentence opens with a continuation
// marker or carries an anaphoric reference near its start.
func (c *Chunker) isContinuation(runes []rune, s sentence) bool {
	fields := strings.Fields(string(runes[s.start:s.end]))
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ",.;:!?«»\"'"))
	if continuationWords[first] {
		return true
	}
	limit := 3
	if len(fields) < limit {
		limit = len(fields)
	}
	for _, f := range fields[:limit] {
		w := strings.ToLower(strings.Trim(f, ",.;:!?«»\"'"))
		if anaphoricWords[w] {
			return true
		}
	}
	return false
}

// builder accumulates chunks while preserving the exact-cover property.
type builder struct {
	runes   []rune
	byteOff []int

	chunks     []internal.Chunk
	curStart   int
	curEnd     int
	curKind    internal.ChunkKind
	overflowed bool
	started    bool
}

func (b *builder) curLen() int {
	if !b.started {
		return 0
	}
	return trimmedLen(b.runes, b.curStart, b.curEnd)
}

func (b *builder) extend(s sentence) {
	if !b.started {
		b.curStart = s.start
		b.curKind = internal.ChunkSentence
		b.started = true
	}
	b.curEnd = s.end
	if s.paraEnd {
		b.curKind = internal.ChunkParagraph
	}
}

func (b *builder) flush() {
	if !b.started {
		return
	}
	kind := b.curKind
	if b.overflowed {
		kind = internal.ChunkForced
	}
	b.emit(b.curStart, b.curEnd, kind)
	b.started = false
	b.overflowed = false
}

func (b *builder) emit(start, end int, kind internal.ChunkKind) {
	if start >= end {
		return
	}
	b.chunks = append(b.chunks, internal.Chunk{
		Index: len(b.chunks),
		Text:  string(b.runes[start:end]),
		Start: b.byteOff[start],
		End:   b.byteOff[end],
		Kind:  kind,
	})
}

// splitOversized cuts a sentence longer than maxSize into pieces. Each
// cut prefers the clause marker closest to forcedSplitTarget·maxSize,
// then the last word boundary within the limit, then a hard cut. The
// remainder becomes the open chunk so later sentences may pack onto it.
func (b *builder) splitOversized(s sentence, maxSize int) {
	pos := s.start
	lastKind := internal.ChunkForced
	for trimmedLen(b.runes, pos, s.end) > maxSize {
		cut, kind := b.findCut(pos, s.end, maxSize)
		b.emit(pos, cut, kind)
		pos = cut
		lastKind = kind
	}
	if pos < s.end {
		b.curStart = pos
		b.curEnd = s.end
		b.curKind = lastKind
		b.started = true
		if s.paraEnd {
			b.curKind = internal.ChunkParagraph
		}
	}
}

// findCut returns the absolute rune index to cut at and the kind of the
// emitted piece.
func (b *builder) findCut(start, end, maxSize int) (int, internal.ChunkKind) {
	limit := start + maxSize
	if limit > end {
		limit = end
	}
	window := string(b.runes[start:limit])
	target := int(forcedSplitTarget * float64(maxSize))

	// Clause markers: cut right after the marker whose end lands closest
	// to the target position.
	bestCut := -1
	bestDist := maxSize + 1
	for _, m := range clauseMarkers {
		from := 0
		for {
			rel := strings.Index(window[from:], m)
			if rel < 0 {
				break
			}
			byteAt := from + rel
			markerEnd := len([]rune(window[:byteAt+len(m)]))
			if markerEnd < maxSize {
				dist := markerEnd - target
				if dist < 0 {
					dist = -dist
				}
				if dist < bestDist {
					bestDist = dist
					bestCut = markerEnd
				}
			}
			from = byteAt + 1
		}
	}
	if bestCut > 0 {
		return start + bestCut, internal.ChunkClause
	}

	// Last word boundary within the limit.
	for i := limit - 1; i > start; i-- {
		if unicode.IsSpace(b.runes[i]) {
			return i + 1, internal.ChunkForced
		}
	}

	// Hard cut.
	return limit, internal.ChunkForced
}

// trimmedLen is the rune length of runes[start:end] with trailing
// whitespace excluded; packing decisions ignore the separator tail.
func trimmedLen(runes []rune, start, end int) int {
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return end - start
}

// ExtractContext returns the last wordCount words of text joined by
// single spaces, for use as a sliding-window continuity snippet with LLM
// backends. If wordCount ≤ 0, DefaultContextWords is used.
func ExtractContext(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) <= wordCount {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[len(words)-wordCount:], " ")
}

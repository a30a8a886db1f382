package quality

import (
	"strings"
	"unicode"
)

// entityPreservation returns the fraction of distinct named entities in
// the source that survive into the translation, matched case-insensitively
// and tolerating an edit distance of 1. A source with no entities scores 1.
func entityPreservation(source, translation string) float64 {
	entities := extractEntities(source)
	if len(entities) == 0 {
		return 1.0
	}

	targetTokens := tokenize(translation)
	targetSet := make(map[string]bool, len(targetTokens))
	for _, t := range targetTokens {
		targetSet[strings.ToLower(t)] = true
	}

	preserved := 0
	for entity := range entities {
		if entityPresent(entity, targetSet) {
			preserved++
		}
	}
	return float64(preserved) / float64(len(entities))
}

// extractEntities collects the distinct entity-like items of text:
// capitalised tokens (excluding sentence starts), digit-bearing tokens,
// and quoted spans.
func extractEntities(text string) map[string]bool {
	entities := make(map[string]bool)

	sentenceStart := true
	for _, raw := range strings.Fields(text) {
		tok := strings.TrimFunc(raw, func(r rune) bool {
			return unicode.IsPunct(r) && r != '-'
		})
		if tok == "" {
			sentenceStart = endsSentence(raw)
			continue
		}
		r := []rune(tok)
		switch {
		case containsDigit(tok):
			entities[strings.ToLower(tok)] = true
		case unicode.IsUpper(r[0]) && len(r) > 1 && !sentenceStart:
			entities[strings.ToLower(tok)] = true
		}
		sentenceStart = endsSentence(raw)
	}

	for _, span := range quotedSpans(text) {
		span = strings.TrimSpace(span)
		if span != "" {
			entities[strings.ToLower(span)] = true
		}
	}
	return entities
}

// entityPresent looks the entity up in the target token set, first
// exactly, then within edit distance 1.
func entityPresent(entity string, targetSet map[string]bool) bool {
	if targetSet[entity] {
		return true
	}
	// Multi-word spans match if every word is present.
	if strings.Contains(entity, " ") {
		for _, w := range strings.Fields(entity) {
			if !entityPresent(w, targetSet) {
				return false
			}
		}
		return true
	}
	for candidate := range targetSet {
		if levenshtein(entity, candidate) <= 1 {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '-'
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func endsSentence(tok string) bool {
	if tok == "" {
		return false
	}
	last := tok[len(tok)-1]
	return last == '.' || last == '!' || last == '?'
}

// quotedSpans extracts text between matching straight or typographic
// quote pairs.
func quotedSpans(text string) []string {
	var spans []string
	pairs := [][2]rune{{'"', '"'}, {'«', '»'}, {'“', '”'}}
	runes := []rune(text)

	for _, p := range pairs {
		open := -1
		for i, r := range runes {
			switch r {
			case p[0]:
				if p[0] == p[1] && open >= 0 {
					spans = append(spans, string(runes[open+1:i]))
					open = -1
				} else {
					open = i
				}
			case p[1]:
				if open >= 0 {
					spans = append(spans, string(runes[open+1:i]))
					open = -1
				}
			}
		}
	}
	return spans
}

// levenshtein returns the rune-level edit distance between a and b using
// a two-row DP.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
			} else {
				min := prev[j]
				if prev[j-1] < min {
					min = prev[j-1]
				}
				if curr[j-1] < min {
					min = curr[j-1]
				}
				curr[j] = min + 1
			}
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// keyVersion prefixes every cache key; bump it when the entry layout
// changes incompatibly.
const keyVersion = "v1"

// Key builds the stable exact-match cache key:
// v1:<backend>:<src>:<tgt>:<sha256(text)[:16]>. The text is NFC
// normalised and trimmed first so equivalent spellings share an entry.
func Key(text, src, tgt, backendName string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyVersion, backendName, src, tgt, hex.EncodeToString(sum[:])[:16])
}

// backendPrefix is the key prefix shared by all entries of one backend.
func backendPrefix(backendName string) string {
	return fmt.Sprintf("%s:%s:", keyVersion, backendName)
}

// normalizeText trims whitespace and applies Unicode NFC normalisation
// for consistent key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// ContentClass buckets text by register for the pattern cache.
type ContentClass string

const (
	ClassEmotional ContentClass = "emotional"
	ClassTechnical ContentClass = "technical"
	ClassGeneral   ContentClass = "general"
)

// emotiveWords is a small lexicon marking emotionally loaded text.
var emotiveWords = map[string]bool{
	"love": true, "hate": true, "amazing": true, "terrible": true,
	"wonderful": true, "awful": true, "beautiful": true, "horrible": true,
	"happy": true, "sad": true, "angry": true, "excited": true,
	"люблю": true, "ненавижу": true, "прекрасно": true, "ужасно": true,
	"счастье": true, "грусть": true, "радость": true, "боль": true,
}

// classify buckets text into emotional, technical or general register
// using punctuation density, digit/symbol density, and the emotive
// lexicon.
func classify(text string) ContentClass {
	runes := []rune(text)
	if len(runes) == 0 {
		return ClassGeneral
	}

	var exclam, digits, symbols int
	for _, r := range runes {
		switch {
		case r == '!' || r == '?':
			exclam++
		case unicode.IsDigit(r):
			digits++
		case r == '_' || r == '{' || r == '}' || r == '<' || r == '>' || r == '/' || r == '=' || r == '%':
			symbols++
		}
	}

	emotive := 0
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		if emotiveWords[strings.Trim(w, ",.!?«»\"'")] {
			emotive++
		}
	}

	n := float64(len(runes))
	switch {
	case float64(exclam)/n > 0.01 || (len(words) > 0 && float64(emotive)/float64(len(words)) > 0.02):
		return ClassEmotional
	case float64(digits+symbols)/n > 0.05:
		return ClassTechnical
	default:
		return ClassGeneral
	}
}

// lengthBucket and sentenceBucket coarsen the pattern key so similar
// texts share an entry.
func lengthBucket(n int) string {
	switch {
	case n < 100:
		return "xs"
	case n < 400:
		return "s"
	case n < 1000:
		return "m"
	case n < 3000:
		return "l"
	default:
		return "xl"
	}
}

func sentenceBucket(n int) string {
	switch {
	case n < 4:
		return "few"
	case n < 12:
		return "some"
	default:
		return "many"
	}
}

// countSentences counts terminator-delimited segments.
func countSentences(text string) int {
	count := 0
	inRun := false
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if !inRun {
				count++
			}
			inRun = true
		} else {
			inRun = false
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return count
}

// PatternKey builds the feature-based key used by the pattern layer.
func PatternKey(text, src, tgt string) string {
	normalized := normalizeText(text)
	return fmt.Sprintf("pat:%s:%s:%s:%s:%s:%s",
		keyVersion, src, tgt,
		lengthBucket(len([]rune(normalized))),
		sentenceBucket(countSentences(normalized)),
		classify(normalized))
}

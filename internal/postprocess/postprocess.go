// Package postprocess removes common LLM artifacts from translation output.
//
// It is applied to the raw text returned by the LLM-backed backends (Ollama,
// OpenRouter) before the result enters assembly or quality assessment.
package postprocess

import (
	"regexp"
	"strings"
)

// cleaner is one artifact-removal pass over the text.
type cleaner func(string) string

var cleaners = []cleaner{
	stripThinkingBlocks,
	stripInstructionEchoes,
	stripQuoteWrapping,
}

// Clean strips reasoning blocks, prompt echoes and quote wrapping from
// text and returns the trimmed result.
func Clean(text string) string {
	for _, c := range cleaners {
		text = c(text)
	}
	return strings.TrimSpace(text)
}

// Each thinking tag variant is listed explicitly because Go's RE2 engine
// does not support backreferences.
var (
	thinkingBlockRe = regexp.MustCompile(
		`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`)
	// An opened tag with no closing tag means the model was cut off
	// mid-thought; everything from the tag on is dropped.
	truncatedThinkingRe = regexp.MustCompile(
		`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`)
)

func stripThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoPatterns match introductory phrases models prepend even when told
// not to. Anchored to the start and requiring a colon to avoid eating
// legitimate content.
var echoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:refined |polished |translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:refined |polished )?(?:translation|translated text)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:refined |polished |translated )?(?:translation|text)\s*:`),
}

func stripInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'«', '»'},
	{'“', '”'},
	{'‘', '’'},
}

// stripQuoteWrapping removes a matching pair of outer quotes when the
// entire text is wrapped in them.
func stripQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	for _, p := range quotePairs {
		if runes[0] == p[0] && runes[n-1] == p[1] {
			return strings.TrimSpace(string(runes[1 : n-1]))
		}
	}
	return text
}

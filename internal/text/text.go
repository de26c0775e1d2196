// Package text provides word normalisation, model output cleanup, and speech
// input preparation for lesson content.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Regex patterns for text normalisation.
const (
	wordPunctuationPattern = `[.,!?;:]`
	codeFencePattern       = "```(?:json|JSON)?\\s*"
	whitespaceRegexPattern = `\s+`
)

// Punctuation and formatting constants.
const (
	byteOrderMark  = "\uFEFF"
	emDash         = "—"
	enDash         = "–"
	figureDash     = "‒"
	ellipsis       = "..."
	ellipsisChar   = "…"
	nonBreakSpace  = "\u00A0"
	carriageReturn = "\r\n"
	lineFeed       = "\n"
)

// Normalizer holds the compiled patterns used across the package.
type Normalizer struct {
	wordPunctuation *regexp.Regexp
	codeFence       *regexp.Regexp
	whitespace      *regexp.Regexp
	speechReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		wordPunctuation: regexp.MustCompile(wordPunctuationPattern),
		codeFence:       regexp.MustCompile(codeFencePattern),
		whitespace:      regexp.MustCompile(whitespaceRegexPattern),
		speechReplacer: strings.NewReplacer(
			carriageReturn, lineFeed,
			ellipsisChar, ellipsis,
			" "+emDash+" ", ", ",
			emDash, ", ",
			enDash, "-",
			figureDash, "-",
			nonBreakSpace, " ",
			byteOrderMark, "",
		),
	}
}

// CleanWord strips sentence punctuation from a clicked word and trims it.
// Case and Finnish letters are kept.
func (n *Normalizer) CleanWord(word string) string {
	return strings.TrimSpace(n.wordPunctuation.ReplaceAllString(word, ""))
}

// CleanModelResponse removes markdown code fences and a leading byte order
// mark from a model's reply and trims surrounding whitespace.
func (n *Normalizer) CleanModelResponse(response string) string {
	cleaned := strings.ReplaceAll(response, byteOrderMark, "")
	cleaned = n.codeFence.ReplaceAllString(cleaned, "")

	return strings.TrimSpace(cleaned)
}

// ExtractJSONObject returns the outermost {...} span of a cleaned reply, or
// the reply unchanged when it holds no braces.
func (n *Normalizer) ExtractJSONObject(response string) string {
	cleaned := n.CleanModelResponse(response)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")

	if start < 0 || end < start {
		return cleaned
	}

	return cleaned[start : end+1]
}

// PrepareForSpeech normalises dashes, ellipses, and whitespace so the same
// sentence always reaches the synthesizer, and the audio cache, in one form.
func (n *Normalizer) PrepareForSpeech(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	prepared := n.speechReplacer.Replace(text)
	prepared = n.whitespace.ReplaceAllString(prepared, " ")

	return strings.TrimSpace(prepared)
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

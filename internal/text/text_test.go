package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/suomi-tutor/internal/text"
)

func TestNormalizer_CleanWord(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	testCases := map[string]string{
		"Hei!":        "Hei",
		"  talo, ":    "talo",
		"päivää.":     "päivää",
		"Mitä?":       "Mitä",
		"kissa;:":     "kissa",
		"Äiti":        "Äiti",
		"":            "",
		"...":         "",
		"hyvä-paha":   "hyvä-paha",
		"\tkoira!\n ": "koira",
	}

	for input, expected := range testCases {
		assert.Equal(t, expected, normalizer.CleanWord(input), "input %q", input)
	}
}

func TestNormalizer_CleanModelResponse(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "json fence", input: "```json\n{\"word\":\"talo\"}\n```", expected: `{"word":"talo"}`},
		{name: "bare fence", input: "```\n{\"a\":1}```", expected: `{"a":1}`},
		{name: "bom", input: "\uFEFF  {\"a\":1}  ", expected: `{"a":1}`},
		{name: "plain", input: `{"a":1}`, expected: `{"a":1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, normalizer.CleanModelResponse(tc.input))
		})
	}
}

func TestNormalizer_ExtractJSONObject(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Equal(t, `{"a":{"b":2}}`, normalizer.ExtractJSONObject("Here you go:\n```json\n{\"a\":{\"b\":2}}\n```\nEnjoy"))
	assert.Equal(t, "no json here", normalizer.ExtractJSONObject("no json here"))
}

func TestNormalizer_PrepareForSpeech(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	assert.Equal(t, "Hyvää päivää, mitä kuuluu...", normalizer.PrepareForSpeech("  Hyvää\u00A0päivää — mitä\r\nkuuluu…  "))
	assert.Equal(t, "Hei", normalizer.PrepareForSpeech("Hei"))
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, text.WordCount("   "))
	assert.Equal(t, 1, text.WordCount("Hei"))
	assert.Equal(t, 7, text.WordCount("Minä olen opiskelija ja asun nyt Helsingissä."))
}

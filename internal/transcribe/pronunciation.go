package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// ErrEmptyTarget indicates a pronunciation check without a target phrase.
var ErrEmptyTarget = errors.New("target phrase cannot be empty")

// Result is the outcome of a pronunciation check.
type Result struct {
	Transcript string `json:"transcript"`
	Target     string `json:"target"`
	Match      bool   `json:"match"`
}

// CheckPronunciation reports whether the spoken text matches target: either
// lower-cased string containing the other counts as a match.
func CheckPronunciation(spoken, target string) bool {
	spokenLower := strings.ToLower(strings.TrimSpace(spoken))
	targetLower := strings.ToLower(strings.TrimSpace(target))

	if spokenLower == "" || targetLower == "" {
		return false
	}

	return strings.Contains(spokenLower, targetLower) || strings.Contains(targetLower, spokenLower)
}

// Checker transcribes a recording and compares it with a target phrase.
type Checker struct {
	transcriber core.Transcriber
	language    string
}

// NewChecker uses transcriber for language, or Finnish when empty.
func NewChecker(transcriber core.Transcriber, language string) *Checker {
	if language == "" {
		language = DefaultLanguage
	}

	return &Checker{transcriber: transcriber, language: language}
}

// Check transcribes audio and compares the transcript with target.
func (c *Checker) Check(ctx context.Context, audio []byte, filename, target string) (*Result, error) {
	if strings.TrimSpace(target) == "" {
		return nil, ErrEmptyTarget
	}

	transcript, err := c.transcriber.Transcribe(ctx, audio, filename, c.language)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe recording: %w", err)
	}

	return &Result{
		Transcript: transcript,
		Target:     target,
		Match:      CheckPronunciation(transcript, target),
	}, nil
}

package speech

import (
	"fmt"
	"strings"

	"github.com/book-expert/suomi-tutor/internal/text"
)

// DefaultEnhancedWordThreshold is the word count above which text is spoken
// with the enhanced voice.
const DefaultEnhancedWordThreshold = 6

// Mode selects the voice for one request.
type Mode string

// Voice modes.
const (
	ModeAuto     Mode = "auto"
	ModeEnhanced Mode = "enhanced"
	ModeStandard Mode = "standard"
)

// ParseMode accepts "", "auto", "enhanced" and "standard" in any case.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeEnhanced:
		return ModeEnhanced, nil
	case ModeStandard:
		return ModeStandard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// VoicePolicy decides between the enhanced (synthesized) and the standard
// (local) voice.
type VoicePolicy struct {
	EnhancedWordThreshold int
}

// UseEnhanced reports whether content should be spoken with the enhanced
// voice. An explicit mode wins over the word count.
func (p VoicePolicy) UseEnhanced(content string, mode Mode) bool {
	switch mode {
	case ModeEnhanced:
		return true
	case ModeStandard:
		return false
	case ModeAuto:
	}

	threshold := p.EnhancedWordThreshold
	if threshold <= 0 {
		threshold = DefaultEnhancedWordThreshold
	}

	return text.WordCount(content) > threshold
}

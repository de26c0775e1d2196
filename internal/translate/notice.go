package translate

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// Notice messages shown to the learner.
const (
	MessageRateLimited       = "Free tier limit reached. Please wait or try again later."
	MessageDailyLimit        = "Daily free tier limit reached. Try again tomorrow."
	MessageOffline           = "Translation unavailable. Using offline mode."
	MessageAnalysisLimit     = "Free tier limit reached"
	MessageAnalysisOffline   = "Analysis unavailable"
	fallbackTranslationFmt   = "Translation for \"%s\" not available"
	rateLimitedRetryAfter    = time.Hour
	dailyLimitRetryAfter     = 24 * time.Hour
	analysisUnavailableNotes = "Analysis temporarily unavailable"
)

// Notice explains why a lookup was degraded. On the wire retryAfter is in
// milliseconds.
type Notice struct {
	Message    string
	RetryAfter time.Duration
}

type noticeJSON struct {
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retryAfter,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (n Notice) MarshalJSON() ([]byte, error) {
	return json.Marshal(noticeJSON{Message: n.Message, RetryAfterMs: n.RetryAfter.Milliseconds()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Notice) UnmarshalJSON(data []byte) error {
	var wire noticeJSON

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}

	n.Message = wire.Message
	n.RetryAfter = time.Duration(wire.RetryAfterMs) * time.Millisecond

	return nil
}

// classifyTranslation maps a failed translation to the learner-facing notice.
func classifyTranslation(err error) *Notice {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return &Notice{Message: MessageRateLimited, RetryAfter: rateLimitedRetryAfter}
	case errors.Is(err, core.ErrDailyQuotaExceeded):
		return &Notice{Message: MessageDailyLimit, RetryAfter: dailyLimitRetryAfter}
	default:
		return &Notice{Message: MessageOffline, RetryAfter: 0}
	}
}

// classifyAnalysis maps a failed analysis to the learner-facing notice.
func classifyAnalysis(err error) *Notice {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return &Notice{Message: MessageAnalysisLimit, RetryAfter: rateLimitedRetryAfter}
	case errors.Is(err, core.ErrDailyQuotaExceeded):
		return &Notice{Message: MessageAnalysisLimit, RetryAfter: dailyLimitRetryAfter}
	default:
		return &Notice{Message: MessageAnalysisOffline, RetryAfter: 0}
	}
}

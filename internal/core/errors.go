package core

import "errors"

var (
	// ErrNotFound indicates that a key or object does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrStorage indicates a persistence-layer failure. Callers treat it as absent.
	ErrStorage = errors.New("storage failure")
	// ErrDailyQuotaExceeded indicates the daily request ceiling has been reached.
	ErrDailyQuotaExceeded = errors.New("daily API limit reached")
	// ErrRateLimited indicates the upstream provider rejected the call for quota reasons.
	ErrRateLimited = errors.New("upstream rate limit reached")
	// ErrMalformedResponse indicates the provider answered with content that could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrSynthesis indicates that speech synthesis failed.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrPlayback indicates that audio playback failed.
	ErrPlayback = errors.New("audio playback failed")
)

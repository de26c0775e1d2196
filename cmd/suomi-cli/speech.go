package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/speech"
)

const (
	speechPath        = "/v1/speech"
	audioSourceHeader = "X-Audio-Source"
)

// remoteSynthesizer asks the service for the enhanced voice. The service
// owns the request queue and the audio cache.
type remoteSynthesizer struct {
	client *apiClient
}

// Synthesize implements core.Synthesizer.
func (r *remoteSynthesizer) Synthesize(ctx context.Context, content, voice string) ([]byte, error) {
	resp, err := r.requestSpeech(ctx, content, voice, speech.ModeEnhanced)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", core.ErrSynthesis, resp.failure())
	}

	return resp.body, nil
}

func (r *remoteSynthesizer) requestSpeech(ctx context.Context, content, voice string, mode speech.Mode) (*apiResponse, error) {
	return r.client.do(ctx, http.MethodPost, speechPath, map[string]string{
		"text":  content,
		"voice": voice,
		"mode":  string(mode),
	})
}

package genai

import (
	"fmt"
	"strings"

	"github.com/book-expert/suomi-tutor/internal/core"
)

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	MaxOutputTokens    int           `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (r *generateResponse) firstCandidate() (*candidate, error) {
	if len(r.Candidates) == 0 {
		return nil, fmt.Errorf(errFmtNoCandidate, core.ErrMalformedResponse)
	}

	return &r.Candidates[0], nil
}

// text joins every text part of the first candidate.
func (r *generateResponse) text() (string, error) {
	first, err := r.firstCandidate()
	if err != nil {
		return "", err
	}

	var builder strings.Builder

	for _, p := range first.Content.Parts {
		builder.WriteString(p.Text)
	}

	if builder.Len() == 0 {
		return "", fmt.Errorf(errFmtNoText, core.ErrMalformedResponse)
	}

	return builder.String(), nil
}

// inlineAudio returns the first inline data part of the first candidate.
func (r *generateResponse) inlineAudio() (*inlineData, error) {
	first, err := r.firstCandidate()
	if err != nil {
		return nil, err
	}

	for _, p := range first.Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData, nil
		}
	}

	return nil, fmt.Errorf(errFmtNoAudio, core.ErrMalformedResponse)
}

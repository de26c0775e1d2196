// Package genai provides a client for the Gemini generateContent REST API,
// covering text generation and prebuilt-voice speech synthesis.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/suomi-tutor/internal/audio"
	"github.com/book-expert/suomi-tutor/internal/core"
)

// API paths and headers.
const (
	apiGenerateContent = "/v1beta/models/%s:generateContent"
	headerAPIKey       = "x-goog-api-key"
	headerContentType  = "Content-Type"
	contentTypeJSON    = "application/json"
	statusExhausted    = "RESOURCE_EXHAUSTED"
	modalityAudio      = "AUDIO"
)

// Default values.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultTextModel   = "gemini-1.5-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Kore"
	defaultTimeout     = 60 * time.Second
	maxErrorBodyBytes  = 4096
)

// Error messages.
const (
	errFmtServiceError     = "genai service error (%s): %s (status: %s)"
	errFmtServiceNonOK     = "genai service returned non-OK status: %s, body: %s"
	errFmtNoCandidate      = "%w: response has no candidates"
	errFmtNoText           = "%w: response has no text parts"
	errFmtNoAudio          = "%w: response has no inline audio"
	errFmtBadAudioEncoding = "%w: inline audio is not valid base64: %w"
)

var (
	// ErrAPIKeyEmpty indicates that no API key was configured.
	ErrAPIKeyEmpty = errors.New("genai api key cannot be empty")
	// ErrPromptEmpty indicates an empty prompt or speech text.
	ErrPromptEmpty = errors.New("prompt cannot be empty")
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	SpeechModel string
	Timeout     time.Duration
}

// Client talks to the generateContent endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	textModel   string
	speechModel string
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}

	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		textModel:   cfg.TextModel,
		speechModel: cfg.SpeechModel,
	}, nil
}

// GenerateText sends a single-turn prompt and returns the concatenated text parts.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts core.GenerationOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptEmpty
	}

	config := &generationConfig{
		Temperature:        nil,
		MaxOutputTokens:    0,
		ResponseModalities: nil,
		SpeechConfig:       nil,
	}

	if opts.Temperature > 0 {
		temperature := opts.Temperature
		config.Temperature = &temperature
	}

	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = opts.MaxOutputTokens
	}

	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt, InlineData: nil}}}},
		GenerationConfig: config,
	}

	resp, err := c.generate(ctx, c.textModel, req)
	if err != nil {
		return "", err
	}

	return resp.text()
}

// Synthesize speaks text with a prebuilt voice and returns WAV audio. Raw PCM
// answers are framed as WAV using the rate carried by their mime type.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrPromptEmpty
	}

	if voice == "" {
		voice = DefaultVoice
	}

	req := generateRequest{
		Contents: []content{{Role: "", Parts: []part{{Text: text, InlineData: nil}}}},
		GenerationConfig: &generationConfig{
			Temperature:        nil,
			MaxOutputTokens:    0,
			ResponseModalities: []string{modalityAudio},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}

	resp, err := c.generate(ctx, c.speechModel, req)
	if err != nil {
		return nil, err
	}

	inline, err := resp.inlineAudio()
	if err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf(errFmtBadAudioEncoding, core.ErrMalformedResponse, err)
	}

	if audio.IsWAV(payload) {
		return payload, nil
	}

	format, err := audio.FormatFromMime(inline.MimeType)
	if err != nil {
		format = audio.NewDefaultFormat()
	}

	wav, err := audio.WrapPCM(payload, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedResponse, err)
	}

	return wav, nil
}

func (c *Client) generate(ctx context.Context, model string, req generateRequest) (*generateResponse, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + fmt.Sprintf(apiGenerateContent, model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to genai service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var decoded generateResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", core.ErrMalformedResponse, decodeErr)
	}

	return &decoded, nil
}

// parseErrorResponse decodes the provider's error envelope, falling back to
// the raw body. Quota failures wrap core.ErrRateLimited.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var envelope errorEnvelope

	var err error

	unmarshalErr := json.Unmarshal(body, &envelope)
	if unmarshalErr == nil && envelope.Error.Message != "" {
		err = fmt.Errorf(errFmtServiceError, resp.Status, envelope.Error.Message, envelope.Error.Status)
	} else {
		err = fmt.Errorf(errFmtServiceNonOK, resp.Status, string(body))
	}

	if resp.StatusCode == http.StatusTooManyRequests || envelope.Error.Status == statusExhausted ||
		strings.Contains(strings.ToLower(envelope.Error.Message), "quota") {
		return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
	}

	return err
}

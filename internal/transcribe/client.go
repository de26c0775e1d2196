// Package transcribe provides Whisper-compatible speech transcription and
// pronunciation checking for spoken exercises.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// Error messages.
const (
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyAudioData   = "failed to copy audio data: %w"
	errFailedToWriteModelField = "failed to write model field: %w"
	errFailedToWriteLangField  = "failed to write language field: %w"
	errFailedToCloseWriter     = "failed to close multipart writer: %w"
	errFailedToCreateRequest   = "failed to create request: %w"
	errFailedToCloseRespBody   = "Failed to close transcription response body: %v"
	errFailedToMakeRequest     = "failed to make request: %w"
	errAPIRequestFailed        = "transcription request failed with status %d: %s"
	errFailedToDecodeResponse  = "failed to decode response: %w"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
)

// Form field names.
const (
	formFieldFile     = "file"
	formFieldModel    = "model"
	formFieldLanguage = "language"
)

// Default values.
const (
	DefaultBaseURL   = "https://api.openai.com/v1/audio/transcriptions"
	DefaultModel     = "whisper-1"
	DefaultLanguage  = "fi"
	defaultTimeout   = 60 * time.Second
	defaultFilename  = "speech.webm"
	maxErrorBodySize = 4096
)

var (
	// ErrAPIKeyEmpty indicates that no API key was configured.
	ErrAPIKeyEmpty = errors.New("transcription api key cannot be empty")
	// ErrEmptyAudio indicates that no audio was recorded.
	ErrEmptyAudio = errors.New("audio cannot be empty")
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls a Whisper-compatible transcription endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	log        *logger.Logger
}

// Response represents the response from the transcription API.
type Response struct {
	Text string `json:"text"`
}

// NewClient creates a transcription client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}, nil
}

// Transcribe uploads recorded audio and returns the recognised text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	if filename == "" {
		filename = defaultFilename
	}

	if language == "" {
		language = DefaultLanguage
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = io.Copy(part, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf(errFailedToCopyAudioData, err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return "", fmt.Errorf(errFailedToWriteModelField, err)
	}

	err = writer.WriteField(formFieldLanguage, language)
	if err != nil {
		return "", fmt.Errorf(errFailedToWriteLangField, err)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return "", fmt.Errorf(errFailedToCreateRequest, err)
	}

	req.Header.Set(headerAuthorization, "Bearer "+c.apiKey)
	req.Header.Set(headerContentType, writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf(errFailedToMakeRequest, err)
	}

	defer func() {
		bodyCloseErr := resp.Body.Close()
		if bodyCloseErr != nil {
			c.log.Warn(errFailedToCloseRespBody, bodyCloseErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

		return "", fmt.Errorf(errAPIRequestFailed, resp.StatusCode, string(body))
	}

	var transcription Response

	decodeErr := json.NewDecoder(resp.Body).Decode(&transcription)
	if decodeErr != nil {
		return "", fmt.Errorf(errFailedToDecodeResponse, decodeErr)
	}

	return strings.TrimSpace(transcription.Text), nil
}

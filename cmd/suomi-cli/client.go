package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

const (
	clientTimeout    = 2 * time.Minute
	maxResponseBytes = 64 << 20
)

// Error messages.
const (
	errFailedToEncodeBody   = "failed to encode request body: %w"
	errFailedToCreateReq    = "failed to create request: %w"
	errFailedToMakeRequest  = "failed to reach %s: %w"
	errFailedToReadResponse = "failed to read response: %w"
	errFailedToDecodeBody   = "failed to decode response: %w"
	errFailedToCloseBody    = "Failed to close response body: %v"
)

// ErrAPI indicates the server answered with an error status.
var ErrAPI = errors.New("server error")

type apiError struct {
	Error    string `json:"error"`
	Fallback string `json:"fallback"`
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func (r *apiResponse) decode(target any) error {
	err := json.Unmarshal(r.body, target)
	if err != nil {
		return fmt.Errorf(errFailedToDecodeBody, err)
	}

	return nil
}

// failure turns an error status into an ErrAPI carrying the server's message.
func (r *apiResponse) failure() error {
	var body apiError

	if json.Unmarshal(r.body, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(r.body))
	}

	return fmt.Errorf("%w (%d): %s", ErrAPI, r.status, body.Error)
}

// apiClient talks to the suomi-service HTTP API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func newAPIClient(baseURL string, log *logger.Logger) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
		log:        log,
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any) (*apiResponse, error) {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf(errFailedToEncodeBody, err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateReq, err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, c.baseURL, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseBody, closeErr)
		}
	}()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return nil, fmt.Errorf(errFailedToReadResponse, readErr)
	}

	c.log.Info("%s %s -> %d", method, path, resp.StatusCode)

	return &apiResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// call performs a request and decodes a successful JSON reply into target.
func (c *apiClient) call(ctx context.Context, method, path string, payload, target any) error {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if resp.status >= http.StatusBadRequest {
		return resp.failure()
	}

	if target == nil || resp.status == http.StatusNoContent {
		return nil
	}

	return resp.decode(target)
}

func pathSegment(raw string) string {
	return url.PathEscape(strings.TrimSpace(raw))
}

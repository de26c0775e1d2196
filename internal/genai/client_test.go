package genai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/suomi-tutor/internal/audio"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/genai"
)

const testAPIKey = "test-key"

// capturedRequest is the subset of the request body the tests inspect.
type capturedRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature        float64  `json:"temperature"`
		MaxOutputTokens    int      `json:"maxOutputTokens"`
		ResponseModalities []string `json:"responseModalities"`
		SpeechConfig       struct {
			VoiceConfig struct {
				PrebuiltVoiceConfig struct {
					VoiceName string `json:"voiceName"`
				} `json:"prebuiltVoiceConfig"`
			} `json:"voiceConfig"`
		} `json:"speechConfig"`
	} `json:"generationConfig"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *genai.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := genai.NewClient(genai.Config{
		BaseURL:     server.URL,
		APIKey:      testAPIKey,
		TextModel:   "text-model",
		SpeechModel: "speech-model",
		Timeout:     0,
	})
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := genai.NewClient(genai.Config{})
	require.ErrorIs(t, err, genai.ErrAPIKeyEmpty)
}

func TestClient_GenerateText(t *testing.T) {
	t.Parallel()

	var captured capturedRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/text-model:generateContent", r.URL.Path)
		assert.Equal(t, testAPIKey, r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": `{"word":"talo",`}, {"text": `"translation":"дом"}`}},
				},
			}},
		})
	})

	result, err := client.GenerateText(context.Background(), "Translate talo", core.GenerationOptions{
		MaxOutputTokens: 120,
		Temperature:     0.1,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"word":"talo","translation":"дом"}`, result)

	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "Translate talo", captured.Contents[0].Parts[0].Text)
	assert.Equal(t, 120, captured.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.1, captured.GenerationConfig.Temperature, 1e-9)
}

func TestClient_GenerateTextErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		status   int
		body     any
		expected error
	}{
		{
			name:   "quota status",
			status: http.StatusTooManyRequests,
			body: map[string]any{"error": map[string]any{
				"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED",
			}},
			expected: core.ErrRateLimited,
		},
		{
			name:   "quota message",
			status: http.StatusForbidden,
			body: map[string]any{"error": map[string]any{
				"code": 403, "message": "You exceeded your current quota", "status": "PERMISSION_DENIED",
			}},
			expected: core.ErrRateLimited,
		},
		{
			name:     "no candidates",
			status:   http.StatusOK,
			body:     map[string]any{"candidates": []any{}},
			expected: core.ErrMalformedResponse,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(t, w, tc.status, tc.body)
			})

			_, err := client.GenerateText(context.Background(), "prompt", core.GenerationOptions{})
			require.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestClient_GenerateTextServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.GenerateText(context.Background(), "prompt", core.GenerationOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrRateLimited)
	assert.Contains(t, err.Error(), "boom")

	_, err = client.GenerateText(context.Background(), "  ", core.GenerationOptions{})
	require.ErrorIs(t, err, genai.ErrPromptEmpty)
}

func TestClient_SynthesizeWrapsPCM(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}

	var captured capturedRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/speech-model:generateContent", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "audio/L16;codec=pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
			}},
		})
	})

	wav, err := client.Synthesize(context.Background(), "Hyvää huomenta", "")
	require.NoError(t, err)

	assert.True(t, audio.IsWAV(wav))
	assert.Equal(t, pcm, wav[audio.WAV_HEADER_SIZE:])
	assert.Equal(t, []string{"AUDIO"}, captured.GenerationConfig.ResponseModalities)
	assert.Equal(t, genai.DefaultVoice, captured.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.Equal(t, "Hyvää huomenta", captured.Contents[0].Parts[0].Text)
}

func TestClient_SynthesizeWithoutAudio(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": "I cannot speak"}}},
			}},
		})
	})

	_, err := client.Synthesize(context.Background(), "Hei", "Puck")
	require.ErrorIs(t, err, core.ErrMalformedResponse)
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/httpapi"
	"github.com/book-expert/suomi-tutor/internal/kvstore"
	"github.com/book-expert/suomi-tutor/internal/learner"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
	"github.com/book-expert/suomi-tutor/internal/translate"
)

type stubTranslator struct{}

func (stubTranslator) Translate(_ context.Context, word string) (*translate.Lookup, error) {
	if word == "offline" {
		return &translate.Lookup{
			Word:        word,
			Translation: nil,
			Source:      translate.SourceOffline,
			Notice:      &translate.Notice{Message: translate.MessageOffline, RetryAfter: 0},
			Fallback:    "offline (translation unavailable)",
		}, nil
	}

	return &translate.Lookup{
		Word: word,
		Translation: &translate.Translation{
			Word:         word,
			Translation:  "дом",
			PartOfSpeech: "noun",
			Difficulty:   "A1",
			Examples:     []string{"Talo on iso."},
			Etymology:    "",
			CachedAt:     time.Time{},
		},
		Source:   translate.SourceCache,
		Notice:   nil,
		Fallback: "",
	}, nil
}

func (stubTranslator) Analyze(_ context.Context, word, base string) (*translate.AnalysisLookup, error) {
	elative := "elative"

	return &translate.AnalysisLookup{
		Word: word,
		Base: base,
		Analysis: &translate.Analysis{
			PartOfSpeech:   "noun",
			Case:           &elative,
			Difficulty:     "A2",
			UsageNotes:     "out of the house",
			Etymology:      nil,
			FormationRules: nil,
			Examples:       []translate.Example{{Finnish: "Tulen talosta.", English: "I come from the house."}},
			CachedAt:       time.Time{},
		},
		Source: translate.SourceAPI,
		Notice: nil,
	}, nil
}

type stubSpeech struct {
	err error
}

func (s stubSpeech) Synthesize(context.Context, string, string) ([]byte, speech.Source, error) {
	if s.err != nil {
		return nil, "", s.err
	}

	return bytes.Repeat([]byte{1}, 2048), speech.SourceAPI, nil
}

func (stubSpeech) UseEnhanced(content string, mode speech.Mode) bool {
	return speech.VoicePolicy{EnhancedWordThreshold: 0}.UseEnhanced(content, mode)
}

type stubUsage struct{}

func (stubUsage) Usage() queue.Usage {
	return queue.Usage{DailyUsed: 5, DailyLimit: 50, Remaining: 45, Pending: 0, ResetAt: time.Now().Add(3 * time.Hour)}
}

type stubCache struct{}

func (stubCache) Stats(context.Context) (audiocache.Stats, error) {
	return audiocache.Stats{Count: 1200, TotalBytes: 5_000_000, StoredBytes: 2_000_000}, nil
}

func (stubCache) Clear(context.Context) error { return nil }

func newTestServer(t *testing.T, speechErr error) string {
	t.Helper()

	log, err := logger.New(t.TempDir(), "suomi-cli-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	kv := kvstore.NewMemory()
	api := httpapi.New(httpapi.Services{
		Translator:    stubTranslator{},
		Speech:        stubSpeech{err: speechErr},
		Usage:         stubUsage{},
		Cache:         stubCache{},
		Favorites:     learner.NewFavorites(kv, nil, log),
		Progress:      learner.NewTracker(kv, nil, log),
		Pronunciation: nil,
	}, httpapi.Options{}, log)

	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return server.URL
}

func runCLI(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--" + flagServer, serverURL, "--" + flagLogDir, t.TempDir()}, args...))

	err := cmd.Execute()

	return out.String(), err
}

func TestTranslateAndAnalyze(t *testing.T) {
	t.Parallel()

	serverURL := newTestServer(t, nil)

	out, err := runCLI(t, serverURL, "translate", "talo")
	require.NoError(t, err)
	assert.Contains(t, out, "talo: дом (noun, A1) [cache]")
	assert.Contains(t, out, "Talo on iso.")

	out, err = runCLI(t, serverURL, "translate", "offline")
	require.NoError(t, err)
	assert.Contains(t, out, "offline (translation unavailable)")
	assert.Contains(t, out, translate.MessageOffline)

	out, err = runCLI(t, serverURL, "analyze", "talosta", "--base", "from the house")
	require.NoError(t, err)
	assert.Contains(t, out, "case: elative")
	assert.Contains(t, out, "Tulen talosta.")
}

func TestSpeak_SaveToFile(t *testing.T) {
	t.Parallel()

	serverURL := newTestServer(t, nil)
	output := filepath.Join(t.TempDir(), "hei.wav")

	out, err := runCLI(t, serverURL, "speak", "--mode", "enhanced", "-o", output, "Hei")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved 2.0 kB of audio from api")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Len(t, data, 2048)

	out, err = runCLI(t, serverURL, "speak", "-o", output, "Hei")
	require.NoError(t, err)
	assert.Contains(t, out, "Use the local voice")

	_, err = runCLI(t, serverURL, "speak", "--mode", "robot", "Hei")
	require.ErrorIs(t, err, speech.ErrUnknownMode)
}

func TestSpeak_Aloud(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		speechErr error
		args      []string
		want      []string
	}{
		{
			name:      "enhanced voice played",
			speechErr: nil,
			args:      []string{"--mode", "enhanced"},
			want:      []string{"Spoke with the api voice."},
		},
		{
			name:      "short text uses local voice",
			speechErr: nil,
			args:      []string{},
			want:      []string{"Spoke with the local voice."},
		},
		{
			name:      "server failure falls back",
			speechErr: core.ErrDailyQuotaExceeded,
			args:      []string{"--mode", "enhanced"},
			want:      []string{"Enhanced voice unavailable", "Spoke with the local voice."},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			serverURL := newTestServer(t, tc.speechErr)

			args := append([]string{"speak", "--player", "cat", "--player-args=-", "--local-binary", "true"}, tc.args...)
			out, err := runCLI(t, serverURL, append(args, "Hei")...)
			require.NoError(t, err)

			for _, want := range tc.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestSpeak_PlaybackFailureFallsBack(t *testing.T) {
	t.Parallel()

	serverURL := newTestServer(t, nil)

	out, err := runCLI(t, serverURL, "speak", "--mode", "enhanced", "--player", "false", "--local-binary", "true", "Hei")
	require.NoError(t, err)
	assert.Contains(t, out, "Enhanced voice unavailable")
	assert.Contains(t, out, "Spoke with the local voice.")
}

func TestUsageAndCache(t *testing.T) {
	t.Parallel()

	serverURL := newTestServer(t, nil)

	out, err := runCLI(t, serverURL, "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "5 of 50 requests used today, 45 remaining")

	out, err = runCLI(t, serverURL, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "1,200 entries, 5.0 MB of audio (2.0 MB stored)")

	out, err = runCLI(t, serverURL, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Audio cache cleared.")
}

func TestFavoritesAndProgress(t *testing.T) {
	t.Parallel()

	serverURL := newTestServer(t, nil)

	out, err := runCLI(t, serverURL, "favorites")
	require.NoError(t, err)
	assert.Contains(t, out, "No favorite words yet.")

	_, err = runCLI(t, serverURL, "favorites", "add", "talo", "house", "--chapter", "1")
	require.NoError(t, err)

	out, err = runCLI(t, serverURL, "fav")
	require.NoError(t, err)
	assert.Contains(t, out, "talo: house (added")

	_, err = runCLI(t, serverURL, "favorites", "remove", "talo")
	require.NoError(t, err)

	_, err = runCLI(t, serverURL, "favorites", "add", "", "house")
	require.ErrorIs(t, err, ErrAPI)

	out, err = runCLI(t, serverURL, "progress", "record", "chapter-1", "lesson-1", "theory")
	require.NoError(t, err)
	assert.Contains(t, out, "chapter-1/lesson-1: in_progress")

	_, err = runCLI(t, serverURL, "progress", "record", "chapter-1", "lesson-1", "reading")
	require.NoError(t, err)

	out, err = runCLI(t, serverURL, "progress")
	require.NoError(t, err)
	assert.Contains(t, out, "100% complete: 1 completed, 0 in progress of 1 lessons")

	_, err = runCLI(t, serverURL, "progress", "record", "chapter-1", "lesson-1", "quiz")
	require.ErrorIs(t, err, ErrAPI)
}

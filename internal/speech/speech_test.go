package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/objectstore"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
)

var (
	errProviderDown = errors.New("provider down")
	errNoSpeaker    = errors.New("no speaker device")
)

type fakeSynthesizer struct {
	mu     sync.Mutex
	calls  int
	voices []string
	err    error
	block  bool
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.voices = append(f.voices, voice)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if err != nil {
		return nil, err
	}

	return []byte("RIFF" + text + voice), nil
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (p *fakePlayer) Play(_ context.Context, audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.played = append(p.played, audio)

	return nil
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	opts   []core.SpeakOptions
}

func (s *fakeSpeaker) Speak(_ context.Context, text string, opts core.SpeakOptions, events core.SpeakEvents) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()

	if events.OnStart != nil {
		events.OnStart()
	}

	if events.OnEnd != nil {
		events.OnEnd()
	}

	return nil
}

type fixture struct {
	service     *speech.Service
	synthesizer *fakeSynthesizer
	player      *fakePlayer
	speaker     *fakeSpeaker
	cache       *audiocache.Cache
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	log := newTestLogger(t)

	requestQueue, err := queue.New(context.Background(), nil, queue.Options{
		MaxPerMinute: 10,
		MaxPerDay:    50,
		Cooldown:     -1,
		SafetyMargin: 0,
		Clock:        nil,
		Meter:        nil,
	}, log)
	require.NoError(t, err)
	t.Cleanup(requestQueue.Close)

	cache, err := audiocache.New(objectstore.NewMemory(), audiocache.Options{}, log)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	synthesizer := &fakeSynthesizer{}
	player := &fakePlayer{}
	speaker := &fakeSpeaker{}

	service := speech.New(synthesizer, cache, requestQueue, speaker, player, speech.Options{
		DefaultVoice:     "",
		SynthesisTimeout: timeout,
		Policy:           speech.VoicePolicy{EnhancedWordThreshold: 0},
	}, log)

	return &fixture{
		service:     service,
		synthesizer: synthesizer,
		player:      player,
		speaker:     speaker,
		cache:       cache,
	}
}

const longSentence = "Minä olen opiskelija ja asun nyt Helsingissä."

func TestVoicePolicy(t *testing.T) {
	t.Parallel()

	policy := speech.VoicePolicy{EnhancedWordThreshold: 0}

	assert.False(t, policy.UseEnhanced("Hei", speech.ModeAuto))
	assert.False(t, policy.UseEnhanced("yksi kaksi kolme neljä viisi kuusi", speech.ModeAuto))
	assert.True(t, policy.UseEnhanced(longSentence, speech.ModeAuto))
	assert.True(t, policy.UseEnhanced("Hei", speech.ModeEnhanced))
	assert.False(t, policy.UseEnhanced(longSentence, speech.ModeStandard))

	strict := speech.VoicePolicy{EnhancedWordThreshold: 1}
	assert.True(t, strict.UseEnhanced("Hyvää päivää", speech.ModeAuto))
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := speech.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, speech.ModeAuto, mode)

	mode, err = speech.ParseMode(" Enhanced ")
	require.NoError(t, err)
	assert.Equal(t, speech.ModeEnhanced, mode)

	_, err = speech.ParseMode("robot")
	require.ErrorIs(t, err, speech.ErrUnknownMode)
}

func TestService_SynthesizeUsesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0)

	first, source, err := f.service.Synthesize(ctx, "Hei", "")
	require.NoError(t, err)
	assert.Equal(t, speech.SourceAPI, source)
	assert.Equal(t, []byte("RIFFHeiKore"), first)

	second, source, err := f.service.Synthesize(ctx, "  Hei ", "Kore")
	require.NoError(t, err)
	assert.Equal(t, speech.SourceCache, source)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.synthesizer.callCount())

	cached, found, err := f.cache.Get(ctx, "Hei", "Kore")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, cached)
	assert.Equal(t, audiocache.ComputeKey("Hei", "Kore"), f.service.CacheKey(" Hei", ""))

	_, source, err = f.service.Synthesize(ctx, "Hei", "Puck")
	require.NoError(t, err)
	assert.Equal(t, speech.SourceAPI, source, "voice is part of the key")
}

func TestService_SynthesizeFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	f := newFixture(t, 0)
	f.synthesizer.err = errProviderDown

	_, _, err := f.service.Synthesize(ctx, "Kiitos", "")
	require.ErrorIs(t, err, core.ErrSynthesis)
	require.ErrorIs(t, err, errProviderDown)

	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count, "failures are not cached")

	_, _, err = f.service.Synthesize(ctx, "   ", "")
	require.ErrorIs(t, err, speech.ErrEmptyText)
}

func TestService_SynthesizeTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20*time.Millisecond)
	f.synthesizer.block = true

	_, _, err := f.service.Synthesize(context.Background(), "Hidas", "")
	require.ErrorIs(t, err, core.ErrSynthesis)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_SpeakShortTextLocally(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)

	outcome, err := f.service.Speak(context.Background(), speech.Request{
		Text:  "Hei",
		Voice: "",
		Mode:  speech.ModeAuto,
		Local: core.SpeakOptions{},
	})
	require.NoError(t, err)
	assert.Equal(t, &speech.Outcome{Enhanced: false, Source: speech.SourceLocal, FallbackReason: ""}, outcome)

	assert.Equal(t, []string{"Hei"}, f.speaker.spoken)
	assert.Equal(t, core.SpeakOptions{Language: "fi-FI", Rate: 0.8, Pitch: 1}, f.speaker.opts[0])
	assert.Equal(t, 0, f.synthesizer.callCount())
}

func TestService_SpeakLongTextEnhanced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)

	outcome, err := f.service.Speak(context.Background(), speech.Request{
		Text:  longSentence,
		Voice: "Puck",
		Mode:  speech.ModeAuto,
		Local: core.SpeakOptions{},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Enhanced)
	assert.Equal(t, speech.SourceAPI, outcome.Source)
	require.Len(t, f.player.played, 1)
	assert.Empty(t, f.speaker.spoken)
	assert.Equal(t, []string{"Puck"}, f.synthesizer.voices)
}

func TestService_SpeakFallsBackToLocal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		prepare func(f *fixture)
	}{
		{name: "synthesis fails", prepare: func(f *fixture) { f.synthesizer.err = errProviderDown }},
		{name: "playback fails", prepare: func(f *fixture) { f.player.err = errNoSpeaker }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 0)
			tc.prepare(f)

			outcome, err := f.service.Speak(context.Background(), speech.Request{
				Text:  "Hei",
				Voice: "",
				Mode:  speech.ModeEnhanced,
				Local: core.SpeakOptions{Language: "fi-FI", Rate: 1.2, Pitch: 1.1},
			})
			require.NoError(t, err)
			assert.True(t, outcome.Enhanced)
			assert.Equal(t, speech.SourceLocal, outcome.Source)
			assert.NotEmpty(t, outcome.FallbackReason)
			assert.Equal(t, []string{"Hei"}, f.speaker.spoken)
			assert.InDelta(t, 1.2, f.speaker.opts[0].Rate, 1e-9)
		})
	}
}

func TestEspeakArgs(t *testing.T) {
	t.Parallel()

	args := speech.EspeakArgs("Hyvää päivää", core.SpeakOptions{Language: "fi-FI", Rate: 0.8, Pitch: 1})
	assert.Equal(t, []string{"-v", "fi", "-s", "140", "-p", "50", "--", "Hyvää päivää"}, args)

	args = speech.EspeakArgs("-n", core.SpeakOptions{Language: "", Rate: 0, Pitch: 9})
	assert.Equal(t, []string{"-v", "fi", "-s", "140", "-p", "99", "--", "-n"}, args)
}

func TestESpeakSpeaker_Events(t *testing.T) {
	t.Parallel()

	var started, ended bool

	speaker := speech.NewESpeakSpeaker("true")
	err := speaker.Speak(context.Background(), "Hei", core.SpeakOptions{}, core.SpeakEvents{
		OnStart: func() { started = true },
		OnEnd:   func() { ended = true },
		OnError: nil,
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, ended)

	var failure error

	missing := speech.NewESpeakSpeaker("definitely-not-a-speech-binary")
	err = missing.Speak(context.Background(), "Hei", core.SpeakOptions{}, core.SpeakEvents{
		OnStart: nil,
		OnEnd:   nil,
		OnError: func(e error) { failure = e },
	})
	require.ErrorIs(t, err, core.ErrPlayback)
	assert.Equal(t, err, failure)
}

func TestCommandPlayer(t *testing.T) {
	t.Parallel()

	require.NoError(t, speech.NewCommandPlayer("cat").Play(context.Background(), []byte("RIFF")))

	err := speech.NewCommandPlayer("false").Play(context.Background(), []byte("RIFF"))
	require.ErrorIs(t, err, core.ErrPlayback)
}

func TestService_SpeakWithoutQueueOrCache(t *testing.T) {
	t.Parallel()

	synthesizer := &fakeSynthesizer{}
	player := &fakePlayer{}
	speaker := &fakeSpeaker{}

	service := speech.New(synthesizer, nil, nil, speaker, player, speech.Options{
		DefaultVoice:     "Puck",
		SynthesisTimeout: 0,
		Policy:           speech.VoicePolicy{EnhancedWordThreshold: 0},
	}, newTestLogger(t))

	outcome, err := service.Speak(context.Background(), speech.Request{
		Text:  longSentence,
		Voice: "",
		Mode:  speech.ModeAuto,
		Local: core.SpeakOptions{},
	})
	require.NoError(t, err)
	assert.Equal(t, &speech.Outcome{Enhanced: true, Source: speech.SourceAPI, FallbackReason: ""}, outcome)
	assert.Equal(t, []string{"Puck"}, synthesizer.voices)
	require.Len(t, player.played, 1)
	assert.Empty(t, speaker.spoken)

	synthesizer.err = errProviderDown

	outcome, err = service.Speak(context.Background(), speech.Request{
		Text:  longSentence,
		Voice: "",
		Mode:  speech.ModeAuto,
		Local: core.SpeakOptions{},
	})
	require.NoError(t, err)
	assert.Equal(t, speech.SourceLocal, outcome.Source)
	assert.Contains(t, outcome.FallbackReason, errProviderDown.Error())
	assert.Equal(t, []string{longSentence}, speaker.spoken)
}

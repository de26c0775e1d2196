// Package speech provides text-to-speech for lesson content: synthesized
// audio through the shared request queue and the audio cache, with a local
// voice as the fallback.
package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/text"
)

// Default values.
const (
	DefaultVoice            = "Kore"
	DefaultSynthesisTimeout = 30 * time.Second
)

var (
	// ErrEmptyText indicates there is nothing to speak.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnknownMode indicates an unrecognised voice mode.
	ErrUnknownMode = errors.New("unknown voice mode")
	// ErrNoLocalVoice indicates that the fallback voice is needed but not configured.
	ErrNoLocalVoice = errors.New("no local voice configured")
)

// Source says where synthesized audio came from.
type Source string

// Audio sources.
const (
	SourceCache Source = "cache"
	SourceAPI   Source = "api"
	SourceLocal Source = "local"
)

// Request is one Speak call.
type Request struct {
	Text  string
	Voice string
	Mode  Mode
	Local core.SpeakOptions
}

// Outcome reports how a Speak call was served.
type Outcome struct {
	Enhanced bool   `json:"enhanced"`
	Source   Source `json:"source"`
	// FallbackReason is set when the enhanced voice failed and the local voice spoke instead.
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	DefaultVoice     string
	SynthesisTimeout time.Duration
	Policy           VoicePolicy
}

// Service synthesizes and speaks text.
type Service struct {
	synthesizer core.Synthesizer
	cache       *audiocache.Cache
	queue       *queue.Queue
	local       core.LocalSpeaker
	player      core.AudioPlayer
	normalizer  *text.Normalizer
	opts        Options
	log         *logger.Logger
}

// New wires a speech service. cache, requestQueue, local and player may be
// nil; without a queue the synthesizer is called directly.
func New(
	synthesizer core.Synthesizer,
	cache *audiocache.Cache,
	requestQueue *queue.Queue,
	local core.LocalSpeaker,
	player core.AudioPlayer,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = DefaultVoice
	}

	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = DefaultSynthesisTimeout
	}

	return &Service{
		synthesizer: synthesizer,
		cache:       cache,
		queue:       requestQueue,
		local:       local,
		player:      player,
		normalizer:  text.NewNormalizer(),
		opts:        opts,
		log:         log,
	}
}

// DefaultVoice is the voice used when a request names none.
func (s *Service) DefaultVoice() string {
	return s.opts.DefaultVoice
}

// CacheKey is the audio cache key Synthesize uses for content and voice.
func (s *Service) CacheKey(content, voice string) string {
	if voice == "" {
		voice = s.opts.DefaultVoice
	}

	return audiocache.ComputeKey(s.normalizer.PrepareForSpeech(content), voice)
}

// UseEnhanced applies the voice policy.
func (s *Service) UseEnhanced(content string, mode Mode) bool {
	return s.opts.Policy.UseEnhanced(content, mode)
}

// Synthesize returns WAV audio for content, from the cache when possible.
// Cache failures are treated as misses. On a miss the call goes through the
// request queue and is bounded by the synthesis timeout; the result is
// cached even if the caller stopped waiting.
func (s *Service) Synthesize(ctx context.Context, content, voice string) ([]byte, Source, error) {
	prepared := s.normalizer.PrepareForSpeech(content)
	if prepared == "" {
		return nil, "", ErrEmptyText
	}

	if voice == "" {
		voice = s.opts.DefaultVoice
	}

	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, prepared, voice)
		if err != nil {
			s.log.Warn("Audio cache lookup failed, synthesizing: %v", err)
		} else if found {
			return cached, SourceCache, nil
		}
	}

	var (
		wav []byte
		err error
	)

	if s.queue == nil {
		wav, err = s.synthesizeAndCache(ctx, prepared, voice)
	} else {
		wav, err = queue.Do(ctx, s.queue, func(callCtx context.Context) ([]byte, error) {
			return s.synthesizeAndCache(callCtx, prepared, voice)
		})
	}

	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	return wav, SourceAPI, nil
}

func (s *Service) synthesizeAndCache(ctx context.Context, prepared, voice string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.SynthesisTimeout)
	defer cancel()

	wav, err := s.synthesizer.Synthesize(timeoutCtx, prepared, voice)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		setErr := s.cache.Set(ctx, prepared, voice, wav)
		if setErr != nil {
			s.log.Warn("Failed to cache synthesized audio: %v", setErr)
		}
	}

	return wav, nil
}

// Speak says req.Text aloud. The enhanced voice is synthesized and played;
// any failure there falls back to the local voice, which is never queued
// nor cached.
func (s *Service) Speak(ctx context.Context, req Request) (*Outcome, error) {
	if s.normalizer.PrepareForSpeech(req.Text) == "" {
		return nil, ErrEmptyText
	}

	if !s.UseEnhanced(req.Text, req.Mode) {
		err := s.speakLocally(ctx, req)
		if err != nil {
			return nil, err
		}

		return &Outcome{Enhanced: false, Source: SourceLocal, FallbackReason: ""}, nil
	}

	source, enhancedErr := s.speakEnhanced(ctx, req)
	if enhancedErr == nil {
		return &Outcome{Enhanced: true, Source: source, FallbackReason: ""}, nil
	}

	s.log.Warn("Enhanced voice failed, falling back to local voice: %v", enhancedErr)

	err := s.speakLocally(ctx, req)
	if err != nil {
		return nil, errors.Join(enhancedErr, err)
	}

	return &Outcome{Enhanced: true, Source: SourceLocal, FallbackReason: enhancedErr.Error()}, nil
}

func (s *Service) speakEnhanced(ctx context.Context, req Request) (Source, error) {
	if s.player == nil {
		return "", fmt.Errorf("%w: no audio player configured", core.ErrPlayback)
	}

	wav, source, err := s.Synthesize(ctx, req.Text, req.Voice)
	if err != nil {
		return "", err
	}

	playErr := s.player.Play(ctx, wav)
	if playErr != nil {
		return "", playErr
	}

	return source, nil
}

func (s *Service) speakLocally(ctx context.Context, req Request) error {
	if s.local == nil {
		return ErrNoLocalVoice
	}

	opts := req.Local
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}

	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}

	if opts.Pitch <= 0 {
		opts.Pitch = DefaultPitch
	}

	return s.local.Speak(ctx, req.Text, opts, core.SpeakEvents{
		OnStart: func() { s.log.Info("Local voice started for %d words", text.WordCount(req.Text)) },
		OnEnd:   nil,
		OnError: func(err error) { s.log.Error("Local voice failed: %v", err) },
	})
}

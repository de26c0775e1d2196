package speech

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// Local voice defaults.
const (
	DefaultLocalBinary  = "espeak-ng"
	DefaultPlayerBinary = "aplay"
	DefaultLanguage     = "fi-FI"
	DefaultRate         = 0.8
	DefaultPitch        = 1.0
	baseWordsPerMinute  = 175
	basePitch           = 50
	maxPitch            = 99
)

// ESpeakSpeaker speaks through an espeak-compatible command line synthesizer.
type ESpeakSpeaker struct {
	binary string
}

// NewESpeakSpeaker uses binary, or espeak-ng when empty.
func NewESpeakSpeaker(binary string) *ESpeakSpeaker {
	if binary == "" {
		binary = DefaultLocalBinary
	}

	return &ESpeakSpeaker{binary: binary}
}

// Speak runs the synthesizer to completion. OnStart fires once the process
// has started; exactly one of OnEnd or OnError fires afterwards.
func (s *ESpeakSpeaker) Speak(ctx context.Context, content string, opts core.SpeakOptions, events core.SpeakEvents) error {
	args := espeakArgs(content, opts)
	cmd := exec.CommandContext(ctx, s.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err != nil {
		runErr := fmt.Errorf("%w: failed to start %s: %w", core.ErrPlayback, s.binary, err)
		notifyError(events, runErr)

		return runErr
	}

	if events.OnStart != nil {
		events.OnStart()
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		runErr := fmt.Errorf("%w: %s failed: %w, stderr: %s", core.ErrPlayback, s.binary, waitErr,
			strings.TrimSpace(stderr.String()))
		notifyError(events, runErr)

		return runErr
	}

	if events.OnEnd != nil {
		events.OnEnd()
	}

	return nil
}

func notifyError(events core.SpeakEvents, err error) {
	if events.OnError != nil {
		events.OnError(err)
	}
}

// espeakArgs maps browser-style speech options onto espeak flags: rate 1.0
// is 175 words per minute and pitch 1.0 is espeak's 50.
func espeakArgs(content string, opts core.SpeakOptions) []string {
	language := opts.Language
	if language == "" {
		language = DefaultLanguage
	}

	rate := opts.Rate
	if rate <= 0 {
		rate = DefaultRate
	}

	pitch := opts.Pitch
	if pitch <= 0 {
		pitch = DefaultPitch
	}

	voice, _, _ := strings.Cut(strings.ToLower(language), "-")
	wordsPerMinute := int(math.Round(rate * baseWordsPerMinute))
	espeakPitch := min(int(math.Round(pitch*basePitch)), maxPitch)

	return []string{
		"-v", voice,
		"-s", strconv.Itoa(wordsPerMinute),
		"-p", strconv.Itoa(espeakPitch),
		"--", content,
	}
}

// CommandPlayer plays WAV audio by piping it to a player's standard input.
type CommandPlayer struct {
	binary string
	args   []string
}

// NewCommandPlayer uses binary with args, or "aplay -q -" when binary is empty.
func NewCommandPlayer(binary string, args ...string) *CommandPlayer {
	if binary == "" {
		return &CommandPlayer{binary: DefaultPlayerBinary, args: []string{"-q", "-"}}
	}

	return &CommandPlayer{binary: binary, args: args}
}

// Play blocks until the player exits.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	cmd := exec.CommandContext(ctx, p.binary, p.args...)
	cmd.Stdin = bytes.NewReader(audio)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s failed: %w, output: %s", core.ErrPlayback, p.binary, err,
			strings.TrimSpace(string(output)))
	}

	return nil
}

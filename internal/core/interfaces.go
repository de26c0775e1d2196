// Package core defines the core interfaces and shared types for the tutor service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key      string
	Size     int64
	Metadata map[string]string
}

// BlobStore is an ObjectStore that also keeps per-object metadata and can be enumerated.
type BlobStore interface {
	ObjectStore
	UploadWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]ObjectInfo, error)
}

// KeyValueStore is small persistent state that survives restarts.
// Get returns an error wrapping ErrNotFound when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// GenerationOptions tunes a single text generation call.
type GenerationOptions struct {
	MaxOutputTokens int
	Temperature     float64
}

// TextGenerator produces text from a prompt using the external AI provider.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
}

// Synthesizer converts text to WAV audio using the external AI provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SpeakOptions parameterizes the local fallback voice.
type SpeakOptions struct {
	Language string
	Rate     float64
	Pitch    float64
}

// SpeakEvents receives progress callbacks from a LocalSpeaker. Any field may be nil.
type SpeakEvents struct {
	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

// LocalSpeaker speaks text aloud without touching the network.
type LocalSpeaker interface {
	Speak(ctx context.Context, text string, opts SpeakOptions, events SpeakEvents) error
}

// AudioPlayer plays encoded audio on the host.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

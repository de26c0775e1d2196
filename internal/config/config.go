// Package config provides the configuration structure for the tutor service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Storage backends for learner state.
const (
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default values.
const (
	DefaultNATSURL                  = "nats://127.0.0.1:4222"
	DefaultTextProcessedSubject     = "text.processed"
	DefaultAudioChunkCreatedSubject = "audio.chunk.created"
	DefaultAudioBucket              = "SUOMI_AUDIO"
	DefaultTextBucket               = "SUOMI_TEXTS"
	DefaultKVBucket                 = "SUOMI_STATE"
	DefaultGenAIKeyEnv              = "GEMINI_API_KEY"
	DefaultTranscribeKeyEnv         = "OPENAI_API_KEY"
	DefaultGenAITimeoutSeconds      = 60
	DefaultMaxPerMinute             = 10
	DefaultMaxPerDay                = 50
	DefaultCooldownMillis           = 3000
	DefaultSafetyMarginMillis       = 2000
	DefaultRetentionHours           = 7 * 24
	DefaultCompressionLevel         = 3
	DefaultVoice                    = "Kore"
	DefaultEnhancedWordThreshold    = 6
	DefaultSynthesisTimeoutSeconds  = 30
	DefaultPrefetchReserve          = 10
	DefaultSourceLanguage           = "Finnish"
	DefaultTargetLanguage           = "Russian"
	DefaultTranscribeLanguage       = "fi"
	DefaultHTTPAddr                 = ":8080"
	DefaultRequestsPerSecond        = 5.0
	DefaultBurst                    = 10
	DefaultRedisAddr                = "127.0.0.1:6379"
	DefaultRedisPrefix              = "suomi"
	DefaultLogsDir                  = "logs"
	maxCompressionLevel             = 22
)

var (
	// ErrUnknownBackend indicates an unsupported storage backend.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrInvalidValue indicates a configuration value out of range.
	ErrInvalidValue = errors.New("invalid configuration value")
	// ErrMissingValue indicates a required configuration value is empty.
	ErrMissingValue = errors.New("missing configuration value")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	KVBucket                 string `toml:"kv_bucket"`
	WorkerEnabled            bool   `toml:"worker_enabled"`
	// PrefetchReserve is the daily quota the worker leaves for learners;
	// negative lets prefetch use all of it.
	PrefetchReserve int `toml:"prefetch_reserve"`
}

// GenAIConfig configures the generative AI provider.
type GenAIConfig struct {
	BaseURL        string `toml:"base_url"`
	TextModel      string `toml:"text_model"`
	SpeechModel    string `toml:"speech_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIKeyEnv      string `toml:"api_key_env"`
	APIKey         string `toml:"-"`
}

// QueueConfig configures the request queue in front of the provider.
// A negative cooldown disables it.
type QueueConfig struct {
	MaxPerMinute       int `toml:"max_per_minute"`
	MaxPerDay          int `toml:"max_per_day"`
	CooldownMillis     int `toml:"cooldown_ms"`
	SafetyMarginMillis int `toml:"safety_margin_ms"`
}

// AudioCacheConfig configures the audio cache.
type AudioCacheConfig struct {
	RetentionHours   int  `toml:"retention_hours"`
	Compress         bool `toml:"compress"`
	CompressionLevel int  `toml:"compression_level"`
}

// SpeechConfig configures synthesis. The local voice runs on the client.
type SpeechConfig struct {
	DefaultVoice            string `toml:"default_voice"`
	EnhancedWordThreshold   int    `toml:"enhanced_word_threshold"`
	SynthesisTimeoutSeconds int    `toml:"synthesis_timeout_seconds"`
}

// TranslateConfig configures word lookups.
type TranslateConfig struct {
	SourceLanguage  string  `toml:"source_language"`
	TargetLanguage  string  `toml:"target_language"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	Temperature     float64 `toml:"temperature"`
}

// TranscribeConfig configures speech capture.
type TranscribeConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIKeyEnv      string `toml:"api_key_env"`
	APIKey         string `toml:"-"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr              string  `toml:"addr"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TrustForwarded    bool    `toml:"trust_forwarded"`
	MaxUploadBytes    int64   `toml:"max_upload_bytes"`
}

// StorageConfig selects the learner state backend.
type StorageConfig struct {
	Backend string `toml:"backend"`
}

// RedisConfig configures the optional Redis backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	GenAI      GenAIConfig      `toml:"genai"`
	Queue      QueueConfig      `toml:"queue"`
	AudioCache AudioCacheConfig `toml:"audio_cache"`
	Speech     SpeechConfig     `toml:"speech"`
	Translate  TranslateConfig  `toml:"translate"`
	Transcribe TranscribeConfig `toml:"transcribe"`
	HTTP       HTTPConfig       `toml:"http"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the tutor service, fills defaults, reads
// API keys from the environment and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.ResolveSecrets(os.Getenv)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, DefaultNATSURL)
	setString(&c.NATS.TextProcessedSubject, DefaultTextProcessedSubject)
	setString(&c.NATS.AudioChunkCreatedSubject, DefaultAudioChunkCreatedSubject)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	setString(&c.NATS.TextObjectStoreBucket, DefaultTextBucket)
	setString(&c.NATS.KVBucket, DefaultKVBucket)
	setInt(&c.NATS.PrefetchReserve, DefaultPrefetchReserve)

	setString(&c.GenAI.APIKeyEnv, DefaultGenAIKeyEnv)
	setInt(&c.GenAI.TimeoutSeconds, DefaultGenAITimeoutSeconds)

	setInt(&c.Queue.MaxPerMinute, DefaultMaxPerMinute)
	setInt(&c.Queue.MaxPerDay, DefaultMaxPerDay)
	setInt(&c.Queue.CooldownMillis, DefaultCooldownMillis)
	setInt(&c.Queue.SafetyMarginMillis, DefaultSafetyMarginMillis)

	setInt(&c.AudioCache.RetentionHours, DefaultRetentionHours)
	setInt(&c.AudioCache.CompressionLevel, DefaultCompressionLevel)

	setString(&c.Speech.DefaultVoice, DefaultVoice)
	setInt(&c.Speech.EnhancedWordThreshold, DefaultEnhancedWordThreshold)
	setInt(&c.Speech.SynthesisTimeoutSeconds, DefaultSynthesisTimeoutSeconds)

	setString(&c.Translate.SourceLanguage, DefaultSourceLanguage)
	setString(&c.Translate.TargetLanguage, DefaultTargetLanguage)

	setString(&c.Transcribe.Language, DefaultTranscribeLanguage)
	setString(&c.Transcribe.APIKeyEnv, DefaultTranscribeKeyEnv)

	setString(&c.HTTP.Addr, DefaultHTTPAddr)

	if c.HTTP.RequestsPerSecond == 0 {
		c.HTTP.RequestsPerSecond = DefaultRequestsPerSecond
	}

	setInt(&c.HTTP.Burst, DefaultBurst)

	setString(&c.Storage.Backend, BackendNATS)
	setString(&c.Redis.Addr, DefaultRedisAddr)
	setString(&c.Redis.Prefix, DefaultRedisPrefix)
	setString(&c.Paths.BaseLogsDir, DefaultLogsDir)
}

// ResolveSecrets reads the API keys from the environment variables the
// configuration names.
func (c *Config) ResolveSecrets(getenv func(string) string) {
	if c.GenAI.APIKey == "" && c.GenAI.APIKeyEnv != "" {
		c.GenAI.APIKey = strings.TrimSpace(getenv(c.GenAI.APIKeyEnv))
	}

	if c.Transcribe.APIKey == "" && c.Transcribe.APIKeyEnv != "" {
		c.Transcribe.APIKey = strings.TrimSpace(getenv(c.Transcribe.APIKeyEnv))
	}
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendNATS, BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: redis.addr", ErrMissingValue))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend))
	}

	if c.NATS.URL == "" && (c.Storage.Backend == BackendNATS || c.NATS.WorkerEnabled) {
		errs = append(errs, fmt.Errorf("%w: nats.url", ErrMissingValue))
	}

	if c.Queue.MaxPerMinute < 0 || c.Queue.MaxPerDay < 0 {
		errs = append(errs, fmt.Errorf("%w: queue limits must not be negative", ErrInvalidValue))
	}

	if c.AudioCache.RetentionHours < 0 {
		errs = append(errs, fmt.Errorf("%w: audio_cache.retention_hours", ErrInvalidValue))
	}

	if c.AudioCache.Compress && (c.AudioCache.CompressionLevel < 1 || c.AudioCache.CompressionLevel > maxCompressionLevel) {
		errs = append(errs, fmt.Errorf("%w: audio_cache.compression_level %d", ErrInvalidValue, c.AudioCache.CompressionLevel))
	}

	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		errs = append(errs, fmt.Errorf("%w: http rate limit", ErrInvalidValue))
	}

	if c.Translate.Temperature < 0 {
		errs = append(errs, fmt.Errorf("%w: translate.temperature", ErrInvalidValue))
	}

	return errors.Join(errs...)
}

// Cooldown is the pause after each dispatch; negative disables it.
func (q QueueConfig) Cooldown() time.Duration {
	return time.Duration(q.CooldownMillis) * time.Millisecond
}

// SafetyMargin is added to every throttle wait.
func (q QueueConfig) SafetyMargin() time.Duration {
	return time.Duration(q.SafetyMarginMillis) * time.Millisecond
}

// Retention is how long cached audio stays live.
func (a AudioCacheConfig) Retention() time.Duration {
	return time.Duration(a.RetentionHours) * time.Hour
}

// SynthesisTimeout bounds one synthesis call.
func (s SpeechConfig) SynthesisTimeout() time.Duration {
	return time.Duration(s.SynthesisTimeoutSeconds) * time.Second
}

// Timeout bounds one provider request.
func (g GenAIConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Timeout bounds one transcription request.
func (t TranscribeConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target == 0 {
		*target = fallback
	}
}

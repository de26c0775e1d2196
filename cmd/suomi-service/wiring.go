package main

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/config"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/genai"
	"github.com/book-expert/suomi-tutor/internal/httpapi"
	"github.com/book-expert/suomi-tutor/internal/kvstore"
	"github.com/book-expert/suomi-tutor/internal/learner"
	"github.com/book-expert/suomi-tutor/internal/objectstore"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
	"github.com/book-expert/suomi-tutor/internal/transcribe"
	"github.com/book-expert/suomi-tutor/internal/translate"
)

// application owns every long-lived resource of the service.
type application struct {
	natsConnection *nats.Conn
	redisClient    *redis.Client
	queue          *queue.Queue
	cache          *audiocache.Cache
	texts          core.ObjectStore
	speech         *speech.Service
	services       httpapi.Services
	log            *logger.Logger
}

// unavailableProvider stands in for the provider when no API key is set, so
// lookups report offline notices and speech falls back to the local voice.
type unavailableProvider struct{}

func (unavailableProvider) GenerateText(context.Context, string, core.GenerationOptions) (string, error) {
	return "", genai.ErrAPIKeyEmpty
}

func (unavailableProvider) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, genai.ErrAPIKeyEmpty
}

type provider interface {
	core.TextGenerator
	core.Synthesizer
}

func build(ctx context.Context, cfg *config.Config, meter metric.Meter, log *logger.Logger) (*application, error) {
	app := &application{log: log}

	built := false
	defer func() {
		if !built {
			app.Close()
		}
	}()

	var (
		audioStore core.BlobStore
		state      core.KeyValueStore
	)

	if cfg.Storage.Backend == config.BackendMemory {
		audioStore = objectstore.NewMemory()
		app.texts = objectstore.NewMemory()
		state = kvstore.NewMemory()
	} else {
		jetstreamContext, err := app.connectNATS(cfg)
		if err != nil {
			return nil, err
		}

		natsAudio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio bucket: %w", err)
		}

		natsTexts, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open text bucket: %w", err)
		}

		audioStore, app.texts = natsAudio, natsTexts

		state, err = app.openState(ctx, cfg, jetstreamContext)
		if err != nil {
			return nil, err
		}
	}

	requestQueue, err := queue.New(ctx, queue.NewKVCounterStore(state), queue.Options{
		MaxPerMinute: cfg.Queue.MaxPerMinute,
		MaxPerDay:    cfg.Queue.MaxPerDay,
		Cooldown:     cfg.Queue.Cooldown(),
		SafetyMargin: cfg.Queue.SafetyMargin(),
		Clock:        nil,
		Meter:        meter,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create request queue: %w", err)
	}

	app.queue = requestQueue

	cache, err := audiocache.New(audioStore, audiocache.Options{
		Retention:        cfg.AudioCache.Retention(),
		Compress:         cfg.AudioCache.Compress,
		CompressionLevel: cfg.AudioCache.CompressionLevel,
		Now:              nil,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio cache: %w", err)
	}

	app.cache = cache

	upstream := newProvider(cfg, log)

	translator := translate.New(upstream, requestQueue, state, translate.Options{
		SourceLanguage:  cfg.Translate.SourceLanguage,
		TargetLanguage:  cfg.Translate.TargetLanguage,
		MaxOutputTokens: cfg.Translate.MaxOutputTokens,
		Temperature:     cfg.Translate.Temperature,
		Now:             nil,
	}, log)

	app.speech = speech.New(
		upstream,
		cache,
		requestQueue,
		// Clients speak aloud; the service only synthesizes.
		nil,
		nil,
		speech.Options{
			DefaultVoice:     cfg.Speech.DefaultVoice,
			SynthesisTimeout: cfg.Speech.SynthesisTimeout(),
			Policy:           speech.VoicePolicy{EnhancedWordThreshold: cfg.Speech.EnhancedWordThreshold},
		},
		log,
	)

	app.services = httpapi.Services{
		Translator:    translator,
		Speech:        app.speech,
		Usage:         requestQueue,
		Cache:         cache,
		Favorites:     learner.NewFavorites(state, nil, log),
		Progress:      learner.NewTracker(state, nil, log),
		Pronunciation: newPronunciationChecker(cfg, log),
	}

	built = true

	return app, nil
}

func (a *application) connectNATS(cfg *config.Config) (nats.JetStreamContext, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	a.natsConnection = natsConnection

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	a.log.Info("Connected to NATS at %s", cfg.NATS.URL)

	return jetstreamContext, nil
}

func (a *application) openState(
	ctx context.Context,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) (core.KeyValueStore, error) {
	if cfg.Storage.Backend != config.BackendRedis {
		state, err := kvstore.NewNatsKV(jetstreamContext, cfg.NATS.KVBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open KV bucket: %w", err)
		}

		return state, nil
	}

	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingErr := a.redisClient.Ping(ctx).Err()
	if pingErr != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, pingErr)
	}

	a.log.Info("Learner state stored in redis at %s", cfg.Redis.Addr)

	return kvstore.NewRedisKV(a.redisClient, kvstore.WithRedisPrefix(cfg.Redis.Prefix)), nil
}

func newProvider(cfg *config.Config, log *logger.Logger) provider {
	client, err := genai.NewClient(genai.Config{
		BaseURL:     cfg.GenAI.BaseURL,
		APIKey:      cfg.GenAI.APIKey,
		TextModel:   cfg.GenAI.TextModel,
		SpeechModel: cfg.GenAI.SpeechModel,
		Timeout:     cfg.GenAI.Timeout(),
	})
	if err != nil {
		log.Warn("Generative AI disabled (%s): %v", cfg.GenAI.APIKeyEnv, err)

		return unavailableProvider{}
	}

	return client
}

func newPronunciationChecker(cfg *config.Config, log *logger.Logger) httpapi.PronunciationChecker {
	client, err := transcribe.NewClient(transcribe.Config{
		BaseURL: cfg.Transcribe.BaseURL,
		APIKey:  cfg.Transcribe.APIKey,
		Model:   cfg.Transcribe.Model,
		Timeout: cfg.Transcribe.Timeout(),
	}, log)
	if err != nil {
		log.Warn("Pronunciation checks disabled (%s): %v", cfg.Transcribe.APIKeyEnv, err)

		return nil
	}

	return transcribe.NewChecker(client, cfg.Transcribe.Language)
}

// Close releases resources in reverse order of creation.
func (a *application) Close() {
	if a.queue != nil {
		a.queue.Close()
	}

	if a.cache != nil {
		a.cache.Close()
	}

	if a.redisClient != nil {
		closeErr := a.redisClient.Close()
		if closeErr != nil {
			a.log.Warn("Failed to close redis client: %v", closeErr)
		}
	}

	if a.natsConnection != nil {
		a.natsConnection.Close()
	}
}

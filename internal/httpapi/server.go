// Package httpapi exposes the tutor's services to the browser client over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/learner"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
	"github.com/book-expert/suomi-tutor/internal/text"
	"github.com/book-expert/suomi-tutor/internal/transcribe"
	"github.com/book-expert/suomi-tutor/internal/translate"
)

// Server defaults.
const (
	DefaultAddr           = ":8080"
	DefaultMaxUploadBytes = 10 << 20
	readHeaderTimeout     = 10 * time.Second
	readTimeout           = 30 * time.Second
	writeTimeout          = 90 * time.Second
	idleTimeout           = 90 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Translator looks up words.
type Translator interface {
	Translate(ctx context.Context, word string) (*translate.Lookup, error)
	Analyze(ctx context.Context, word, base string) (*translate.AnalysisLookup, error)
}

// SpeechSynthesizer produces enhanced-voice audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, content, voice string) ([]byte, speech.Source, error)
	UseEnhanced(content string, mode speech.Mode) bool
}

// UsageReporter reports the request queue's quota state.
type UsageReporter interface {
	Usage() queue.Usage
}

// CacheAdmin inspects and empties the audio cache.
type CacheAdmin interface {
	Stats(ctx context.Context) (audiocache.Stats, error)
	Clear(ctx context.Context) error
}

// PronunciationChecker compares a recording with a target phrase.
type PronunciationChecker interface {
	Check(ctx context.Context, audio []byte, filename, target string) (*transcribe.Result, error)
}

// Services are the handlers' dependencies. Pronunciation may be nil.
type Services struct {
	Translator    Translator
	Speech        SpeechSynthesizer
	Usage         UsageReporter
	Cache         CacheAdmin
	Favorites     *learner.Favorites
	Progress      *learner.Tracker
	Pronunciation PronunciationChecker
}

// Options configures the HTTP server.
type Options struct {
	Addr              string
	RequestsPerSecond float64
	Burst             int
	TrustForwarded    bool
	MaxUploadBytes    int64
}

// Server serves the tutor API.
type Server struct {
	services   Services
	opts       Options
	limiter    *ClientLimiter
	normalizer *text.Normalizer
	log        *logger.Logger
}

// New builds a server. Rate limiting is disabled when RequestsPerSecond is zero.
func New(services Services, opts Options, log *logger.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	var limiter *ClientLimiter
	if opts.RequestsPerSecond > 0 {
		limiter = NewClientLimiter(opts.RequestsPerSecond, max(1, opts.Burst))
	}

	return &Server{services: services, opts: opts, limiter: limiter, normalizer: text.NewNormalizer(), log: log}
}

// Handler returns the routed handler with logging and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/translations/{word}", s.handleTranslate)
	mux.HandleFunc("GET /v1/analysis/{word}", s.handleAnalyze)
	mux.HandleFunc("POST /v1/speech", s.handleSpeech)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("DELETE /v1/cache", s.handleCacheClear)
	mux.HandleFunc("GET /v1/favorites", s.handleListFavorites)
	mux.HandleFunc("POST /v1/favorites", s.handleAddFavorite)
	mux.HandleFunc("DELETE /v1/favorites/{word}", s.handleRemoveFavorite)
	mux.HandleFunc("GET /v1/progress", s.handleListProgress)
	mux.HandleFunc("GET /v1/progress/summary", s.handleProgressSummary)
	mux.HandleFunc("POST /v1/progress/{chapter}/{lesson}", s.handleRecordProgress)
	mux.HandleFunc("POST /v1/pronunciation", s.handlePronunciation)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = RateLimit(s.limiter, s.opts.TrustForwarded)(handler)
	}

	return s.accessLog(handler)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.StartJanitor(ctx)
	}

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := srv.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			s.log.Warn("HTTP shutdown: %v", shutdownErr)
		}
	}()

	s.log.Info("HTTP API listening on %s", s.opts.Addr)

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.log.Info("%s %s %d %s", r.Method, r.URL.Path, recorder.status, time.Since(start).Round(time.Millisecond))
	})
}

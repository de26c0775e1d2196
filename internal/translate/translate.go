// Package translate provides click-to-translate word lookups and grammatical
// analysis backed by the generative AI provider, a shared request queue, and
// a persistent word cache.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/kvstore"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/text"
)

// Cache key namespaces.
const (
	translationNamespace = "translation"
	analysisNamespace    = "analysis"
)

// Default values.
const (
	DefaultSourceLanguage  = "Finnish"
	DefaultTargetLanguage  = "Russian"
	DefaultMaxOutputTokens = 120
	DefaultTemperature     = 0.1
	defaultPartOfSpeech    = "unknown"
	defaultDifficulty      = "beginner"
	defaultUsageNotes      = "No usage notes available"
	exampleGlossFmt        = "Example using \"%s\""
	formationRulesFmt      = "Word formation: %s"
)

// ErrEmptyWord indicates that the word was empty after normalisation.
var ErrEmptyWord = errors.New("word cannot be empty")

// Source says where a lookup was answered from.
type Source string

// Lookup sources.
const (
	SourceCache   Source = "cache"
	SourceAPI     Source = "api"
	SourceOffline Source = "offline"
)

// Translation is a cached word translation.
type Translation struct {
	Word         string    `json:"word"`
	Translation  string    `json:"translation"`
	PartOfSpeech string    `json:"partOfSpeech"`
	Difficulty   string    `json:"difficulty"`
	Examples     []string  `json:"examples"`
	Etymology    string    `json:"etymology"`
	CachedAt     time.Time `json:"cachedAt"`
}

// Lookup is the outcome of Translate. Translation is nil when Notice is set.
type Lookup struct {
	Word        string       `json:"word"`
	Translation *Translation `json:"translation,omitempty"`
	Source      Source       `json:"source"`
	Notice      *Notice      `json:"notice,omitempty"`
	Fallback    string       `json:"fallback,omitempty"`
}

// Example is a usage example with an English gloss.
type Example struct {
	Finnish string `json:"finnish"`
	English string `json:"english"`
}

// Analysis is the grammatical analysis of a word.
type Analysis struct {
	PartOfSpeech   string    `json:"partOfSpeech"`
	Case           *string   `json:"case"`
	Difficulty     string    `json:"difficulty"`
	UsageNotes     string    `json:"usageNotes"`
	Etymology      *string   `json:"etymology"`
	FormationRules *string   `json:"formationRules"`
	Examples       []Example `json:"examples"`
	CachedAt       time.Time `json:"cachedAt"`
}

// AnalysisLookup is the outcome of Analyze. Analysis is nil when Notice is set.
type AnalysisLookup struct {
	Word     string    `json:"word"`
	Base     string    `json:"base,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Source   Source    `json:"source"`
	Notice   *Notice   `json:"notice,omitempty"`
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	SourceLanguage  string
	TargetLanguage  string
	MaxOutputTokens int
	Temperature     float64
	Now             func() time.Time
}

// Service answers word lookups.
type Service struct {
	generator  core.TextGenerator
	queue      *queue.Queue
	cache      core.KeyValueStore
	normalizer *text.Normalizer
	opts       Options
	log        *logger.Logger
}

// rawTranslation is the model's reply for a translation prompt.
type rawTranslation struct {
	Word         string   `json:"word"`
	Translation  string   `json:"translation"`
	PartOfSpeech string   `json:"partOfSpeech"`
	Difficulty   string   `json:"difficulty"`
	Examples     []string `json:"examples"`
	Etymology    string   `json:"etymology"`
}

// rawAnalysis is the model's reply for an analysis prompt.
type rawAnalysis struct {
	PartOfSpeech string   `json:"partOfSpeech"`
	Case         string   `json:"case"`
	Difficulty   string   `json:"difficulty"`
	Note         string   `json:"note"`
	Examples     []string `json:"examples"`
	Etymology    string   `json:"etymology"`
}

// New wires a translation service. The cache may be nil.
func New(
	generator core.TextGenerator,
	requestQueue *queue.Queue,
	cache core.KeyValueStore,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.SourceLanguage == "" {
		opts.SourceLanguage = DefaultSourceLanguage
	}

	if opts.TargetLanguage == "" {
		opts.TargetLanguage = DefaultTargetLanguage
	}

	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}

	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		generator:  generator,
		queue:      requestQueue,
		cache:      cache,
		normalizer: text.NewNormalizer(),
		opts:       opts,
		log:        log,
	}
}

// Translate looks up word, from the cache when possible. Upstream failures
// are reported as a Notice on the lookup; only an empty word is an error.
func (s *Service) Translate(ctx context.Context, word string) (*Lookup, error) {
	cleaned := s.normalizer.CleanWord(word)
	if cleaned == "" {
		return nil, ErrEmptyWord
	}

	key := kvstore.Key(translationNamespace, kvstore.EncodeSegment(cleaned))

	var cached Translation
	if s.readCache(ctx, key, &cached) {
		return &Lookup{Word: cleaned, Translation: &cached, Source: SourceCache, Notice: nil, Fallback: ""}, nil
	}

	translation, err := queue.Do(ctx, s.queue, func(callCtx context.Context) (*Translation, error) {
		return s.fetchTranslation(callCtx, cleaned, key)
	})
	if err != nil {
		s.log.Warn("Translation of '%s' failed: %v", cleaned, err)

		return &Lookup{
			Word:        cleaned,
			Translation: nil,
			Source:      SourceOffline,
			Notice:      classifyTranslation(err),
			Fallback:    fmt.Sprintf(fallbackTranslationFmt, cleaned),
		}, nil
	}

	return &Lookup{Word: cleaned, Translation: translation, Source: SourceAPI, Notice: nil, Fallback: ""}, nil
}

// Analyze returns a grammatical analysis of word. base is the translation
// already shown to the learner and is echoed back. A reply that cannot be
// parsed yields a stub analysis rather than a notice.
func (s *Service) Analyze(ctx context.Context, word, base string) (*AnalysisLookup, error) {
	cleaned := s.normalizer.CleanWord(word)
	if cleaned == "" {
		return nil, ErrEmptyWord
	}

	key := kvstore.Key(analysisNamespace, kvstore.EncodeSegment(cleaned))

	var cached Analysis
	if s.readCache(ctx, key, &cached) {
		return &AnalysisLookup{Word: cleaned, Base: base, Analysis: &cached, Source: SourceCache, Notice: nil}, nil
	}

	analysis, err := queue.Do(ctx, s.queue, func(callCtx context.Context) (*Analysis, error) {
		return s.fetchAnalysis(callCtx, cleaned, key)
	})
	if err != nil {
		s.log.Warn("Analysis of '%s' failed: %v", cleaned, err)

		return &AnalysisLookup{
			Word:     cleaned,
			Base:     base,
			Analysis: nil,
			Source:   SourceOffline,
			Notice:   classifyAnalysis(err),
		}, nil
	}

	return &AnalysisLookup{Word: cleaned, Base: base, Analysis: analysis, Source: SourceAPI, Notice: nil}, nil
}

func (s *Service) fetchTranslation(ctx context.Context, word, key string) (*Translation, error) {
	reply, err := s.generator.GenerateText(ctx, translationPrompt(word, s.opts.SourceLanguage, s.opts.TargetLanguage),
		s.generationOptions())
	if err != nil {
		return nil, err
	}

	var raw rawTranslation

	unmarshalErr := json.Unmarshal([]byte(s.normalizer.ExtractJSONObject(reply)), &raw)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: translation of '%s': %w", core.ErrMalformedResponse, word, unmarshalErr)
	}

	if raw.Translation == "" {
		return nil, fmt.Errorf("%w: translation of '%s' is empty", core.ErrMalformedResponse, word)
	}

	translation := &Translation{
		Word:         word,
		Translation:  raw.Translation,
		PartOfSpeech: raw.PartOfSpeech,
		Difficulty:   raw.Difficulty,
		Examples:     raw.Examples,
		Etymology:    raw.Etymology,
		CachedAt:     s.opts.Now(),
	}

	if translation.Examples == nil {
		translation.Examples = []string{}
	}

	s.writeCache(ctx, key, translation)

	return translation, nil
}

func (s *Service) fetchAnalysis(ctx context.Context, word, key string) (*Analysis, error) {
	reply, err := s.generator.GenerateText(ctx, analysisPrompt(word, s.opts.SourceLanguage), s.generationOptions())
	if err != nil {
		return nil, err
	}

	var raw rawAnalysis

	unmarshalErr := json.Unmarshal([]byte(s.normalizer.ExtractJSONObject(reply)), &raw)
	if unmarshalErr != nil {
		s.log.Warn("Analysis reply for '%s' is not JSON: %v", word, unmarshalErr)

		return stubAnalysis(), nil
	}

	analysis := buildAnalysis(word, raw, s.opts.Now())
	s.writeCache(ctx, key, analysis)

	return analysis, nil
}

func (s *Service) generationOptions() core.GenerationOptions {
	return core.GenerationOptions{
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Temperature:     s.opts.Temperature,
	}
}

// readCache decodes key into target. Storage failures count as a miss.
func (s *Service) readCache(ctx context.Context, key string, target any) bool {
	if s.cache == nil {
		return false
	}

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.log.Warn("Word cache read for %s failed: %v", key, err)
		}

		return false
	}

	unmarshalErr := json.Unmarshal(raw, target)
	if unmarshalErr != nil {
		s.log.Warn("Word cache entry %s is corrupt: %v", key, unmarshalErr)

		return false
	}

	return true
}

func (s *Service) writeCache(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("Failed to encode word cache entry %s: %v", key, err)

		return
	}

	putErr := s.cache.Put(ctx, key, raw)
	if putErr != nil {
		s.log.Warn("Word cache write for %s failed: %v", key, putErr)
	}
}

func buildAnalysis(word string, raw rawAnalysis, now time.Time) *Analysis {
	analysis := &Analysis{
		PartOfSpeech:   orDefault(raw.PartOfSpeech, defaultPartOfSpeech),
		Case:           nil,
		Difficulty:     orDefault(raw.Difficulty, defaultDifficulty),
		UsageNotes:     defaultUsageNotes,
		Etymology:      nil,
		FormationRules: nil,
		Examples:       make([]Example, 0, len(raw.Examples)),
		CachedAt:       now,
	}

	if raw.Case != "" && raw.Case != "null" {
		grammaticalCase := raw.Case
		analysis.Case = &grammaticalCase
	}

	if raw.Note != "" && raw.Note != placeholderNote {
		analysis.UsageNotes = raw.Note
	}

	if raw.Etymology != "" && raw.Etymology != placeholderEtymology {
		etymology := raw.Etymology
		formation := fmt.Sprintf(formationRulesFmt, raw.Etymology)
		analysis.Etymology = &etymology
		analysis.FormationRules = &formation
	}

	for _, example := range raw.Examples {
		analysis.Examples = append(analysis.Examples, Example{
			Finnish: example,
			English: fmt.Sprintf(exampleGlossFmt, word),
		})
	}

	return analysis
}

func stubAnalysis() *Analysis {
	return &Analysis{
		PartOfSpeech:   defaultPartOfSpeech,
		Case:           nil,
		Difficulty:     defaultDifficulty,
		UsageNotes:     analysisUnavailableNotes,
		Etymology:      nil,
		FormationRules: nil,
		Examples:       []Example{},
		CachedAt:       time.Time{},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

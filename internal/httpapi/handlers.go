package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/learner"
	"github.com/book-expert/suomi-tutor/internal/speech"
	"github.com/book-expert/suomi-tutor/internal/transcribe"
	"github.com/book-expert/suomi-tutor/internal/translate"
)

// AudioSourceHeader names where synthesized audio came from.
const AudioSourceHeader = "X-Audio-Source"

// Progress sections accepted by the progress endpoint.
const (
	SectionTheory    = "theory"
	SectionReading   = "reading"
	SectionExercises = "exercises"
)

const (
	fallbackLocal      = "local"
	contentTypeJSON    = "application/json"
	contentTypeWAV     = "audio/wav"
	maxJSONBodyBytes   = 1 << 20
	multipartAudio     = "audio"
	multipartTarget    = "target"
	errFmtInvalidBody  = "%w: %w"
	errFmtUnknownField = "%w: %q"
)

var (
	errInvalidBody     = errors.New("invalid request body")
	errUnknownSection  = errors.New("unknown progress section")
	errNotConfigured   = errors.New("feature not configured")
	errTooManyRequests = errors.New("too many requests")
)

type errorResponse struct {
	Error    string `json:"error"`
	Fallback string `json:"fallback,omitempty"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Mode  string `json:"mode"`
}

type favoriteRequest struct {
	Word          string `json:"word"`
	Translation   string `json:"translation"`
	SourceChapter string `json:"sourceChapter"`
}

type progressRequest struct {
	Section   string `json:"section"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	lookup, err := s.services.Translator.Translate(r.Context(), r.PathValue("word"))
	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	writeJSON(w, http.StatusOK, lookup)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	lookup, err := s.services.Translator.Analyze(r.Context(), r.PathValue("word"), r.URL.Query().Get("base"))
	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	writeJSON(w, http.StatusOK, lookup)
}

// handleSpeech answers 204 with a local source header when the enhanced voice
// is not wanted, and 503 with a local fallback when synthesis fails.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest

	err := decodeJSON(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	mode, err := speech.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if s.normalizer.PrepareForSpeech(req.Text) == "" {
		writeError(w, http.StatusBadRequest, speech.ErrEmptyText)

		return
	}

	if !s.services.Speech.UseEnhanced(req.Text, mode) {
		w.Header().Set(AudioSourceHeader, string(speech.SourceLocal))
		w.WriteHeader(http.StatusNoContent)

		return
	}

	wav, source, err := s.services.Speech.Synthesize(r.Context(), req.Text, req.Voice)
	if err != nil {
		if errors.Is(err, speech.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, err)

			return
		}

		s.log.Warn("Speech synthesis failed, client falls back to local voice: %v", err)
		w.Header().Set(AudioSourceHeader, string(speech.SourceLocal))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Fallback: fallbackLocal})

		return
	}

	w.Header().Set("Content-Type", contentTypeWAV)
	w.Header().Set(AudioSourceHeader, string(source))
	w.WriteHeader(http.StatusOK)

	_, writeErr := w.Write(wav)
	if writeErr != nil {
		s.log.Warn("Failed to write audio response: %v", writeErr)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Usage.Usage())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Cache.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	err := s.services.Cache.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Favorites.List(r.Context()))
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest

	err := decodeJSON(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	favorite, added, err := s.services.Favorites.Add(r.Context(), req.Word, req.Translation, req.SourceChapter)
	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}

	writeJSON(w, status, favorite)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	err := s.services.Favorites.Remove(r.Context(), r.PathValue("word"))
	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Progress.List(r.Context()))
}

func (s *Server) handleProgressSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Progress.Overall(r.Context()))
}

func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest

	err := decodeJSON(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	chapter, lesson := r.PathValue("chapter"), r.PathValue("lesson")

	var progress *learner.LessonProgress

	switch req.Section {
	case SectionTheory:
		progress, err = s.services.Progress.MarkTheoryCompleted(r.Context(), chapter, lesson)
	case SectionReading:
		progress, err = s.services.Progress.MarkReadingCompleted(r.Context(), chapter, lesson)
	case SectionExercises:
		progress, err = s.services.Progress.RecordExercises(r.Context(), chapter, lesson, req.Completed, req.Total)
	default:
		err = fmt.Errorf(errFmtUnknownField, errUnknownSection, req.Section)
	}

	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handlePronunciation(w http.ResponseWriter, r *http.Request) {
	if s.services.Pronunciation == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	parseErr := r.ParseMultipartForm(s.opts.MaxUploadBytes)
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf(errFmtInvalidBody, errInvalidBody, parseErr))

		return
	}

	file, header, err := r.FormFile(multipartAudio)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf(errFmtInvalidBody, errInvalidBody, err))

		return
	}
	defer file.Close()

	audio, readErr := io.ReadAll(file)
	if readErr != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf(errFmtInvalidBody, errInvalidBody, readErr))

		return
	}

	result, err := s.services.Pronunciation.Check(r.Context(), audio, header.Filename, r.FormValue(multipartTarget))
	if err != nil {
		writeError(w, statusFor(err), err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, translate.ErrEmptyWord),
		errors.Is(err, speech.ErrEmptyText),
		errors.Is(err, speech.ErrUnknownMode),
		errors.Is(err, learner.ErrEmptyWord),
		errors.Is(err, learner.ErrEmptyTranslation),
		errors.Is(err, learner.ErrInvalidLesson),
		errors.Is(err, learner.ErrInvalidExercises),
		errors.Is(err, transcribe.ErrEmptyTarget),
		errors.Is(err, transcribe.ErrEmptyAudio),
		errors.Is(err, errUnknownSection),
		errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))

	err := decoder.Decode(target)
	if err != nil {
		return fmt.Errorf(errFmtInvalidBody, errInvalidBody, err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Fallback: ""})
}

package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/kvstore"
)

const progressNamespace = "progress"

var (
	// ErrInvalidLesson indicates an empty chapter or lesson id.
	ErrInvalidLesson = errors.New("chapter and lesson ids cannot be empty")
	// ErrInvalidExercises indicates an impossible exercise count.
	ErrInvalidExercises = errors.New("exercise counts must satisfy 0 <= completed <= total")
)

// Status is a lesson's progress state.
type Status string

// Lesson states.
const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// LessonProgress is the learner's progress through one lesson.
type LessonProgress struct {
	LessonID             string     `json:"lessonId"`
	ChapterID            string     `json:"chapterId"`
	TheoryCompleted      bool       `json:"theoryCompleted"`
	TheoryCompletedAt    *time.Time `json:"theoryCompletedAt,omitempty"`
	ReadingCompleted     bool       `json:"readingCompleted"`
	ReadingCompletedAt   *time.Time `json:"readingCompletedAt,omitempty"`
	ExercisesCompleted   int        `json:"exercisesCompleted"`
	TotalExercises       int        `json:"totalExercises"`
	ExercisesCompletedAt *time.Time `json:"exercisesCompletedAt,omitempty"`
	Completed            bool       `json:"completed"`
	StartedAt            *time.Time `json:"startedAt,omitempty"`
	LastAccessedAt       time.Time  `json:"lastAccessedAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

// Status derives the lesson's state.
func (p *LessonProgress) Status() Status {
	switch {
	case p.Completed:
		return StatusCompleted
	case p.StartedAt != nil:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

// Summary aggregates progress over every tracked lesson.
type Summary struct {
	Lessons    int                       `json:"lessons"`
	Completed  int                       `json:"completed"`
	InProgress int                       `json:"inProgress"`
	NotStarted int                       `json:"notStarted"`
	Percent    int                       `json:"percent"`
	Chapters   map[string]ChapterSummary `json:"chapters"`
}

// ChapterSummary aggregates one chapter.
type ChapterSummary struct {
	Lessons   int  `json:"lessons"`
	Completed int  `json:"completed"`
	Finished  bool `json:"finished"`
}

// Tracker records lesson progress in a key-value store.
type Tracker struct {
	mu  sync.Mutex
	kv  core.KeyValueStore
	now func() time.Time
	log *logger.Logger
}

// NewTracker uses kv for storage. now may be nil.
func NewTracker(kv core.KeyValueStore, now func() time.Time, log *logger.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{kv: kv, now: now, log: log}
}

// MarkTheoryCompleted records that the lesson's theory section was finished.
func (t *Tracker) MarkTheoryCompleted(ctx context.Context, chapterID, lessonID string) (*LessonProgress, error) {
	return t.update(ctx, chapterID, lessonID, func(p *LessonProgress, now time.Time) error {
		if !p.TheoryCompleted {
			p.TheoryCompleted = true
			p.TheoryCompletedAt = &now
		}

		return nil
	})
}

// MarkReadingCompleted records that the lesson's reading section was finished.
func (t *Tracker) MarkReadingCompleted(ctx context.Context, chapterID, lessonID string) (*LessonProgress, error) {
	return t.update(ctx, chapterID, lessonID, func(p *LessonProgress, now time.Time) error {
		if !p.ReadingCompleted {
			p.ReadingCompleted = true
			p.ReadingCompletedAt = &now
		}

		return nil
	})
}

// RecordExercises stores how many of the lesson's exercises are done.
func (t *Tracker) RecordExercises(
	ctx context.Context,
	chapterID, lessonID string,
	completed, total int,
) (*LessonProgress, error) {
	if completed < 0 || total < 0 || completed > total {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidExercises, completed, total)
	}

	return t.update(ctx, chapterID, lessonID, func(p *LessonProgress, now time.Time) error {
		p.ExercisesCompleted = completed
		p.TotalExercises = total

		switch {
		case total > 0 && completed == total && p.ExercisesCompletedAt == nil:
			p.ExercisesCompletedAt = &now
		case completed < total:
			p.ExercisesCompletedAt = nil
		}

		return nil
	})
}

// Get returns the lesson's progress; an untracked lesson is not started.
// Storage failures also yield a not-started lesson.
func (t *Tracker) Get(ctx context.Context, chapterID, lessonID string) (*LessonProgress, error) {
	key, err := progressKey(chapterID, lessonID)
	if err != nil {
		return nil, err
	}

	progress, found, loadErr := t.load(ctx, key)
	if loadErr != nil {
		t.log.Warn("Progress for %s/%s unavailable: %v", chapterID, lessonID, loadErr)
	}

	if !found {
		return &LessonProgress{LessonID: lessonID, ChapterID: chapterID}, nil
	}

	return progress, nil
}

// List returns every tracked lesson ordered by chapter then lesson. Storage
// failures yield an empty list.
func (t *Tracker) List(ctx context.Context) []LessonProgress {
	keys, err := t.kv.Keys(ctx, progressNamespace+".")
	if err != nil {
		t.log.Warn("Progress list unavailable: %v", err)

		return []LessonProgress{}
	}

	lessons := make([]LessonProgress, 0, len(keys))

	for _, key := range keys {
		progress, found, loadErr := t.load(ctx, key)
		if loadErr != nil {
			t.log.Warn("Skipping progress entry %s: %v", key, loadErr)

			continue
		}

		if found {
			lessons = append(lessons, *progress)
		}
	}

	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].ChapterID != lessons[j].ChapterID {
			return lessons[i].ChapterID < lessons[j].ChapterID
		}

		return lessons[i].LessonID < lessons[j].LessonID
	})

	return lessons
}

// Overall summarizes every tracked lesson.
func (t *Tracker) Overall(ctx context.Context) Summary {
	summary := Summary{
		Lessons:    0,
		Completed:  0,
		InProgress: 0,
		NotStarted: 0,
		Percent:    0,
		Chapters:   make(map[string]ChapterSummary),
	}

	for _, lesson := range t.List(ctx) {
		summary.Lessons++

		chapter := summary.Chapters[lesson.ChapterID]
		chapter.Lessons++

		switch lesson.Status() {
		case StatusCompleted:
			summary.Completed++
			chapter.Completed++
		case StatusInProgress:
			summary.InProgress++
		case StatusNotStarted:
			summary.NotStarted++
		}

		chapter.Finished = chapter.Completed == chapter.Lessons
		summary.Chapters[lesson.ChapterID] = chapter
	}

	if summary.Lessons > 0 {
		summary.Percent = int(math.Round(float64(summary.Completed) * 100 / float64(summary.Lessons)))
	}

	return summary
}

func (t *Tracker) update(
	ctx context.Context,
	chapterID, lessonID string,
	mutate func(p *LessonProgress, now time.Time) error,
) (*LessonProgress, error) {
	key, err := progressKey(chapterID, lessonID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	progress, found, err := t.load(ctx, key)
	if err != nil {
		return nil, err
	}

	if !found {
		progress = &LessonProgress{LessonID: lessonID, ChapterID: chapterID}
	}

	now := t.now()

	mutateErr := mutate(progress, now)
	if mutateErr != nil {
		return nil, mutateErr
	}

	if progress.StartedAt == nil {
		progress.StartedAt = &now
	}

	progress.LastAccessedAt = now

	done := progress.TheoryCompleted && progress.ReadingCompleted &&
		progress.ExercisesCompleted >= progress.TotalExercises
	if done && !progress.Completed {
		progress.CompletedAt = &now
	}

	if !done {
		progress.CompletedAt = nil
	}

	progress.Completed = done

	raw, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}

	putErr := t.kv.Put(ctx, key, raw)
	if putErr != nil {
		return nil, fmt.Errorf("%w: save progress %s: %w", core.ErrStorage, key, putErr)
	}

	return progress, nil
}

func (t *Tracker) load(ctx context.Context, key string) (*LessonProgress, bool, error) {
	raw, err := t.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%w: load progress %s: %w", core.ErrStorage, key, err)
	}

	var progress LessonProgress

	unmarshalErr := json.Unmarshal(raw, &progress)
	if unmarshalErr != nil {
		return nil, false, fmt.Errorf("%w: decode progress %s: %w", core.ErrStorage, key, unmarshalErr)
	}

	return &progress, true, nil
}

func progressKey(chapterID, lessonID string) (string, error) {
	chapterID = strings.TrimSpace(chapterID)
	lessonID = strings.TrimSpace(lessonID)

	if chapterID == "" || lessonID == "" {
		return "", ErrInvalidLesson
	}

	return kvstore.Key(progressNamespace, kvstore.EncodeSegment(chapterID), kvstore.EncodeSegment(lessonID)), nil
}

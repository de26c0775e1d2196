// Package learner provides the learner's persistent state: favorite words
// and per-lesson progress.
package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// FavoritesKey is the key under which the favorites list is stored.
const FavoritesKey = "favorites"

var (
	// ErrEmptyWord indicates a favorite without a word.
	ErrEmptyWord = errors.New("favorite word cannot be empty")
	// ErrEmptyTranslation indicates a favorite without a translation.
	ErrEmptyTranslation = errors.New("favorite translation cannot be empty")
)

// FavoriteWord is a word the learner saved for review.
type FavoriteWord struct {
	ID            string    `json:"id"`
	Word          string    `json:"word"`
	Translation   string    `json:"translation"`
	SourceChapter string    `json:"sourceChapter,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
}

// Favorites keeps the favorites list in a key-value store.
type Favorites struct {
	mu  sync.Mutex
	kv  core.KeyValueStore
	now func() time.Time
	log *logger.Logger
}

// NewFavorites uses kv for storage. now may be nil.
func NewFavorites(kv core.KeyValueStore, now func() time.Time, log *logger.Logger) *Favorites {
	if now == nil {
		now = time.Now
	}

	return &Favorites{kv: kv, now: now, log: log}
}

// Add saves word unless it is already a favorite. It returns the stored entry
// and whether it was newly added.
func (f *Favorites) Add(ctx context.Context, word, translation, sourceChapter string) (*FavoriteWord, bool, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, false, ErrEmptyWord
	}

	translation = strings.TrimSpace(translation)
	if translation == "" {
		return nil, false, ErrEmptyTranslation
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx)
	if err != nil {
		return nil, false, err
	}

	for i := range list {
		if list[i].Word == word {
			return &list[i], false, nil
		}
	}

	favorite := FavoriteWord{
		ID:            uuid.NewString(),
		Word:          word,
		Translation:   translation,
		SourceChapter: sourceChapter,
		AddedAt:       f.now(),
	}

	err = f.save(ctx, append(list, favorite))
	if err != nil {
		return nil, false, err
	}

	return &favorite, true, nil
}

// Remove deletes word from the favorites. Removing an absent word is not an error.
func (f *Favorites) Remove(ctx context.Context, word string) error {
	word = strings.TrimSpace(word)

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx)
	if err != nil {
		return err
	}

	kept := make([]FavoriteWord, 0, len(list))

	for _, favorite := range list {
		if favorite.Word != word {
			kept = append(kept, favorite)
		}
	}

	if len(kept) == len(list) {
		return nil
	}

	return f.save(ctx, kept)
}

// List returns the favorites in the order they were added. A storage failure
// yields an empty list.
func (f *Favorites) List(ctx context.Context) []FavoriteWord {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx)
	if err != nil {
		f.log.Warn("Favorites unavailable: %v", err)

		return []FavoriteWord{}
	}

	return list
}

// Contains reports whether word is a favorite.
func (f *Favorites) Contains(ctx context.Context, word string) bool {
	word = strings.TrimSpace(word)

	for _, favorite := range f.List(ctx) {
		if favorite.Word == word {
			return true
		}
	}

	return false
}

func (f *Favorites) load(ctx context.Context) ([]FavoriteWord, error) {
	raw, err := f.kv.Get(ctx, FavoritesKey)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return []FavoriteWord{}, nil
		}

		return nil, fmt.Errorf("%w: load favorites: %w", core.ErrStorage, err)
	}

	var list []FavoriteWord

	unmarshalErr := json.Unmarshal(raw, &list)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: decode favorites: %w", core.ErrStorage, unmarshalErr)
	}

	if list == nil {
		list = []FavoriteWord{}
	}

	return list, nil
}

func (f *Favorites) save(ctx context.Context, list []FavoriteWord) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode favorites: %w", err)
	}

	putErr := f.kv.Put(ctx, FavoritesKey, raw)
	if putErr != nil {
		return fmt.Errorf("%w: save favorites: %w", core.ErrStorage, putErr)
	}

	return nil
}

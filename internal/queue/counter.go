package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/suomi-tutor/internal/core"
)

// DailyCounterKey is the key under which the daily request counter is persisted.
const DailyCounterKey = "quota.daily_requests"

// DailyCount is the persisted request counter for one calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// dateOf renders the local calendar date used to key the counter.
func dateOf(t time.Time) string {
	return t.Format(time.DateOnly)
}

// Effective returns the count that applies at now: a record from another day counts as zero.
func (d DailyCount) Effective(now time.Time) int {
	if d.Date != dateOf(now) {
		return 0
	}

	return d.Count
}

// increment returns the counter after one more request at now.
func (d DailyCount) increment(now time.Time) DailyCount {
	return DailyCount{Date: dateOf(now), Count: d.Effective(now) + 1}
}

// CounterStore persists the daily counter.
type CounterStore interface {
	Load(ctx context.Context) (DailyCount, error)
	Save(ctx context.Context, count DailyCount) error
}

// KVCounterStore keeps the daily counter as JSON in a key-value store.
type KVCounterStore struct {
	kv  core.KeyValueStore
	key string
}

// NewKVCounterStore stores the counter under DailyCounterKey.
func NewKVCounterStore(kv core.KeyValueStore) *KVCounterStore {
	return &KVCounterStore{kv: kv, key: DailyCounterKey}
}

// Load returns the stored counter, or a zero counter when none exists.
func (s *KVCounterStore) Load(ctx context.Context) (DailyCount, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return DailyCount{}, nil
		}

		return DailyCount{}, fmt.Errorf("%w: load daily counter: %w", core.ErrStorage, err)
	}

	var count DailyCount

	err = json.Unmarshal(raw, &count)
	if err != nil {
		return DailyCount{}, fmt.Errorf("%w: decode daily counter: %w", core.ErrStorage, err)
	}

	return count, nil
}

// Save writes the counter.
func (s *KVCounterStore) Save(ctx context.Context, count DailyCount) error {
	raw, err := json.Marshal(count)
	if err != nil {
		return fmt.Errorf("encode daily counter: %w", err)
	}

	err = s.kv.Put(ctx, s.key, raw)
	if err != nil {
		return fmt.Errorf("%w: save daily counter: %w", core.ErrStorage, err)
	}

	return nil
}

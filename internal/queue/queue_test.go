package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/kvstore"
	"github.com/book-expert/suomi-tutor/internal/queue"
)

var errUpstream = errors.New("upstream exploded")

// fakeClock advances its own time by the requested duration on every After.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	fired := make(chan time.Time, 1)
	fired <- c.now

	return fired
}

// failingCounters fails every operation.
type failingCounters struct{}

func (failingCounters) Load(context.Context) (queue.DailyCount, error) {
	return queue.DailyCount{}, core.ErrStorage
}

func (failingCounters) Save(context.Context, queue.DailyCount) error {
	return core.ErrStorage
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "queue-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func testStart() time.Time {
	return time.Date(2024, time.January, 2, 9, 0, 0, 0, time.Local)
}

func newTestQueue(
	t *testing.T,
	clock queue.Clock,
	counters queue.CounterStore,
	maxPerDay int,
) *queue.Queue {
	t.Helper()

	q, err := queue.New(context.Background(), counters, queue.Options{
		MaxPerMinute: 10,
		MaxPerDay:    maxPerDay,
		Cooldown:     3 * time.Second,
		SafetyMargin: 2 * time.Second,
		Clock:        clock,
		Meter:        nil,
	}, newTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(q.Close)

	return q
}

// dispatchOffsets enqueues n calls and returns when each was dispatched,
// relative to start, in the order the calls ran.
func dispatchOffsets(t *testing.T, q *queue.Queue, clock *fakeClock, start time.Time, n int) []time.Duration {
	t.Helper()

	var (
		mu      sync.Mutex
		offsets []time.Duration
	)

	tickets := make([]*queue.Ticket, 0, n)

	for range n {
		ticket, err := q.Enqueue(func(context.Context) (any, error) {
			mu.Lock()
			offsets = append(offsets, clock.Now().Sub(start))
			mu.Unlock()

			return nil, nil
		})
		require.NoError(t, err)

		tickets = append(tickets, ticket)
	}

	for _, ticket := range tickets {
		_, err := ticket.Wait(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()

	return offsets
}

func TestQueue_TwelveCallsThrottleAfterTen(t *testing.T) {
	t.Parallel()

	start := testStart()
	clock := newFakeClock(start)
	q := newTestQueue(t, clock, queue.NewKVCounterStore(kvstore.NewMemory()), 50)

	offsets := dispatchOffsets(t, q, clock, start, 12)

	expected := []time.Duration{
		0, 3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second,
		15 * time.Second, 18 * time.Second, 21 * time.Second, 24 * time.Second, 27 * time.Second,
		62 * time.Second, 65 * time.Second,
	}
	assert.Equal(t, expected, offsets)
}

func TestQueue_NoWindowExceedsPerMinuteCeiling(t *testing.T) {
	t.Parallel()

	start := testStart()
	clock := newFakeClock(start)
	q := newTestQueue(t, clock, queue.NewKVCounterStore(kvstore.NewMemory()), 100)

	offsets := dispatchOffsets(t, q, clock, start, 35)
	require.Len(t, offsets, 35)

	for i, from := range offsets {
		inWindow := 0

		for _, at := range offsets[i:] {
			if at-from < time.Minute {
				inWindow++
			}
		}

		assert.LessOrEqual(t, inWindow, 10, "window starting at %s", from)
	}
}

func TestQueue_ResultsSettleInFIFOOrder(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(testStart()), queue.NewKVCounterStore(kvstore.NewMemory()), 50)

	var (
		mu    sync.Mutex
		order []int
	)

	tickets := make([]*queue.Ticket, 0, 5)

	for i := range 5 {
		ticket, err := q.Enqueue(func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			return i * 10, nil
		})
		require.NoError(t, err)

		tickets = append(tickets, ticket)
	}

	for i, ticket := range tickets {
		result, err := ticket.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*10, result)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_DailyCeilingFailsFastWithoutCounting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	start := testStart()
	counters := queue.NewKVCounterStore(kvstore.NewMemory())
	require.NoError(t, counters.Save(ctx, queue.DailyCount{Date: "2024-01-02", Count: 50}))

	q := newTestQueue(t, newFakeClock(start), counters, 50)

	invoked := false
	_, err := q.Enqueue(func(context.Context) (any, error) {
		invoked = true

		return nil, nil
	})
	require.ErrorIs(t, err, core.ErrDailyQuotaExceeded)
	assert.False(t, invoked)

	stored, err := counters.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.DailyCount{Date: "2024-01-02", Count: 50}, stored)

	usage := q.Usage()
	assert.Equal(t, 50, usage.DailyUsed)
	assert.Equal(t, 0, usage.Remaining)
	assert.Equal(t, time.Date(2024, time.January, 3, 0, 0, 0, 0, time.Local), usage.ResetAt)
}

func TestQueue_NewDayResetsCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counters := queue.NewKVCounterStore(kvstore.NewMemory())
	require.NoError(t, counters.Save(ctx, queue.DailyCount{Date: "2024-01-01", Count: 50}))

	q := newTestQueue(t, newFakeClock(testStart()), counters, 50)

	result, err := queue.Do(ctx, q, func(context.Context) (string, error) {
		return "kiitos", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "kiitos", result)

	stored, err := counters.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.DailyCount{Date: "2024-01-02", Count: 1}, stored)
}

func TestQueue_DailyCeilingRecheckedAtDispatch(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(testStart()), queue.NewKVCounterStore(kvstore.NewMemory()), 2)

	release := make(chan struct{})
	first, err := q.Enqueue(func(context.Context) (any, error) {
		<-release

		return "first", nil
	})
	require.NoError(t, err)

	second, err := q.Enqueue(func(context.Context) (any, error) { return "second", nil })
	require.NoError(t, err)

	third, err := q.Enqueue(func(context.Context) (any, error) { return "third", nil })
	require.NoError(t, err)

	close(release)

	result, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", result)

	result, err = second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", result)

	_, err = third.Wait(context.Background())
	require.ErrorIs(t, err, core.ErrDailyQuotaExceeded)

	assert.Equal(t, 2, q.Usage().DailyUsed)
}

func TestQueue_CallErrorsDoNotStopDraining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(t, newFakeClock(testStart()), queue.NewKVCounterStore(kvstore.NewMemory()), 50)

	_, err := queue.Do(ctx, q, func(context.Context) ([]byte, error) {
		return nil, errUpstream
	})
	require.ErrorIs(t, err, errUpstream)

	data, err := queue.Do(ctx, q, func(context.Context) ([]byte, error) {
		return []byte("RIFF"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)
	assert.Equal(t, 2, q.Usage().DailyUsed, "failed calls still count")
}

func TestQueue_AbandonedWaitDoesNotCancelCall(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(testStart()), queue.NewKVCounterStore(kvstore.NewMemory()), 50)

	release := make(chan struct{})
	finished := make(chan struct{})

	ticket, err := q.Enqueue(func(context.Context) (any, error) {
		<-release
		close(finished)

		return "late", nil
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ticket.Wait(waitCtx)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-finished

	result, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", result)
}

func TestQueue_CloseSettlesPending(t *testing.T) {
	t.Parallel()

	q, err := queue.New(context.Background(), nil, queue.Options{
		MaxPerMinute: 10,
		MaxPerDay:    50,
		Cooldown:     time.Second,
		SafetyMargin: time.Second,
		Clock:        newFakeClock(testStart()),
		Meter:        nil,
	}, newTestLogger(t))
	require.NoError(t, err)

	started := make(chan struct{})
	inFlight, err := q.Enqueue(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	})
	require.NoError(t, err)

	waiting, err := q.Enqueue(func(context.Context) (any, error) { return "never", nil })
	require.NoError(t, err)

	<-started
	q.Close()

	_, err = inFlight.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	_, err = waiting.Wait(context.Background())
	require.ErrorIs(t, err, queue.ErrQueueClosed)

	_, err = q.Enqueue(func(context.Context) (any, error) { return nil, nil })
	require.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestQueue_CounterFailuresDegrade(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(testStart()), failingCounters{}, 50)
	assert.Equal(t, 0, q.Usage().DailyUsed)

	result, err := queue.Do(context.Background(), q, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, 1, q.Usage().DailyUsed)
}

func TestQueue_RejectsNilCall(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newFakeClock(testStart()), nil, 50)

	_, err := q.Enqueue(nil)
	require.ErrorIs(t, err, queue.ErrNilCall)
}

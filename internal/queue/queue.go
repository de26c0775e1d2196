// Package queue provides a FIFO request queue that keeps calls to a metered
// upstream API under a per-minute and a per-day ceiling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/book-expert/suomi-tutor/internal/core"
)

const (
	// DefaultMaxPerMinute is the per-minute dispatch ceiling.
	DefaultMaxPerMinute = 10
	// DefaultMaxPerDay is the per-day dispatch ceiling.
	DefaultMaxPerDay = 50
	// DefaultCooldown is the pause after every dispatch.
	DefaultCooldown = 3 * time.Second
	// DefaultSafetyMargin is added to every throttle suspension.
	DefaultSafetyMargin = 2 * time.Second

	window = time.Minute
)

var (
	// ErrQueueClosed is returned for calls enqueued after Close and for
	// calls still pending when the queue is closed.
	ErrQueueClosed = errors.New("request queue closed")
	// ErrNilCall indicates that Enqueue was given no callable.
	ErrNilCall = errors.New("call cannot be nil")
	// ErrUnexpectedResult indicates a settled value of the wrong type.
	ErrUnexpectedResult = errors.New("unexpected result type")
)

// Call is the unit of work dispatched upstream. The context ends when the
// queue is closed.
type Call func(ctx context.Context) (any, error)

// Options tunes the queue. Zero values take the package defaults.
type Options struct {
	MaxPerMinute int
	MaxPerDay    int
	Cooldown     time.Duration
	SafetyMargin time.Duration
	Clock        Clock
	Meter        metric.Meter
}

func (o Options) withDefaults() Options {
	if o.MaxPerMinute <= 0 {
		o.MaxPerMinute = DefaultMaxPerMinute
	}

	if o.MaxPerDay <= 0 {
		o.MaxPerDay = DefaultMaxPerDay
	}

	if o.Cooldown < 0 {
		o.Cooldown = 0
	} else if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}

	if o.SafetyMargin <= 0 {
		o.SafetyMargin = DefaultSafetyMargin
	}

	if o.Clock == nil {
		o.Clock = SystemClock{}
	}

	return o
}

// Usage reports the daily quota state.
type Usage struct {
	DailyUsed  int       `json:"dailyUsed"`
	DailyLimit int       `json:"dailyLimit"`
	Remaining  int       `json:"remaining"`
	Pending    int       `json:"pending"`
	ResetAt    time.Time `json:"resetAt"`
}

// Ticket is the completion handle of an enqueued call.
type Ticket struct {
	ID string

	call   Call
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the call settles or ctx ends. Abandoning the wait does
// not cancel the call.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the call has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

func (t *Ticket) settle(result any, err error) {
	t.result = result
	t.err = err
	close(t.done)
}

// Queue dispatches calls one at a time in FIFO order.
type Queue struct {
	opts     Options
	counters CounterStore
	log      *logger.Logger
	metrics  *queueMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []*Ticket
	recent   []time.Time
	daily    DailyCount
	draining bool
	closed   bool
}

// New builds a queue and loads the persisted daily counter. A counter that
// cannot be loaded is treated as zero. The queue lives until Close or until
// ctx ends.
func New(ctx context.Context, counters CounterStore, opts Options, log *logger.Logger) (*Queue, error) {
	opts = opts.withDefaults()

	metrics, err := newQueueMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue metrics: %w", err)
	}

	var daily DailyCount

	if counters != nil {
		loaded, loadErr := counters.Load(ctx)
		if loadErr != nil {
			log.Warn("Daily counter unavailable, starting from zero: %v", loadErr)
		} else {
			daily = loaded
		}
	}

	lifetime, cancel := context.WithCancel(ctx)

	return &Queue{
		opts:     opts,
		counters: counters,
		log:      log,
		metrics:  metrics,
		ctx:      lifetime,
		cancel:   cancel,
		daily:    daily,
	}, nil
}

// Enqueue appends call to the queue. It fails at once, without queueing or
// counting, when the daily ceiling has been reached.
func (q *Queue) Enqueue(call Call) (*Ticket, error) {
	if call == nil {
		return nil, ErrNilCall
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.metrics.recordRejection(reasonClosed)

		return nil, ErrQueueClosed
	}

	if q.daily.Effective(q.opts.Clock.Now()) >= q.opts.MaxPerDay {
		q.metrics.recordRejection(reasonDailyQuota)

		return nil, core.ErrDailyQuotaExceeded
	}

	ticket := &Ticket{
		ID:     uuid.NewString(),
		call:   call,
		done:   make(chan struct{}),
		result: nil,
		err:    nil,
	}
	q.pending = append(q.pending, ticket)

	if !q.draining {
		q.draining = true
		q.wg.Add(1)

		go q.drain()
	}

	return ticket, nil
}

// Do enqueues fn and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ticket, err := q.Enqueue(func(callCtx context.Context) (any, error) {
		return fn(callCtx)
	})
	if err != nil {
		return zero, err
	}

	result, err := ticket.Wait(ctx)
	if err != nil {
		return zero, err
	}

	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResult, result)
	}

	return typed, nil
}

// Usage returns the current daily usage.
func (q *Queue) Usage() Usage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Clock.Now()
	used := q.daily.Effective(now)
	year, month, day := now.Date()

	return Usage{
		DailyUsed:  used,
		DailyLimit: q.opts.MaxPerDay,
		Remaining:  max(q.opts.MaxPerDay-used, 0),
		Pending:    len(q.pending),
		ResetAt:    time.Date(year, month, day+1, 0, 0, 0, 0, now.Location()),
	}
}

// Close stops the drain loop and settles pending calls with ErrQueueClosed.
// It waits for an in-flight call to return.
func (q *Queue) Close() {
	q.cancel()
	q.shutdown()
	q.wg.Wait()
}

func (q *Queue) shutdown() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	abandoned := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, ticket := range abandoned {
		ticket.settle(nil, ErrQueueClosed)
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		if !q.hasPending() {
			return
		}

		if !q.waitForSlot() {
			q.shutdown()

			return
		}

		ticket, ok := q.dispatchHead()
		if !ok {
			return
		}

		if ticket == nil {
			continue
		}

		result, err := ticket.call(q.ctx)
		ticket.settle(result, err)

		if !q.sleep(q.opts.Cooldown) {
			q.shutdown()

			return
		}
	}
}

// hasPending clears the draining flag when there is nothing left to do.
func (q *Queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		q.draining = false

		return false
	}

	return true
}

// waitForSlot suspends until the trailing window has room. It returns false
// if the queue's lifetime ended while waiting.
func (q *Queue) waitForSlot() bool {
	for {
		wait := q.throttleDelay()
		if wait <= 0 {
			return true
		}

		q.log.Info("Per-minute limit reached, waiting %s before next request", wait)
		q.metrics.recordThrottle(wait)

		if !q.sleep(wait) {
			return false
		}
	}
}

func (q *Queue) throttleDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Clock.Now()
	q.pruneLocked(now)

	if len(q.recent) < q.opts.MaxPerMinute {
		return 0
	}

	oldest := q.recent[0]

	return window - now.Sub(oldest) + q.opts.SafetyMargin
}

func (q *Queue) pruneLocked(now time.Time) {
	keep := 0
	for keep < len(q.recent) && now.Sub(q.recent[keep]) >= window {
		keep++
	}

	q.recent = q.recent[keep:]
}

// dispatchHead pops the head ticket and records the dispatch. A nil ticket
// with ok set means the head was rejected for the daily ceiling.
func (q *Queue) dispatchHead() (*Ticket, bool) {
	q.mu.Lock()

	if q.closed || len(q.pending) == 0 {
		q.draining = false
		q.mu.Unlock()

		return nil, false
	}

	ticket := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	now := q.opts.Clock.Now()

	if q.daily.Effective(now) >= q.opts.MaxPerDay {
		q.mu.Unlock()
		q.metrics.recordRejection(reasonDailyQuota)
		ticket.settle(nil, core.ErrDailyQuotaExceeded)

		return nil, true
	}

	q.recent = append(q.recent, now)
	q.daily = q.daily.increment(now)
	snapshot := q.daily
	q.mu.Unlock()

	q.metrics.recordDispatch()
	q.persist(snapshot)

	return ticket, true
}

func (q *Queue) persist(count DailyCount) {
	if q.counters == nil {
		return
	}

	err := q.counters.Save(q.ctx, count)
	if err != nil {
		q.log.Warn("Failed to persist daily counter %d for %s: %v", count.Count, count.Date, err)
	}
}

func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}

	select {
	case <-q.ctx.Done():
		return false
	case <-q.opts.Clock.After(d):
		return true
	}
}

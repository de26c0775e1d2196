// Package worker provides a NATS worker that prefetches lesson audio into the
// audio cache.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
)

const handleMessageTimeout = 2 * time.Minute

var (
	// ErrTextKeyEmpty indicates an event that names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyText indicates a text object with nothing to speak.
	ErrEmptyText = errors.New("text object is empty")
	// ErrQuotaReserved indicates the remaining daily quota is held back for learners.
	ErrQuotaReserved = errors.New("daily quota reserved for learners")
)

// Synthesizer produces cached audio for lesson text.
type Synthesizer interface {
	Synthesize(ctx context.Context, content, voice string) ([]byte, speech.Source, error)
	CacheKey(content, voice string) string
}

// UsageReporter reports the shared request quota.
type UsageReporter interface {
	Usage() queue.Usage
}

// Option configures a NatsWorker.
type Option func(*NatsWorker)

// WithQuotaReserve stops prefetching once no more than reserve daily
// requests remain. A negative reserve disables the check.
func WithQuotaReserve(usage UsageReporter, reserve int) Option {
	return func(w *NatsWorker) {
		w.usage = usage
		w.reserve = reserve
	}
}

// NatsWorker listens for processed lesson text on a NATS subject and
// synthesizes it ahead of time.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	texts          core.ObjectStore
	synthesizer    Synthesizer
	usage          UsageReporter
	reserve        int
	log            *logger.Logger
}

// NewNatsWorker creates a worker that reads lesson text from texts.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	texts core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
	opts ...Option,
) (*NatsWorker, error) {
	worker := &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		synthesizer:    synthesizer,
		usage:          nil,
		reserve:        -1,
		log:            log,
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Audio prefetch worker subscribed to %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, source, processErr := w.prefetch(ctx, event)
	if errors.Is(processErr, ErrQuotaReserved) {
		w.log.Warn("Skipped prefetch for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	if processErr != nil {
		w.log.Error("Failed to prefetch audio for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	w.log.Info("Prefetched audio %s for workflow %s from %s", audioKey, event.Header.WorkflowID, source)

	replyEvent := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: event.Header.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     event.Header.UserID,
			TenantID:   event.Header.TenantID,
		},
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// prefetch downloads the lesson text and synthesizes it into the audio cache.
// The returned key addresses the audio in the cache.
func (w *NatsWorker) prefetch(ctx context.Context, event *events.TextProcessedEvent) (string, speech.Source, error) {
	if w.usage != nil && w.reserve >= 0 {
		remaining := w.usage.Usage().Remaining
		if remaining <= w.reserve {
			return "", "", fmt.Errorf("%w: %d remaining, %d reserved", ErrQuotaReserved, remaining, w.reserve)
		}
	}

	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(textData) == 0 {
		return "", "", fmt.Errorf("%w: '%s'", ErrEmptyText, event.TextKey)
	}

	content := string(textData)

	_, source, err := w.synthesizer.Synthesize(ctx, content, event.Voice)
	if err != nil {
		return "", "", fmt.Errorf("failed to synthesize text '%s': %w", event.TextKey, err)
	}

	return w.synthesizer.CacheKey(content, event.Voice), source, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}

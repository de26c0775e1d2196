package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Rejection reasons recorded on the rejected counter.
const (
	reasonDailyQuota = "daily_quota"
	reasonClosed     = "closed"
)

type queueMetrics struct {
	dispatched   metric.Int64Counter
	rejected     metric.Int64Counter
	throttleWait metric.Float64Histogram
}

func newQueueMetrics(meter metric.Meter) (*queueMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("queue")
	}

	dispatched, err := meter.Int64Counter(
		"genai.queue.dispatched",
		metric.WithDescription("Requests dispatched to the upstream API"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"genai.queue.rejected",
		metric.WithDescription("Requests rejected without dispatch"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	throttleWait, err := meter.Float64Histogram(
		"genai.queue.throttle_wait_ms",
		metric.WithDescription("Time the queue spent suspended by the per-minute ceiling"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &queueMetrics{
		dispatched:   dispatched,
		rejected:     rejected,
		throttleWait: throttleWait,
	}, nil
}

func (m *queueMetrics) recordDispatch() {
	m.dispatched.Add(context.Background(), 1)
}

func (m *queueMetrics) recordRejection(reason string) {
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *queueMetrics) recordThrottle(wait time.Duration) {
	m.throttleWait.Record(context.Background(), float64(wait.Milliseconds()))
}

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records push delivery counters. A nil *Metrics records nothing.
type Metrics struct {
	messages   metric.Int64Counter
	chunks     metric.Int64Counter
	pruned     metric.Int64Counter
	dispatches metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics registers the push instruments on meter. A nil meter yields nil metrics.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	messages, err := meter.Int64Counter("push_messages_total",
		metric.WithDescription("Push messages by gateway and ticket status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}
	chunks, err := meter.Int64Counter("push_chunks_total",
		metric.WithDescription("Provider batch requests by gateway and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create chunks counter: %w", err)
	}
	pruned, err := meter.Int64Counter("push_tokens_pruned_total",
		metric.WithDescription("Device tokens deleted after a permanent provider error"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pruned counter: %w", err)
	}
	dispatches, err := meter.Int64Counter("push_dispatches_total",
		metric.WithDescription("Completed dispatches by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatches counter: %w", err)
	}
	duration, err := meter.Float64Histogram("push_dispatch_duration_seconds",
		metric.WithDescription("Wall clock time of a dispatch including the receipt phase"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Metrics{
		messages:   messages,
		chunks:     chunks,
		pruned:     pruned,
		dispatches: dispatches,
		duration:   duration,
	}, nil
}

func (m *Metrics) RecordMessages(ctx context.Context, gateway, status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messages.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordChunk(ctx context.Context, gateway string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.chunks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("result", result),
	))
}

// RecordPruned counts a token deletion; phase is "ticket" or "receipt"
func (m *Metrics) RecordPruned(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.pruned.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func (m *Metrics) RecordDispatch(ctx context.Context, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.dispatches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

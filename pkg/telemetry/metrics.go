package telemetry

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	maxDetailSample = 256
)

var (
	attrOpName       = attribute.Key("client.op")
	attrUserID       = attribute.Key("session.user_id")
	attrOpDetail     = attribute.Key("client.detail")
	attrOpErr        = attribute.Key("client.op.error")
	attrMutationKind = attribute.Key("mutation.kind")
	attrMutationPost = attribute.Key("mutation.post_id")
	attrMutationErr  = attribute.Key("mutation.error")
)

type metrics struct {
	ops       metric.Int64Counter
	latency   metric.Float64Histogram
	errors    metric.Float64Histogram
	mutations metric.Int64Counter
}

// OpData captures the metadata recorded for each client operation.
type OpData struct {
	Op       string
	UserID   string
	Detail   string
	Duration time.Duration
	Error    error
}

// MutationData captures metrics related to optimistic feed mutations.
type MutationData struct {
	Kind   string
	PostID string
	Error  error
}

func newMetrics(m meterProvider) (*metrics, error) {
	if m == nil {
		return &metrics{}, nil
	}
	ops, err := m.Int64Counter("client.ops.total", metric.WithDescription("Total number of auth and feed operations issued by the client."))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("client.latency.ms", metric.WithDescription("Operation end-to-end latency in milliseconds."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	errorRate, err := m.Float64Histogram("client.errors.rate", metric.WithDescription("Per-operation error indicator (0 or 1)."), metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	mutations, err := m.Int64Counter("feed.mutations.total", metric.WithDescription("Total number of optimistic feed mutations."))
	if err != nil {
		return nil, err
	}
	return &metrics{
		ops:       ops,
		latency:   latency,
		errors:    errorRate,
		mutations: mutations,
	}, nil
}

func (m *metrics) RecordOp(ctx context.Context, data OpData) {
	if m == nil || m.ops == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 4)
	if data.Op != "" {
		attrs = append(attrs, attrOpName.String(data.Op))
	}
	if data.UserID != "" {
		attrs = append(attrs, attrUserID.String(data.UserID))
	}
	if detail := sanitizeSample(data.Detail); detail != "" {
		attrs = append(attrs, attrOpDetail.String(detail))
	}
	errFlag := data.Error != nil
	attrs = append(attrs, attrOpErr.Bool(errFlag))

	m.ops.Add(ctx, 1, metric.WithAttributes(attrs...))
	if data.Duration > 0 && m.latency != nil {
		m.latency.Record(ctx, float64(data.Duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if m.errors != nil {
		if errFlag {
			m.errors.Record(ctx, 1, metric.WithAttributes(attrs...))
		} else {
			m.errors.Record(ctx, 0, metric.WithAttributes(attrs...))
		}
	}
}

func (m *metrics) RecordMutation(ctx context.Context, data MutationData) {
	if m == nil || m.mutations == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attrMutationKind.String(strings.TrimSpace(data.Kind)),
		attrMutationErr.Bool(data.Error != nil),
	}
	if data.PostID != "" {
		attrs = append(attrs, attrMutationPost.String(data.PostID))
	}
	m.mutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func sanitizeSample(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if utf8.RuneCountInString(value) <= maxDetailSample {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxDetailSample])
}

// meterProvider is the subset of metric.Meter we rely on, which makes
// dependency injection straightforward in tests.
type meterProvider interface {
	Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(name string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}

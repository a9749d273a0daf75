package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
	RecordSearch(ctx context.Context, variant string, duration time.Duration, hits int, err error)
	RecordCacheLookup(ctx context.Context, hit bool)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordIngest(ctx context.Context, stored, duplicates int)
}

type PrometheusMetrics struct {
	httpDuration      metric.Float64Histogram
	httpRequestsTotal metric.Int64Counter

	searchDuration      metric.Float64Histogram
	searchRequestsTotal metric.Int64Counter
	searchErrorsTotal   metric.Int64Counter

	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	ingestRecordsTotal    metric.Int64Counter
	ingestDuplicatesTotal metric.Int64Counter
}

func NewPrometheusMetrics(
	httpDuration metric.Float64Histogram,
	httpRequestsTotal metric.Int64Counter,
	searchDuration metric.Float64Histogram,
	searchRequestsTotal metric.Int64Counter,
	searchErrorsTotal metric.Int64Counter,
	cacheHitsTotal metric.Int64Counter,
	cacheMissesTotal metric.Int64Counter,
	llmDuration metric.Float64Histogram,
	llmInputTokens metric.Int64Counter,
	llmOutputTokens metric.Int64Counter,
	llmErrorsTotal metric.Int64Counter,
	ingestRecordsTotal metric.Int64Counter,
	ingestDuplicatesTotal metric.Int64Counter,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		httpDuration:          httpDuration,
		httpRequestsTotal:     httpRequestsTotal,
		searchDuration:        searchDuration,
		searchRequestsTotal:   searchRequestsTotal,
		searchErrorsTotal:     searchErrorsTotal,
		cacheHitsTotal:        cacheHitsTotal,
		cacheMissesTotal:      cacheMissesTotal,
		llmDuration:           llmDuration,
		llmInputTokens:        llmInputTokens,
		llmOutputTokens:       llmOutputTokens,
		llmErrorsTotal:        llmErrorsTotal,
		ingestRecordsTotal:    ingestRecordsTotal,
		ingestDuplicatesTotal: ingestDuplicatesTotal,
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil || m.httpDuration == nil || m.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordSearch(ctx context.Context, variant string, duration time.Duration, hits int, err error) {
	if m == nil || m.searchDuration == nil || m.searchRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("variant", variant),
	}

	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.searchRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.searchErrorsTotal != nil {
		m.searchErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}

	if hit {
		if m.cacheHitsTotal != nil {
			m.cacheHitsTotal.Add(ctx, 1)
		}
		return
	}
	if m.cacheMissesTotal != nil {
		m.cacheMissesTotal.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordIngest(ctx context.Context, stored, duplicates int) {
	if m == nil {
		return
	}

	if stored > 0 && m.ingestRecordsTotal != nil {
		m.ingestRecordsTotal.Add(ctx, int64(stored))
	}
	if duplicates > 0 && m.ingestDuplicatesTotal != nil {
		m.ingestDuplicatesTotal.Add(ctx, int64(duplicates))
	}
}

// NoopMetrics discards every recording. Useful in tests and when
// metrics are disabled by configuration.
type NoopMetrics struct{}

func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration, _, _ int64) {
}
func (NoopMetrics) RecordSearch(_ context.Context, _ string, _ time.Duration, _ int, _ error) {}
func (NoopMetrics) RecordCacheLookup(_ context.Context, _ bool)                              {}
func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {
}
func (NoopMetrics) RecordIngest(_ context.Context, _, _ int) {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

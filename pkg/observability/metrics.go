package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("quarry")

	httpDuration, err := meter.Float64Histogram(
		"quarry_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"quarry_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		"quarry_search_duration_seconds",
		metric.WithDescription("Search pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	searchRequests, err := meter.Int64Counter(
		"quarry_search_requests_total",
		metric.WithDescription("Total search requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search requests counter: %w", err)
	}

	searchErrors, err := meter.Int64Counter(
		"quarry_search_errors_total",
		metric.WithDescription("Total search pipeline errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search errors counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"quarry_cache_hits_total",
		metric.WithDescription("Total search cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"quarry_cache_misses_total",
		metric.WithDescription("Total search cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"quarry_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"quarry_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"quarry_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"quarry_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	ingestRecords, err := meter.Int64Counter(
		"quarry_ingest_records_total",
		metric.WithDescription("Total records stored by ingestion"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest records counter: %w", err)
	}

	ingestDuplicates, err := meter.Int64Counter(
		"quarry_ingest_duplicates_total",
		metric.WithDescription("Total records skipped as duplicates"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest duplicates counter: %w", err)
	}

	return NewPrometheusMetrics(
		httpDuration,
		httpRequests,
		searchDuration,
		searchRequests,
		searchErrors,
		cacheHits,
		cacheMisses,
		llmDuration,
		llmInputTokens,
		llmOutputTokens,
		llmErrors,
		ingestRecords,
		ingestDuplicates,
	), nil
}

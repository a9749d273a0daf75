package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/observability"
)

// Gateway is the single path for LLM traffic. It caps in-flight calls with a
// weighted semaphore, retries failed calls, and sleeps after each success
// before releasing the slot so provider quotas are paced.
type Gateway struct {
	provider Provider
	model    string
	sem      *semaphore.Weighted
	attempts int
	sleep    time.Duration
	timeout  time.Duration
	counter  *TokenCounter
}

// NewGateway wraps a provider with the gateway envelope. A nil provider
// yields a disabled gateway whose Ask always returns ErrDisabled.
func NewGateway(provider Provider, cfg *config.LLMConfig) *Gateway {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	var counter *TokenCounter
	if provider != nil {
		var err error
		counter, err = NewTokenCounter(cfg.Model)
		if err != nil {
			slog.Warn("Token counter unavailable, using rough estimates", "error", err)
		}
	}

	return &Gateway{
		provider: provider,
		model:    cfg.Model,
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		attempts: attempts,
		sleep:    cfg.RateLimitSleep,
		timeout:  cfg.Timeout,
		counter:  counter,
	}
}

// Disabled reports whether the gateway has no provider behind it.
func (g *Gateway) Disabled() bool {
	return g == nil || g.provider == nil
}

// Ask sends one prompt through the gateway and returns the reply text.
//
// The call acquires a concurrency slot (aborting on context cancellation),
// then attempts generation up to max(1, retries) times with rate_limit_sleep
// between attempts. A successful call sleeps rate_limit_sleep before the
// slot is released.
func (g *Gateway) Ask(ctx context.Context, prompt string) (string, error) {
	if g.Disabled() {
		return "", ErrDisabled
	}

	tracer := observability.GetTracer("quarry.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, g.model),
			attribute.String("provider", g.provider.Name()),
		),
	)
	defer span.End()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return "", err
	}
	defer g.sem.Release(1)

	metrics := observability.GetGlobalMetrics()
	promptTokens := g.countTokens(prompt)

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		reply, duration, err := g.generate(ctx, prompt)
		if err == nil {
			replyTokens := g.countTokens(reply)
			if metrics != nil {
				metrics.RecordLLMCall(ctx, g.model, duration, promptTokens, replyTokens, nil)
			}
			span.SetAttributes(
				attribute.Int(observability.AttrLLMTokensInput, promptTokens),
				attribute.Int(observability.AttrLLMTokensOutput, replyTokens),
			)
			slog.Debug("LLM call complete",
				"provider", g.provider.Name(),
				"model", g.model,
				"duration", duration,
				"tokens_in", promptTokens,
				"tokens_out", replyTokens)

			// Pace the provider before freeing the slot. A cancellation here
			// does not invalidate the reply we already have.
			_ = sleepContext(ctx, g.sleep)
			return reply, nil
		}

		lastErr = err
		if metrics != nil {
			metrics.RecordLLMCall(ctx, g.model, duration, promptTokens, 0, err)
		}
		slog.Warn("LLM call failed",
			"provider", g.provider.Name(),
			"model", g.model,
			"attempt", attempt,
			"error", err)

		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			return "", ctx.Err()
		}
		if attempt < g.attempts {
			if serr := sleepContext(ctx, g.sleep); serr != nil {
				span.RecordError(serr)
				return "", serr
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", fmt.Errorf("llm call failed after %d attempts: %w", g.attempts, lastErr)
}

// Close releases the underlying provider.
func (g *Gateway) Close() error {
	if g == nil || g.provider == nil {
		return nil
	}
	return g.provider.Close()
}

// generate runs one attempt under the per-request timeout.
func (g *Gateway) generate(ctx context.Context, prompt string) (string, time.Duration, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := g.provider.Generate(ctx, prompt)
	return reply, time.Since(start), err
}

func (g *Gateway) countTokens(text string) int {
	if g.counter != nil {
		return g.counter.Count(text)
	}
	return EstimateTokens(text)
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

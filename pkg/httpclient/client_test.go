package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	client := New()

	if client.maxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5", client.maxRetries)
	}
	if client.baseDelay != 2*time.Second {
		t.Errorf("baseDelay = %v, want 2s", client.baseDelay)
	}
	if client.client.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", client.client.Timeout)
	}
	if client.strategyFunc == nil {
		t.Error("strategyFunc should default to DefaultRetryStrategy")
	}
}

func TestNew_Options(t *testing.T) {
	client := New(
		WithMaxRetries(2),
		WithBaseDelay(time.Second),
		WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		WithHeaderParser(ParseOpenAIHeaders),
		WithRetryStrategy(func(int) RetryStrategy { return NoRetry }),
	)

	if client.maxRetries != 2 {
		t.Errorf("maxRetries = %d, want 2", client.maxRetries)
	}
	if client.baseDelay != time.Second {
		t.Errorf("baseDelay = %v, want 1s", client.baseDelay)
	}
	if client.client.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", client.client.Timeout)
	}
	if client.headerParser == nil {
		t.Error("headerParser should be set")
	}
	if client.strategyFunc(500) != NoRetry {
		t.Error("strategyFunc should be the custom one")
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusOK, NoRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusNotFound, NoRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.statusCode); got != tt.expected {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.statusCode, got, tt.expected)
		}
	}
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDo_TerminalErrorReturnsResponse(t *testing.T) {
	// Non-retryable statuses come back with a nil error so callers can
	// read the provider's error payload from the body.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil for terminal status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDo_RetriesTransientServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ConservativeRetryCap(t *testing.T) {
	// Persistent server errors stop after two retries regardless of
	// the configured maximum.
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(5),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() error = nil, want RetryableError")
	}
	if resp != nil {
		t.Error("Do() response should be nil on exhaustion")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", retryErr.StatusCode)
	}
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if elapsed < time.Second {
		t.Errorf("waited %v, want at least the advertised 1s", elapsed)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL, nil)

	_, err := client.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDo_NetworkError(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: time.Millisecond}))
	req, _ := http.NewRequest("GET", "http://127.0.0.1:1", nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("Do() error = nil, want network error")
	}
	if resp != nil {
		t.Error("Do() response should be nil for network errors")
	}
}

func TestCalculateDelay(t *testing.T) {
	client := New(WithBaseDelay(time.Second))

	if d := client.calculateDelay(NoRetry, 0, RateLimitInfo{}); d != 0 {
		t.Errorf("NoRetry delay = %v, want 0", d)
	}
	if d := client.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 5 * time.Second}); d != 5*time.Second {
		t.Errorf("RetryAfter delay = %v, want 5s", d)
	}
	if d := client.calculateDelay(SmartRetry, 0, RateLimitInfo{}); d != time.Second+100*time.Millisecond {
		t.Errorf("exponential delay = %v, want 1.1s", d)
	}
	if d := client.calculateDelay(SmartRetry, 1, RateLimitInfo{}); d != 2*time.Second+200*time.Millisecond {
		t.Errorf("exponential delay attempt 1 = %v, want 2.2s", d)
	}
	if d := client.calculateDelay(ConservativeRetry, 0, RateLimitInfo{}); d != time.Second {
		t.Errorf("conservative delay = %v, want 1s", d)
	}
	if d := client.calculateDelay(ConservativeRetry, 1, RateLimitInfo{}); d != 2*time.Second {
		t.Errorf("conservative delay attempt 1 = %v, want 2s", d)
	}
	if d := client.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}); d != 0 {
		t.Errorf("conservative delay attempt 2 = %v, want 0", d)
	}

	reset := RateLimitInfo{ResetTime: time.Now().Add(3 * time.Second).Unix()}
	if d := client.calculateDelay(SmartRetry, 0, reset); d < 2*time.Second || d > 4*time.Second {
		t.Errorf("reset time delay = %v, want about 3s", d)
	}
}

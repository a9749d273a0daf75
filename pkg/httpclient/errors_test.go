package httpclient

import (
	"errors"
	"testing"
	"time"
)

func TestRetryableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RetryableError
		expected string
	}{
		{
			name: "with_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "retries exhausted after 6 attempts",
				RetryAfter: 30 * time.Second,
			},
			expected: "HTTP 429: retries exhausted after 6 attempts (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err: &RetryableError{
				StatusCode: 500,
				Message:    "retries exhausted after 3 attempts",
			},
			expected: "HTTP 500: retries exhausted after 3 attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	underlying := errors.New("HTTP 429")
	err := &RetryableError{StatusCode: 429, Err: underlying}

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}

	var retryErr *RetryableError
	if !errors.As(error(err), &retryErr) {
		t.Error("errors.As should extract RetryableError")
	}
	if retryErr.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", retryErr.StatusCode)
	}
}

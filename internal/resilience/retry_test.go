package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.CodeProfileStoreFailed, "conflict")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsRetries(t *testing.T) {
	calls := 0
	retryErr := status.Error(codes.Unavailable, "always fail")

	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return retryErr
	})

	if !errors.Is(err, retryErr) {
		t.Errorf("Retry() = %v, want %v", err, retryErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNonRetryableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return apperrors.New(apperrors.CodeInvalidArgument, "bad profile")
	})

	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("Retry() = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(10), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{status.Error(codes.Unavailable, "x"), true},
		{status.Error(codes.DeadlineExceeded, "x"), true},
		{status.Error(codes.InvalidArgument, "x"), false},
		{apperrors.New(apperrors.CodeDetectionFailed, "x"), true},
		{apperrors.New(apperrors.CodeNotFound, "x"), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, JitterFactor: 0}

	if d := backoffDelay(cfg, 0); d != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v", d)
	}
	if d := backoffDelay(cfg, 1); d != 200*time.Millisecond {
		t.Errorf("attempt 1 delay = %v", d)
	}
	if d := backoffDelay(cfg, 5); d != 300*time.Millisecond {
		t.Errorf("attempt 5 delay = %v, want capped 300ms", d)
	}
}

package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDoReturnsFirstSuccess(t *testing.T) {
	var calls int
	got, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("RetryDo = (%q, %v)", got, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryDoRetriesMarkedErrors(t *testing.T) {
	var calls int
	got, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(errors.New("transient"))
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("RetryDo = (%q, %v)", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDoStopsOnUnmarkedError(t *testing.T) {
	permanent := errors.New("bad request")
	var calls int
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, unmarked errors must not retry", calls)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", Retryable(errors.New("still down"))
	})
	if err == nil {
		t.Fatal("want error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want MaxAttempts", calls)
	}
}

func TestRetryDoHonorsContextBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}

	var calls int
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := RetryDo(ctx, cfg, func() (string, error) {
			calls++
			return "", Retryable(errors.New("transient"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RetryDo did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryableNilStaysNil(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) != nil")
	}
}

func TestRetryableUnwraps(t *testing.T) {
	base := errors.New("root")
	if !errors.Is(Retryable(base), base) {
		t.Error("wrapped error lost its chain")
	}
}

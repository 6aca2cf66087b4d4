package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

var errTransient = errors.New("transient")

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	retries := 0
	err := Retry(context.Background(), Policy{
		MaxRetries: 3,
		Base:       time.Millisecond,
		Cap:        time.Millisecond,
		Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
		OnRetry:    func(int, error) { retries++ },
	}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 2 || retries != 1 {
		t.Fatalf("calls=%d retries=%d, want 2 and 1", calls, retries)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{
		MaxRetries: 2,
		Base:       time.Millisecond,
		Cap:        time.Millisecond,
		Retryable:  func(error) bool { return true },
	}, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("Retry() error = %v, want transient", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), Policy{
		MaxRetries: 5,
		Base:       time.Millisecond,
		Cap:        time.Millisecond,
		Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want permanent after 1 call", err, calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{
		MaxRetries: 10,
		Base:       time.Hour,
		Cap:        time.Hour,
		Retryable:  func(error) bool { return true },
		OnRetry:    func(int, error) { cancel() },
	}, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want transient after 1 call", err, calls)
	}
}

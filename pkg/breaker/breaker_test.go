package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error    { return errBoom }
func succeeding(context.Context) error { return nil }

func newTestBreaker(reset time.Duration) *Breaker {
	return New(Config{
		Timeout:               time.Second,
		ErrorThresholdPercent: 50,
		ResetTimeout:          reset,
		Window:                time.Minute,
		MinRequests:           3,
	})
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Do(ctx, succeeding)
	}
	_ = b.Do(ctx, failing)

	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, failing); err != errBoom {
			t.Fatalf("expected boom, got %v", err)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %v", got)
	}
	if err := b.Do(ctx, succeeding); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreakerRespectsMinRequests(t *testing.T) {
	b := newTestBreaker(time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, failing)

	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed under min requests, got %v", got)
	}
}

func TestBreakerHalfOpenProbeSuccess(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, failing)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("probe should pass through: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after probe, got %v", got)
	}
}

func TestBreakerHalfOpenProbeFailure(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, failing)
	}
	time.Sleep(30 * time.Millisecond)

	if err := b.Do(ctx, failing); err != errBoom {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected reopened, got %v", got)
	}
	if err := b.Do(ctx, succeeding); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreakerCallTimeout(t *testing.T) {
	b := New(Config{Timeout: 20 * time.Millisecond})
	err := b.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

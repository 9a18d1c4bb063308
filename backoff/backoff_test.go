package backoff_test

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/xraph/atelier/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(100); got != 10*time.Second {
		t.Errorf("Delay(100) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_ClampsAttemptFloor(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Minute)
	if got := e.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := e.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, time.Second)
	}
}

// The delay sequence must be non-decreasing and never exceed the cap, for
// any number of consecutive failures and any initial/max combination.
func TestExponential_SequenceMonotoneAndCapped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(10*time.Second)).Draw(t, "initial"))
		maxDelay := initial + time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "extra"))
		attempts := rapid.IntRange(1, 64).Draw(t, "attempts")

		e := backoff.NewExponential(initial, maxDelay)
		prev := time.Duration(0)
		for attempt := 1; attempt <= attempts; attempt++ {
			d := e.Delay(attempt)
			if d < prev {
				t.Fatalf("Delay(%d) = %v, below previous %v", attempt, d, prev)
			}
			if d > maxDelay {
				t.Fatalf("Delay(%d) = %v, above cap %v", attempt, d, maxDelay)
			}
			prev = d
		}
	})
}

func TestExponentialWithJitter_StaysWithinEnvelope(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 20; attempt++ {
		d := e.Delay(attempt)
		if d < 0 || d > 8*time.Second {
			t.Errorf("Delay(%d) = %v, outside [0, 8s]", attempt, d)
		}
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := backoff.Sleep(ctx, time.Minute); err != context.Canceled {
		t.Errorf("Sleep on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestSleep_ZeroDelayReturnsImmediately(t *testing.T) {
	start := time.Now()
	if err := backoff.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Sleep(0) took %v, want immediate return", elapsed)
	}
}

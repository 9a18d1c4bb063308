package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/backoff"
	"github.com/xraph/atelier/retry"
)

func fastInvoker(opts ...retry.Option) *retry.Invoker {
	base := []retry.Option{
		retry.WithStrategy(backoff.NewConstant(time.Millisecond)),
	}
	return retry.New(append(base, opts...)...)
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	inv := fastInvoker()
	calls := 0
	err := inv.Do(context.Background(), "submit", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	inv := fastInvoker(retry.WithRetries(3))
	calls := 0
	err := inv.Do(context.Background(), "submit", func(context.Context) error {
		calls++
		if calls < 3 {
			return atelier.Errorf(atelier.KindConnection, "submit", "refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	lastErr := atelier.Errorf(atelier.KindConnection, "submit", "refused on attempt 3")
	inv := fastInvoker(retry.WithRetries(2))
	calls := 0
	err := inv.Do(context.Background(), "submit", func(context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return atelier.Errorf(atelier.KindConnection, "submit", "earlier failure")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Do = %v, want the last error's identity preserved", err)
	}
}

func TestDo_ValidationNeverRetries(t *testing.T) {
	inv := fastInvoker(retry.WithRetries(5))
	calls := 0
	err := inv.Do(context.Background(), "submit", func(context.Context) error {
		calls++
		return atelier.Errorf(atelier.KindValidation, "submit", "malformed graph")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (validation is structural)", calls)
	}
	if atelier.KindOf(err) != atelier.KindValidation {
		t.Errorf("kind = %v, want validation", atelier.KindOf(err))
	}
}

func TestDo_CancelledContextFailsFast(t *testing.T) {
	inv := fastInvoker(retry.WithRetries(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := inv.Do(ctx, "submit", func(context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (cancelled before first attempt)", calls)
	}
	if !errors.Is(err, atelier.ErrRequestCancelled) {
		t.Errorf("Do = %v, want ErrRequestCancelled", err)
	}
}

func TestDo_CancellationMidRetryStopsAttempts(t *testing.T) {
	inv := fastInvoker(retry.WithRetries(5))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := inv.Do(ctx, "submit", func(context.Context) error {
		calls++
		cancel()
		return atelier.Errorf(atelier.KindConnection, "submit", "refused")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries after cancellation)", calls)
	}
	if !errors.Is(err, atelier.ErrRequestCancelled) {
		t.Errorf("Do = %v, want ErrRequestCancelled", err)
	}
}

func TestDo_DestroyedFailsFast(t *testing.T) {
	inv := fastInvoker(
		retry.WithRetries(5),
		retry.WithDestroyed(func() bool { return true }),
	)
	calls := 0
	err := inv.Do(context.Background(), "submit", func(context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (destroyed before first attempt)", calls)
	}
	if !errors.Is(err, atelier.ErrClientDestroyed) {
		t.Errorf("Do = %v, want ErrClientDestroyed", err)
	}
}

func TestDoValue_ReturnsValue(t *testing.T) {
	inv := fastInvoker(retry.WithRetries(2))
	calls := 0
	got, err := retry.DoValue(context.Background(), inv, "submit", func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", atelier.Errorf(atelier.KindTimeout, "submit", "slow")
		}
		return "job-42", nil
	})
	if err != nil {
		t.Fatalf("DoValue = %v, want nil", err)
	}
	if got != "job-42" {
		t.Errorf("value = %q, want job-42", got)
	}
}

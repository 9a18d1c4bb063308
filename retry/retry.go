// Package retry provides the bounded-retry invoker used for submission-time
// calls (submit job, upload asset). Polling has its own error budgets and
// does not go through this package.
package retry

import (
	"context"
	"log/slog"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/backoff"
)

// Invoker retries an operation with exponential backoff. The zero value is
// not usable; construct with New.
type Invoker struct {
	retries   int
	strategy  backoff.Strategy
	destroyed func() bool
	logger    *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRetries sets the number of additional attempts after the first failure.
func WithRetries(n int) Option {
	return func(inv *Invoker) { inv.retries = n }
}

// WithStrategy sets the backoff strategy between attempts.
func WithStrategy(s backoff.Strategy) Option {
	return func(inv *Invoker) { inv.strategy = s }
}

// WithDestroyed sets the teardown probe checked before every attempt.
func WithDestroyed(fn func() bool) Option {
	return func(inv *Invoker) { inv.destroyed = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// New creates an Invoker. Defaults: 3 retries, exponential 500ms→10s backoff.
func New(opts ...Option) *Invoker {
	inv := &Invoker{
		retries:  3,
		strategy: backoff.DefaultSubmit(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Do runs fn, retrying on retryable failures up to the configured budget.
//
// Before every attempt it fails fast when the client has been destroyed
// (ErrClientDestroyed) or the context has fired (ErrRequestCancelled);
// neither consumes the retry budget. Validation failures never retry. On
// exhaustion the last error is returned unchanged so callers keep the full
// diagnostic identity.
func (inv *Invoker) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= inv.retries; attempt++ {
		if inv.destroyed != nil && inv.destroyed() {
			return atelier.E(atelier.KindDestroyed, op, "client destroyed", atelier.ErrClientDestroyed)
		}
		if ctx.Err() != nil {
			return atelier.E(atelier.KindCancelled, op, "cancelled before attempt", ctx.Err())
		}

		if attempt > 0 {
			delay := inv.strategy.Delay(attempt)
			inv.logger.Info("retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Int("max_retries", inv.retries),
				slog.Duration("delay", delay),
			)
			if err := backoff.Sleep(ctx, delay); err != nil {
				return atelier.E(atelier.KindCancelled, op, "cancelled during backoff", err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !atelier.Retryable(err) {
			return err
		}
		lastErr = err
		inv.logger.Warn("attempt failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, inv *Invoker, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := inv.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

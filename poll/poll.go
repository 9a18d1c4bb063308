// Package poll drives the wait-for-completion loop against the server's
// status endpoint. It owns the backoff between failed polls, the consecutive
// and total error budgets, the wall-clock deadline, and cooperative
// cancellation. Exactly one of Completed, Failed, or TimedOut terminates a
// wait; no state is re-entered.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/backoff"
)

// Outcome is the terminal state of a wait.
type Outcome string

const (
	// OutcomeCompleted means the server reported the job finished.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means an error budget was exhausted or the job failed
	// server-side.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut means the wall-clock maximum wait elapsed.
	OutcomeTimedOut Outcome = "timed_out"
)

// Status is one poll's view of the job.
type Status struct {
	Completed bool
	Failed    bool
	Message   string
	Outputs   map[string]json.RawMessage
}

// FetchFunc issues one status fetch.
type FetchFunc func(ctx context.Context) (*Status, error)

// Result is the terminal outcome of a wait. Err is set for OutcomeFailed and
// OutcomeTimedOut.
type Result struct {
	Outcome Outcome
	Outputs map[string]json.RawMessage
	Err     error
}

// Executor runs the polling loop. Construct with New.
type Executor struct {
	interval         time.Duration
	strategy         backoff.Strategy
	consecutiveLimit int
	totalLimit       int
	maxWait          time.Duration
	destroyed        func() bool
	logger           *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithInterval sets the sleep between healthy polls. No backoff applies
// while the server answers.
func WithInterval(d time.Duration) Option {
	return func(e *Executor) { e.interval = d }
}

// WithBackoff sets the delay strategy between failed polls.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Executor) { e.strategy = s }
}

// WithErrorBudgets sets the consecutive and total poll-failure limits.
// The total limit exists because a healing server keeps resetting the
// consecutive counter; without it retries would be unbounded.
func WithErrorBudgets(consecutive, total int) Option {
	return func(e *Executor) {
		e.consecutiveLimit = consecutive
		e.totalLimit = total
	}
}

// WithMaxWait bounds the whole loop in wall-clock time.
func WithMaxWait(d time.Duration) Option {
	return func(e *Executor) { e.maxWait = d }
}

// WithDestroyed sets the teardown probe checked at the top of every
// iteration.
func WithDestroyed(fn func() bool) Option {
	return func(e *Executor) { e.destroyed = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor. Defaults: 1s interval, 1s→30s error backoff,
// budgets of 3 consecutive and 10 total errors, 10m maximum wait.
func New(opts ...Option) *Executor {
	e := &Executor{
		interval:         time.Second,
		strategy:         backoff.DefaultPoll(),
		consecutiveLimit: 3,
		totalLimit:       10,
		maxWait:          10 * time.Minute,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait polls until the job reaches a terminal outcome. The returned error is
// non-nil only for cooperative termination: client teardown or context
// cancellation. Every other ending, including exhausted error budgets and
// the wall-clock deadline, is reported inside the Result.
func (e *Executor) Wait(ctx context.Context, jobID string, fetch FetchFunc) (*Result, error) {
	start := time.Now()
	consecutive, total := 0, 0

	e.logger.Debug("polling started",
		slog.String("job_id", jobID),
		slog.Duration("interval", e.interval),
		slog.Duration("max_wait", e.maxWait),
	)

	for {
		if e.destroyed != nil && e.destroyed() {
			return nil, atelier.Errorf(atelier.KindDestroyed, "poll",
				"client destroyed while waiting for job %s", jobID)
		}
		if ctx.Err() != nil {
			return nil, atelier.E(atelier.KindCancelled, "poll",
				"wait for job "+jobID+" cancelled", ctx.Err())
		}
		if e.maxWait > 0 && time.Since(start) >= e.maxWait {
			return &Result{
				Outcome: OutcomeTimedOut,
				Err: atelier.Errorf(atelier.KindTimeout, "poll",
					"job %s did not complete within %s", jobID, e.maxWait),
			}, nil
		}

		st, err := fetch(ctx)
		if err != nil {
			if !atelier.Retryable(err) {
				return nil, err
			}
			consecutive++
			total++
			e.logger.Warn("poll failed",
				slog.String("job_id", jobID),
				slog.Int("consecutive", consecutive),
				slog.Int("total", total),
				slog.String("error", err.Error()),
			)
			if consecutive >= e.consecutiveLimit {
				return &Result{
					Outcome: OutcomeFailed,
					Err: atelier.E(atelier.KindExecution, "poll",
						fmt.Sprintf("aborting after %d consecutive errors polling job %s", consecutive, jobID), err),
				}, nil
			}
			if total >= e.totalLimit {
				return &Result{
					Outcome: OutcomeFailed,
					Err: atelier.E(atelier.KindExecution, "poll",
						fmt.Sprintf("aborting after %d total errors polling job %s", total, jobID), err),
				}, nil
			}
			if sleepErr := backoff.Sleep(ctx, e.strategy.Delay(consecutive)); sleepErr != nil {
				return nil, atelier.E(atelier.KindCancelled, "poll",
					"wait for job "+jobID+" cancelled", sleepErr)
			}
			continue
		}

		consecutive = 0

		if st.Failed {
			msg := st.Message
			if msg == "" {
				msg = "job " + jobID + " failed on the server"
			}
			return &Result{
				Outcome: OutcomeFailed,
				Err:     atelier.Errorf(atelier.KindExecution, "poll", "%s", msg),
			}, nil
		}
		if st.Completed {
			e.logger.Info("job completed",
				slog.String("job_id", jobID),
				slog.Duration("elapsed", time.Since(start)),
			)
			return &Result{Outcome: OutcomeCompleted, Outputs: st.Outputs}, nil
		}

		if sleepErr := backoff.Sleep(ctx, e.interval); sleepErr != nil {
			return nil, atelier.E(atelier.KindCancelled, "poll",
				"wait for job "+jobID+" cancelled", sleepErr)
		}
	}
}

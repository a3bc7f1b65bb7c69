// Package poll drives an asynchronous vendor task to a terminal state with a
// fixed interval and a wall-clock budget.
package poll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// State is what a classifier makes of one status fetch.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
	Canceled
	Rejected
	// TimedOut is produced by the loop itself, never by a classifier.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the loop stops on this state.
func (s State) Terminal() bool { return s != Pending }

// Policy is a vendor's polling cadence.
type Policy struct {
	// Interval separates two status fetches.
	Interval time.Duration
	// InitialDelay is waited once before the first fetch, giving the vendor
	// time to register a freshly submitted task.
	InitialDelay time.Duration
	// RetryDelay is waited after a retryable fetch error.
	RetryDelay time.Duration
	// Timeout bounds the whole loop, initial delay included.
	Timeout time.Duration
}

// Options configures one run of the loop.
type Options struct {
	Policy Policy
	Clock  Clock
	Logger *zap.Logger
	// Retryable decides whether a fetch error is transient. Nil means no
	// error is retried.
	Retryable func(error) bool
	// OnPoll is invoked after every successful status fetch.
	OnPoll func(attempt int, state State)
}

// Result is the final observation of the loop.
type Result[T any] struct {
	State    State
	Value    T
	Attempts int
	// LastErr is the most recent retried fetch error, if any.
	LastErr error
}

// Fetcher performs one synchronous status fetch.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Classifier maps a fetched value to a State. A non-nil error aborts the loop
// immediately; it is how unknown vendor statuses surface.
type Classifier[T any] func(T) (State, error)

// Run polls until classify returns a terminal state or the policy's timeout
// elapses. Timeout is reported as State TimedOut with a nil error. Errors are
// returned only for non-retryable fetch failures, classifier errors and
// context cancellation.
func Run[T any](ctx context.Context, opts Options, fetch Fetcher[T], classify Classifier[T]) (Result[T], error) {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := opts.Policy

	var res Result[T]
	deadline := clock.Now().Add(p.Timeout)

	if p.InitialDelay > 0 {
		if err := clock.Sleep(ctx, p.InitialDelay); err != nil {
			return res, err
		}
	}

	for {
		v, err := fetch(ctx)
		res.Attempts++
		if err != nil {
			if opts.Retryable == nil || !opts.Retryable(err) {
				return res, err
			}
			res.LastErr = err
			logger.Warn("status fetch failed, retrying",
				zap.Int("attempt", res.Attempts),
				zap.Duration("retry_in", p.RetryDelay),
				zap.Error(err))
			if clock.Now().Add(p.RetryDelay).After(deadline) {
				res.State = TimedOut
				return res, nil
			}
			if err := clock.Sleep(ctx, p.RetryDelay); err != nil {
				return res, err
			}
			continue
		}

		res.Value = v
		state, err := classify(v)
		if opts.OnPoll != nil {
			opts.OnPoll(res.Attempts, state)
		}
		if err != nil {
			return res, err
		}
		logger.Debug("status fetched", zap.Int("attempt", res.Attempts), zap.Stringer("state", state))
		if state.Terminal() {
			res.State = state
			return res, nil
		}

		if clock.Now().Add(p.Interval).After(deadline) {
			res.State = TimedOut
			return res, nil
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return res, err
		}
	}
}

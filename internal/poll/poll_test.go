package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errTransient = errors.New("connection reset")

// sequence returns a fetcher that yields the given statuses in order and then
// repeats the last one.
func sequence(statuses ...string) (Fetcher[string], *int) {
	calls := 0
	return func(ctx context.Context) (string, error) {
		i := calls
		calls++
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		return statuses[i], nil
	}, &calls
}

func classifyWords(s string) (State, error) {
	switch s {
	case "queued", "running":
		return Pending, nil
	case "succeeded":
		return Succeeded, nil
	case "failed":
		return Failed, nil
	case "canceled":
		return Canceled, nil
	case "rejected":
		return Rejected, nil
	}
	return Pending, errors.New("unknown status " + s)
}

func testOptions(t *testing.T, clock Clock) Options {
	return Options{
		Policy: Policy{
			Interval:   5 * time.Second,
			RetryDelay: 5 * time.Second,
			Timeout:    600 * time.Second,
		},
		Clock:     clock,
		Logger:    zaptest.NewLogger(t),
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestRun_SucceedsOnTerminalPoll(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch, calls := sequence("queued", "running", "running", "succeeded")

	var progress []int
	opts := testOptions(t, clock)
	opts.OnPoll = func(attempt int, _ State) { progress = append(progress, attempt) }

	res, err := Run(context.Background(), opts, fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, "succeeded", res.Value)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Len(t, clock.Slept(), 3)
}

func TestRun_FailedEndsSameCycle(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch, calls := sequence("failed", "succeeded")

	res, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, clock.Slept())
}

func TestRun_TimesOutWithoutError(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch, calls := sequence("running")

	res, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.State)
	// Polls at t=0,5,...,600.
	assert.Equal(t, 121, *calls)
	assert.False(t, clock.Now().After(time.Unix(600, 0)))
}

func TestRun_UnknownStatusAbortsImmediately(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch, calls := sequence("queued", "bogus", "succeeded")

	_, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Equal(t, 2, *calls)
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errTransient
		}
		return "succeeded", nil
	}

	res, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.LastErr, errTransient)
}

func TestRun_TransientErrorsUntilTimeout(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch := func(ctx context.Context) (string, error) { return "", errTransient }

	res, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.State)
	assert.ErrorIs(t, res.LastErr, errTransient)
}

func TestRun_NonRetryableErrorSurfaces(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	boom := errors.New("403 forbidden")
	fetch := func(ctx context.Context) (string, error) { return "", boom }

	res, err := Run(context.Background(), testOptions(t, clock), fetch, classifyWords)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_InitialDelay(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fetch, _ := sequence("succeeded")

	opts := testOptions(t, clock)
	opts.Policy.InitialDelay = 20 * time.Second

	res, err := Run(context.Background(), opts, fetch, classifyWords)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, []time.Duration{20 * time.Second}, clock.Slept())
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clock := NewManualClock(time.Unix(0, 0))
	fetch, _ := sequence("running")

	_, err := Run(ctx, testOptions(t, clock), fetch, classifyWords)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Pending, "pending"},
		{Succeeded, "succeeded"},
		{TimedOut, "timed out"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

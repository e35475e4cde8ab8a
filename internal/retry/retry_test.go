package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func noSleep(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	})
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	var delays []time.Duration
	stages := []Stage[string]{{
		Name:   "primary",
		Policy: Policy{MaxAttempts: 3, Backoff: Backoff{Initial: time.Second, Multiplier: 2}},
		Attempt: func(ctx context.Context, n int) (string, error) {
			calls++
			if n < 3 {
				return "", errFlaky
			}
			return "ok", nil
		},
	}}

	res, err := Run(context.Background(), stages, noSleep(&delays))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, "primary", res.Stage)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRun_FallsBackAfterBudget(t *testing.T) {
	stages := []Stage[int]{
		{
			Name:    "primary",
			Policy:  Policy{MaxAttempts: 2},
			Attempt: func(ctx context.Context, n int) (int, error) { return 0, errFlaky },
		},
		{
			Name:    "secondary",
			Policy:  Policy{MaxAttempts: 2},
			Attempt: func(ctx context.Context, n int) (int, error) { return 42, nil },
		},
	}

	res, err := Run(context.Background(), stages, noSleep(nil))
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, "secondary", res.Stage)
	assert.Equal(t, 3, res.Attempts)
}

func TestRun_PermanentSkipsRemainingAttempts(t *testing.T) {
	primaryCalls := 0
	stages := []Stage[int]{
		{
			Name:   "primary",
			Policy: Policy{MaxAttempts: 5},
			Attempt: func(ctx context.Context, n int) (int, error) {
				primaryCalls++
				return 0, Permanent(errors.New("bad request"))
			},
		},
		{
			Name:    "secondary",
			Policy:  Policy{MaxAttempts: 1},
			Attempt: func(ctx context.Context, n int) (int, error) { return 1, nil },
		},
	}

	res, err := Run(context.Background(), stages, noSleep(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, primaryCalls)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_ReadySkipsStage(t *testing.T) {
	errQuota := errors.New("quota reserve reached")
	called := false
	stages := []Stage[int]{
		{
			Name:   "primary",
			Ready:  func(ctx context.Context) error { return errQuota },
			Policy: Policy{MaxAttempts: 2},
			Attempt: func(ctx context.Context, n int) (int, error) {
				called = true
				return 0, nil
			},
		},
		{
			Name:    "secondary",
			Attempt: func(ctx context.Context, n int) (int, error) { return 7, nil },
		},
	}

	res, err := Run(context.Background(), stages, noSleep(nil))
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "secondary", res.Stage)
	require.Len(t, res.Records, 2)
	assert.True(t, res.Records[0].Skipped)
}

func TestRun_Exhausted(t *testing.T) {
	stages := []Stage[int]{{
		Name:    "only",
		Policy:  Policy{MaxAttempts: 3},
		Attempt: func(ctx context.Context, n int) (int, error) { return 0, errFlaky },
	}}

	res, err := Run(context.Background(), stages, noSleep(nil))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, res.Attempts)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage[int]{{
		Name:   "only",
		Policy: Policy{MaxAttempts: 3},
		Attempt: func(ctx context.Context, n int) (int, error) {
			cancel()
			return 0, errFlaky
		},
	}}

	res, err := Run(ctx, stages, noSleep(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 4*time.Second, b.Delay(4))
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(1))
}

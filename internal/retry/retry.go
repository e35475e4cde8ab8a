// Package retry runs an ordered list of stages, retrying each one on transient
// failure before moving to the next.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExhausted is returned when every stage failed or was skipped.
	ErrExhausted = errors.New("all attempts exhausted")
	// ErrNoStages is returned when Run is called without stages.
	ErrNoStages = errors.New("no stages configured")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the current stage is abandoned without further retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy bounds the attempts spent on one stage.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Stage is one candidate in priority order. Ready, when set, is consulted
// before the first attempt; an error skips the stage.
type Stage[T any] struct {
	Name    string
	Policy  Policy
	Ready   func(ctx context.Context) error
	Attempt func(ctx context.Context, attempt int) (T, error)
}

// Record describes one attempt. Skipped stages produce a record with Attempt 0.
type Record struct {
	Stage    string
	Attempt  int
	Err      error
	Duration time.Duration
	Skipped  bool
}

type Result[T any] struct {
	Value    T
	Stage    string
	Attempts int
	Records  []Record
}

type options struct {
	sleep     func(ctx context.Context, d time.Duration) error
	onAttempt func(Record)
}

type Option func(*options)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithObserver is called after every attempt and skip.
func WithObserver(fn func(Record)) Option {
	return func(o *options) { o.onAttempt = fn }
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes stages in order and returns the first success. A transient
// error retries the same stage up to its MaxAttempts with backoff; a permanent
// error or an exhausted budget moves to the next stage. Cancellation of ctx
// stops immediately and returns ctx.Err().
func Run[T any](ctx context.Context, stages []Stage[T], opts ...Option) (Result[T], error) {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	var res Result[T]
	if len(stages) == 0 {
		return res, ErrNoStages
	}

	var lastErr error
	record := func(r Record) {
		res.Records = append(res.Records, r)
		if o.onAttempt != nil {
			o.onAttempt(r)
		}
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if st.Ready != nil {
			if err := st.Ready(ctx); err != nil {
				lastErr = err
				record(Record{Stage: st.Name, Err: err, Skipped: true})
				continue
			}
		}

		max := st.Policy.MaxAttempts
		if max < 1 {
			max = 1
		}
		for n := 1; n <= max; n++ {
			if n > 1 {
				if err := o.sleep(ctx, st.Policy.Backoff.Delay(n-1)); err != nil {
					return res, err
				}
			}

			start := time.Now()
			v, err := st.Attempt(ctx, n)
			res.Attempts++
			record(Record{Stage: st.Name, Attempt: n, Err: err, Duration: time.Since(start)})

			if err == nil {
				res.Value = v
				res.Stage = st.Name
				return res, nil
			}
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			if IsPermanent(err) {
				break
			}
		}
	}

	return res, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, res.Attempts, lastErr)
}

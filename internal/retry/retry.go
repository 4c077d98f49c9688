// Package retry wraps an operation in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
// The zero Policy runs the operation exactly once.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OnRetry, when set, is called before each retry with the failed attempt
	// number (starting at 1) and its error.
	OnRetry func(attempt int, err error)
}

// Option is a functional option for a Policy.
type Option func(*Policy)

// New returns a policy with the given options applied over a default of no
// retries, a 1s initial delay, a 30s cap and a doubling backoff.
func New(opts ...Option) Policy {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n < 0 {
			n = 0
		}
		p.MaxRetries = n
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) { p.InitialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.MaxDelay = d }
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.Multiplier = m }
}

// WithOnRetry installs a hook called before every retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Do runs op until it succeeds, fails fatally or the retries are used up.
// It returns the number of attempts made. Errors marked with Fatal and
// context errors are never retried; the returned error wraps the last
// failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	delay := p.InitialDelay
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, err
		}
		if attempt > p.MaxRetries {
			if p.MaxRetries == 0 {
				return attempt, err
			}
			return attempt, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, ctx.Err(), err)
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// FatalError wraps an error to mark it as non-retryable.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is marked non-retryable.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}

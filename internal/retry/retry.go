// Package retry provides a reusable retry policy with exponential backoff.
// The same policy shape is applied to mail fetches and notification sends.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy parameterizes retry behavior. The zero value is usable: a single
// attempt with no backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration
	// IsRetryable decides whether an error is worth another attempt. Nil
	// means every error is retryable unless marked Permanent.
	IsRetryable func(error) bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so no policy will retry it. Use it for failures
// that more attempts cannot fix: bad credentials, malformed targets.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is canceled.
// The returned error is the last attempt's error with any Permanent marker
// stripped.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	if p.BaseDelay <= 0 {
		bo.InitialInterval = time.Millisecond
	}
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(unwrapPermanent(err))
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}

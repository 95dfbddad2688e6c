package delivery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/smithy-go"
)

// ErrInvalidDestination marks a destination string a handler cannot address.
var ErrInvalidDestination = errors.New("invalid destination")

// awsRejections are SNS/SES error codes that will not succeed on a resend.
var awsRejections = map[string]bool{
	"InvalidParameter":          true,
	"InvalidParameterValue":     true,
	"MessageRejected":           true,
	"MailFromDomainNotVerified": true,
	"AuthorizationError":        true,
	"AccessDenied":              true,
	"NotFound":                  true,
	"OptedOut":                  true,
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the router gives up on the destination after the
// current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether resending to the same destination is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	if errors.Is(err, ErrNoHandler) || errors.Is(err, ErrInvalidDestination) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return awsRejections[apiErr.ErrorCode()]
	}
	return false
}

// RetryPolicy is the per-destination backoff used while dispatching an
// incident. A zero MaxAttempts means one attempt.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy tries each destination three times, waiting 1s then 2s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

func (p *RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.attempts() && !IsPermanent(err)
}

// NextDelay is the wait after the given attempt, capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Execute calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx ends during a backoff. The returned error carries the
// attempt count.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			if attempt == 1 {
				return err
			}
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		timer := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
}

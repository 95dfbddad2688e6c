package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func TestNextDelayBacksOffAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 30*time.Second, p.NextDelay(10))

	flat := &RetryPolicy{InitialDelay: time.Second}
	assert.Equal(t, time.Second, flat.NextDelay(4))
}

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		Permanent(errors.New("chat not found")),
		fmt.Errorf("%w for destination: fax:1", ErrNoHandler),
		fmt.Errorf("%w: email %q", ErrInvalidDestination, "email:"),
		context.Canceled,
		fmt.Errorf("ses send: %w", &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified"}),
	}
	for _, err := range permanent {
		assert.True(t, IsPermanent(err), err.Error())
	}

	transient := []error{
		errors.New("connection reset by peer"),
		context.DeadlineExceeded,
		fmt.Errorf("sns publish: %w", &smithy.GenericAPIError{Code: "Throttling"}),
	}
	for _, err := range transient {
		assert.False(t, IsPermanent(err), err.Error())
	}
	assert.False(t, IsPermanent(nil))
	assert.Nil(t, Permanent(nil))
}

func TestShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.True(t, p.ShouldRetry(errors.New("timeout"), 1))
	assert.True(t, p.ShouldRetry(errors.New("timeout"), 2))
	assert.False(t, p.ShouldRetry(errors.New("timeout"), 3))
	assert.False(t, p.ShouldRetry(Permanent(errors.New("blocked")), 1))
	assert.False(t, p.ShouldRetry(nil, 1))

	assert.False(t, (&RetryPolicy{}).ShouldRetry(errors.New("timeout"), 1), "zero policy makes a single attempt")
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsOnPermanent(t *testing.T) {
	calls := 0
	cause := fmt.Errorf("%w: telegram %q", ErrInvalidDestination, "telegram:recepcion")
	err := fastPolicy(5).Execute(context.Background(), func(context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err)
}

func TestExecuteReportsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New("connection refused")
	err := fastPolicy(2).Execute(context.Background(), func(context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestExecuteStopsOnCancel(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := p.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

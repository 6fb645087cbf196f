package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("always failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "always failing")
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	base := errors.New("bad credentials")
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	// The marker is stripped from the returned error.
	assert.Equal(t, base, err)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	sentinel := errors.New("do not retry")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		IsRetryable: func(err error) bool { return !errors.Is(err, sentinel) },
	}
	err := p.Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 100, BaseDelay: 10 * time.Millisecond}
	err := p.Do(ctx, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return fmt.Errorf("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestZeroPolicyIsSingleAttempt(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.False(t, IsPermanent(nil))
}

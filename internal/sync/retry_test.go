package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyError struct{}

func (emptyError) Error() string { return "" }

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	v, err := WithRetry(context.Background(), fastRetry, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBoom
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestWithRetrySurfacesLastError(t *testing.T) {
	calls := 0
	first := errors.New("first")
	_, err := WithRetry(context.Background(), fastRetry, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, first
		}
		return 0, errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, first)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.Equal(t, "boom (after 3 attempts)", err.Error())
}

func TestWithRetryNeverReturnsEmptyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "empty message", err: emptyError{}},
		{name: "nil cause", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &RetryError{Attempts: 2, Err: tt.err}
			assert.Equal(t, "unknown error (after 2 attempts)", err.Error())
		})
	}
}

func TestRetryPolicyDelayClampsToLastElement(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Delays: []time.Duration{time.Second, 2 * time.Second}}
	assert.Equal(t, time.Second, p.delay(0))
	assert.Equal(t, 2*time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(4))
	assert.Equal(t, time.Duration(0), RetryPolicy{Attempts: 2}.delay(0))
}

func TestWithRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsWaitingWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 3, Delays: []time.Duration{time.Hour}}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, policy, func(ctx context.Context) error {
			calls++
			return errBoom
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry kept waiting after cancellation")
	}
}

func TestDefaultRetryPolicyStaysShort(t *testing.T) {
	p := DefaultRetryPolicy()
	var total time.Duration
	for i := 0; i < p.Attempts-1; i++ {
		total += p.delay(i)
	}
	assert.Equal(t, 3, p.Attempts)
	assert.Less(t, total, 5*time.Second)
}

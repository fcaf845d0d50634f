package poll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/poll"
	"gitlab.com/tozd/go/errors"
)

func counter(succeedOn int) (poll.Probe, *int) {
	calls := 0
	return func(ctx context.Context) bool {
		calls++
		return calls >= succeedOn
	}, &calls
}

func TestUntil(t *testing.T) {
	ctx := context.Background()

	t.Run("ImmediateSuccess", func(t *testing.T) {
		probe, calls := counter(1)
		require.NoError(t, poll.Until(ctx, time.Millisecond, 5, probe))
		assert.Equal(t, 1, *calls, "should not retry after success")
	})

	t.Run("EventualSuccess", func(t *testing.T) {
		probe, calls := counter(3)
		require.NoError(t, poll.Until(ctx, time.Millisecond, 5, probe))
		assert.Equal(t, 3, *calls)
	})

	t.Run("Exhausted", func(t *testing.T) {
		probe, calls := counter(100)
		err := poll.Until(ctx, time.Millisecond, 2, probe)
		require.Error(t, err)
		assert.True(t, errors.Is(err, poll.ErrTimeout), "should report a timeout")
		assert.Equal(t, 3, *calls, "should probe once plus two retries")
	})

	t.Run("ZeroRetries", func(t *testing.T) {
		probe, calls := counter(2)
		err := poll.Until(ctx, time.Hour, 0, probe)
		assert.True(t, errors.Is(err, poll.ErrTimeout))
		assert.Equal(t, 1, *calls, "should not sleep when no retries remain")
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		probe, _ := counter(100)
		err := poll.Until(cctx, time.Hour, 5, probe)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, poll.ErrTimeout))
	})
}

func TestForever(t *testing.T) {
	probe, calls := counter(4)
	require.NoError(t, poll.Forever(context.Background(), time.Millisecond, probe))
	assert.Equal(t, 4, *calls)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	never, _ := counter(1 << 30)
	err := poll.Forever(ctx, time.Millisecond, never)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "only the context ends an unbounded wait")
}

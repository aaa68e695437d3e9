package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDial = errors.New("dial refused")

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, time.Hour), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errDial
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, 0), func() error {
		calls++
		return errDial
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errDial)
	assert.Contains(t, err.Error(), "3 attempts exhausted")
}

func TestDoZeroValueRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Backoff{}, func() error {
		calls++
		return errDial
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errDial)
}

func TestDoPreCancelledContextSkipsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Fixed(3, time.Millisecond), func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := Do(ctx, Fixed(3, time.Minute), func() error {
		calls++
		return errDial
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 10*time.Second, "cancel must cut the sleep short")
}

func TestSleepScheduleExponential(t *testing.T) {
	b := Backoff{
		Delay:    100 * time.Millisecond,
		MaxDelay: 400 * time.Millisecond,
		Factor:   2,
	}

	assert.Equal(t, 100*time.Millisecond, b.sleep(1))
	assert.Equal(t, 200*time.Millisecond, b.sleep(2))
	assert.Equal(t, 400*time.Millisecond, b.sleep(3))
	assert.Equal(t, 400*time.Millisecond, b.sleep(4), "stays at the cap")
}

func TestSleepScheduleFixed(t *testing.T) {
	b := Fixed(4, 250*time.Millisecond)
	for attempt := 1; attempt <= 3; attempt++ {
		assert.Equal(t, 250*time.Millisecond, b.sleep(attempt))
	}
}

func TestSleepJitterStaysInBounds(t *testing.T) {
	b := Exponential(5, 100*time.Millisecond, time.Second)

	for i := 0; i < 200; i++ {
		d := b.sleep(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestSleepSurvivesOverflow(t *testing.T) {
	b := Backoff{
		Delay:    time.Hour,
		MaxDelay: 2 * time.Hour,
		Factor:   1e12,
	}

	// A single scaling step that shoots past the int64 range must land
	// on the cap rather than going negative.
	assert.Equal(t, 2*time.Hour, b.sleep(2))
	assert.Equal(t, 2*time.Hour, b.sleep(50))
}

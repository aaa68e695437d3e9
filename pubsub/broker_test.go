package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/types"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := NewBroker(nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func recvTimeout(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroker_PublishDeliver(t *testing.T) {
	b := newTestBroker(t)
	sub, err := b.Subscribe(types.TopicMetricUpdate, 8)
	require.NoError(t, err)

	update := types.MetricUpdate{Group: "g", Node: "n", Metric: "m", Value: "1"}
	n := b.Publish(types.TopicMetricUpdate, update)
	assert.Equal(t, 1, n)

	got := recvTimeout(t, sub.C())
	assert.Equal(t, update, got)
}

func TestBroker_OrderPreserved(t *testing.T) {
	b := newTestBroker(t)
	sub, err := b.Subscribe("t", 16)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish("t", i)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, recvTimeout(t, sub.C()))
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := newTestBroker(t)
	s1, err := b.Subscribe("t", 8)
	require.NoError(t, err)
	s2, err := b.Subscribe("t", 8)
	require.NoError(t, err)
	other, err := b.Subscribe("other", 8)
	require.NoError(t, err)

	n := b.Publish("t", "ev")
	assert.Equal(t, 2, n)
	assert.Equal(t, "ev", recvTimeout(t, s1.C()))
	assert.Equal(t, "ev", recvTimeout(t, s2.C()))

	select {
	case ev := <-other.C():
		t.Fatalf("unexpected delivery on other topic: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_PublishNoSubscribers(t *testing.T) {
	b := newTestBroker(t)
	assert.Equal(t, 0, b.Publish("nobody", "ev"))
}

func TestBroker_SlowSubscriberDropsOldest(t *testing.T) {
	b := newTestBroker(t)
	sub, err := b.Subscribe("t", 2)
	require.NoError(t, err)

	last := 49
	for i := 0; i <= last; i++ {
		b.Publish("t", i)
	}

	// The newest event survives the overflow; older ones may be gone.
	var got []any
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			got = append(got, ev)
			if ev == last {
				assert.LessOrEqual(t, len(got), 4)
				return
			}
		case <-deadline:
			t.Fatalf("never saw final event, got %v", got)
		}
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := newTestBroker(t)
	sub, err := b.Subscribe("t", 8)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("t"))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount("t"))
	assert.Equal(t, 0, b.Publish("t", "ev"))

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel did not close")
	}
}

func TestBroker_Close(t *testing.T) {
	b, err := NewBroker(nil)
	require.NoError(t, err)

	s1, err := b.Subscribe("a", 8)
	require.NoError(t, err)
	s2, err := b.Subscribe("b", 8)
	require.NoError(t, err)

	b.Close()
	b.Close()

	for _, s := range []*Subscription{s1, s2} {
		select {
		case _, ok := <-s.C():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("delivery channel did not close")
		}
	}

	assert.Equal(t, 0, b.Publish("a", "ev"))
	_, err = b.Subscribe("a", 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestBroker_SubscriptionTopic(t *testing.T) {
	b := newTestBroker(t)
	sub, err := b.Subscribe(types.TopicAlarmStateChange, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TopicAlarmStateChange, sub.Topic())
}

func TestBroker_WithRegistry(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	b, err := NewBroker(reg)
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe("t", 8)
	require.NoError(t, err)
	b.Publish("t", "ev")
	assert.Equal(t, "ev", recvTimeout(t, sub.C()))
}

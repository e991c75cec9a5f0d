package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_SubscriptionOrder(t *testing.T) {
	n := NewNotifier()
	var order []int
	for i := 1; i <= 3; i++ {
		n.Subscribe(RequestCompleted, func(Event) error {
			order = append(order, i)
			return nil
		})
	}
	n.Subscribe(RequestFailed, func(Event) error {
		order = append(order, 99)
		return nil
	})

	require.NoError(t, n.Publish(RequestCompleted, map[string]any{"backend": "a"}))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublish_AllHandlersRunFirstErrorReturned(t *testing.T) {
	n := NewNotifier()
	errFirst := errors.New("first")
	calls := 0

	n.Subscribe(RequestFailed, func(Event) error { calls++; return errFirst })
	n.Subscribe(RequestFailed, func(Event) error { calls++; return errors.New("second") })
	n.Subscribe(RequestFailed, func(Event) error { calls++; return nil })

	err := n.Publish(RequestFailed, nil)
	assert.ErrorIs(t, err, errFirst)
	assert.Equal(t, 3, calls)
}

func TestPublish_PanicIsContained(t *testing.T) {
	n := NewNotifier()
	delivered := false
	n.Subscribe(RequestCompleted, func(Event) error { panic("boom") })
	n.Subscribe(RequestCompleted, func(Event) error { delivered = true; return nil })

	err := n.Publish(RequestCompleted, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, delivered)
}

func TestPublish_PayloadDelivered(t *testing.T) {
	n := NewNotifier()
	var got Event
	n.Subscribe(RequestCompleted, func(ev Event) error { got = ev; return nil })

	require.NoError(t, n.Publish(RequestCompleted, map[string]any{"cache_hit": true}))
	assert.Equal(t, RequestCompleted, got.Name)
	assert.Equal(t, true, got.Payload["cache_hit"])
	assert.False(t, got.Time.IsZero())
}

func TestUnsubscribe(t *testing.T) {
	n := NewNotifier()
	calls := 0
	id := n.Subscribe(RequestCompleted, func(Event) error { calls++; return nil })
	n.Subscribe(RequestCompleted, func(Event) error { calls += 10; return nil })

	assert.True(t, n.Unsubscribe(id))
	assert.False(t, n.Unsubscribe(id))
	assert.Equal(t, 1, n.Subscribers(RequestCompleted))

	require.NoError(t, n.Publish(RequestCompleted, nil))
	assert.Equal(t, 10, calls)
}

func TestPublish_NoSubscribers(t *testing.T) {
	assert.NoError(t, NewNotifier().Publish("unknown", nil))
}

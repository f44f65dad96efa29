package localbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB []byte
	b.Subscribe("room-1", func(m Message) { gotA = m.Data })
	b.Subscribe("room-1", func(m Message) { gotB = m.Data })

	b.Publish("room-1", []byte("hello"), NewOrigin())

	require.Equal(t, []byte("hello"), gotA)
	require.Equal(t, []byte("hello"), gotB)
}

func TestPublishDoesNotCrossChannels(t *testing.T) {
	b := New()
	called := false
	b.Subscribe("room-1", func(Message) { called = true })

	b.Publish("room-2", []byte("x"), NewOrigin())

	require.False(t, called)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	sub := b.Subscribe("room-1", func(Message) { count++ })

	b.Publish("room-1", nil, NewOrigin())
	b.Unsubscribe(sub)
	b.Publish("room-1", nil, NewOrigin())

	require.Equal(t, 1, count)
	require.Equal(t, 0, b.SubscriberCount("room-1"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("room-1", func(Message) {})
	b.Unsubscribe(sub)
	require.NotPanics(t, func() { b.Unsubscribe(sub) })
	require.NotPanics(t, func() { b.Unsubscribe(nil) })
}

func TestOriginIsCarriedThrough(t *testing.T) {
	b := New()
	origin := NewOrigin()
	var got Origin
	b.Subscribe("room-1", func(m Message) { got = m.Origin })

	b.Publish("room-1", nil, origin)

	require.Equal(t, origin, got)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	require.NotPanics(t, func() { b.Publish("room-1", []byte("x"), NewOrigin()) })
	require.Equal(t, 0, b.SubscriberCount("room-1"))
}

func TestSubscriberOrderIsDeliveryOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe("room-1", func(Message) { order = append(order, 1) })
	b.Subscribe("room-1", func(Message) { order = append(order, 2) })
	b.Subscribe("room-1", func(Message) { order = append(order, 3) })

	b.Publish("room-1", nil, NewOrigin())

	require.Equal(t, []int{1, 2, 3}, order)
}

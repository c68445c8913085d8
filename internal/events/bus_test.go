package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToTypedSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TypeSessionConnected)
	defer bus.Unsubscribe(ch)

	bus.Emit(TypeSessionConnected, "ircsession", "freenode", map[string]interface{}{"network": "freenode"})

	select {
	case ev := <-ch:
		assert.Equal(t, TypeSessionConnected, ev.Type)
		assert.Equal(t, "freenode", ev.Subject)
	default:
		t.Fatal("expected event, got none")
	}
}

func TestEventBusAllSubscriberReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Emit(TypeIngressRejected, "ingress", "repo1", nil)
	bus.Emit(TypeReloadApplied, "supervisor", "", nil)

	require.Len(t, ch, 2)
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TypeDeliveryDropped)
	bus.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestEventBusSubscriberCount(t *testing.T) {
	bus := NewEventBus()
	assert.Equal(t, 0, bus.SubscriberCount())
	ch1 := bus.Subscribe(TypeSessionConnected)
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())
	bus.Unsubscribe(ch1)
	bus.Unsubscribe(ch2)
	assert.Equal(t, 0, bus.SubscriberCount())
}

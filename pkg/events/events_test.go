package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventFlushCompleted, Message: "flushed 3"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventFlushCompleted, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker() // not started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventSampleAccepted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}

func TestNilBrokerPublish(t *testing.T) {
	var b *Broker
	require.NotPanics(t, func() { b.Publish(&Event{Type: EventAuthLoggedOut}) })
}

func TestSubscribeFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	authOnly := b.Subscribe(EventAuthPinRequired, EventAuthLoggedOut)
	all := b.Subscribe()

	b.Publish(&Event{Type: EventFlushCompleted})
	b.Publish(&Event{Type: EventAuthPinRequired})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatal("unfiltered subscriber missed an event")
		}
	}

	select {
	case ev := <-authOnly:
		assert.Equal(t, EventAuthPinRequired, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber missed its event")
	}
	assert.Empty(t, authOnly, "flush event is filtered out")
}

func TestStopAndUnsubscribeAreIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.NotPanics(t, func() { b.Unsubscribe(sub) })

	b.Stop()
	require.NotPanics(t, b.Stop)
}

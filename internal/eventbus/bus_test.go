package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePrefixFilter(t *testing.T) {
	bus := New()
	replies, unsub := bus.Subscribe(4, "reply.")
	defer unsub()
	all, unsubAll := bus.Subscribe(4)
	defer unsubAll()

	bus.Publish(Event{Type: "broadcast.cycle.started"})
	bus.Publish(Event{Type: "reply.fulfilled", Data: "x"})

	e := <-replies
	assert.Equal(t, "reply.fulfilled", e.Type)
	assert.False(t, e.Time.IsZero())
	assert.Len(t, replies, 0)
	assert.Len(t, all, 2)
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: "x"})
	}
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	bus.Publish(Event{Type: "after"})
}

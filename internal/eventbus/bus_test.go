package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "delivery.sent"})

	ea := <-a
	ec := <-c
	require.Equal(t, "delivery.sent", ea.Type)
	require.Equal(t, "delivery.sent", ec.Type)
	require.False(t, ea.Time.IsZero())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	require.Equal(t, "one", (<-ch).Type)
	require.EqualValues(t, 1, Dropped(b))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}

package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/pkg/dto"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(8)
	defer b.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		b.Publish(Message{Type: TypeEvent, Data: i})
	}

	for i := 0; i < 3; i++ {
		msg := <-sub.C
		assert.Equal(t, TypeEvent, msg.Type)
		assert.Equal(t, i, msg.Data)
	}
}

func TestFullBufferHeadDropsOldest(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(2)
	defer b.Unsubscribe(sub)

	b.Publish(Message{Type: TypeStats, Data: "first"})
	b.Publish(Message{Type: TypeStats, Data: "second"})
	b.Publish(Message{Type: TypeStats, Data: "third"}) // drops "first"

	msg := <-sub.C
	assert.Equal(t, "third", msg.Data, "oldest data messages dropped, newest kept")

	msg = <-sub.C
	require.Equal(t, TypeStatus, msg.Type, "overflow notice follows the surviving messages")
	status, ok := msg.Data.(dto.StatusMessage)
	require.True(t, ok)
	assert.True(t, status.Overflowed)

	stats := b.SubscriberStats(sub)
	assert.Equal(t, int64(2), stats.Dropped, "data message plus the slot taken by the notice")
}

func TestOverflowNoticeIsOneShot(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(2)
	defer b.Unsubscribe(sub)

	drainNotices := func() int {
		notices := 0
		for {
			select {
			case msg := <-sub.C:
				if msg.Type == TypeStatus {
					notices++
				}
			default:
				return notices
			}
		}
	}

	for i := 0; i < 3; i++ {
		b.Publish(Message{Type: TypeStats, Data: i})
	}
	assert.Equal(t, 1, drainNotices(), "first overflow produces the notice")

	for i := 3; i < 6; i++ {
		b.Publish(Message{Type: TypeStats, Data: i})
	}
	assert.Equal(t, 0, drainNotices(), "later overflows stay silent")
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New()
	defer b.Close()

	slow := b.Subscribe(1)
	fast := b.Subscribe(16)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	for i := 0; i < 5; i++ {
		b.Publish(Message{Type: TypeEvent, Data: i})
	}

	// The fast subscriber sees everything, in order.
	for i := 0; i < 5; i++ {
		msg := <-fast.C
		assert.Equal(t, i, msg.Data)
	}
	assert.Equal(t, int64(0), b.SubscriberStats(fast).Dropped)
	assert.Positive(t, b.SubscriberStats(slow).Dropped)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(4)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call is a no-op

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Close()
	b.Publish(Message{Type: TypeEvent, Data: "after close"}) // ignored

	_, open := <-a.C
	assert.False(t, open)
	_, open = <-c.C
	assert.False(t, open)
}

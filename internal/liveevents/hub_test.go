package liveevents

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func usageEvent(subscriberID string, seq int) LiveEvent {
	return LiveEvent{
		Kind:         KindUsageUpdated,
		SubscriberID: subscriberID,
		Payload:      map[string]any{"seq": seq},
		OccurredAt:   "2026-03-10T09:00:00Z",
	}
}

func TestHubPublishAndSubscribe(t *testing.T) {
	t.Run("subscriber receives events published after subscribing", func(t *testing.T) {
		hub := NewHub()
		sub, backlog, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		assert.Empty(t, backlog)
		defer sub.Close()

		hub.Publish("user-1", usageEvent("user-1", 1))
		hub.Publish("user-1", usageEvent("user-1", 2))

		first := <-sub.Events()
		second := <-sub.Events()
		assert.Equal(t, 1, first.Payload["seq"])
		assert.Equal(t, 2, second.Payload["seq"])
	})

	t.Run("events for other subscribers are not delivered", func(t *testing.T) {
		hub := NewHub()
		sub, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer sub.Close()

		hub.Publish("user-2", usageEvent("user-2", 1))
		hub.Publish("user-1", usageEvent("user-1", 2))

		event := <-sub.Events()
		assert.Equal(t, "user-1", event.SubscriberID)
		assert.Empty(t, sub.Events())
	})

	t.Run("publish without any subscriber is dropped", func(t *testing.T) {
		hub := NewHub()
		hub.Publish("user-1", usageEvent("user-1", 1))

		// The stream only exists while someone is subscribed, so a late
		// subscriber starts with an empty backlog.
		sub, backlog, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		assert.Empty(t, backlog)
		sub.Close()
	})

	t.Run("blank subscriber rejected", func(t *testing.T) {
		hub := NewHub()
		_, _, err := hub.Subscribe("  ")
		assert.Error(t, err)
	})
}

func TestHubBacklog(t *testing.T) {
	t.Run("new subscriber replays the retained buffer", func(t *testing.T) {
		hub := NewHub()
		first, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer first.Close()

		hub.Publish("user-1", usageEvent("user-1", 1))
		hub.Publish("user-1", usageEvent("user-1", 2))

		second, backlog, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer second.Close()

		assert.Len(t, backlog, 2)
		assert.Equal(t, 1, backlog[0].Payload["seq"])
		assert.Equal(t, 2, backlog[1].Payload["seq"])
	})

	t.Run("buffer is capped at the newest events", func(t *testing.T) {
		hub := NewHub()
		first, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer first.Close()

		for i := 1; i <= DefaultBufferSize+10; i++ {
			hub.Publish("user-1", usageEvent("user-1", i))
		}

		second, backlog, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer second.Close()

		assert.Len(t, backlog, DefaultBufferSize)
		assert.Equal(t, 11, backlog[0].Payload["seq"])
		assert.Equal(t, DefaultBufferSize+10, backlog[len(backlog)-1].Payload["seq"])
	})
}

func TestHubSlowConsumer(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("user-1")
	assert.NoError(t, err)
	defer sub.Close()

	// Overfill the subscriber channel; publish must never block.
	for i := 1; i <= DefaultSubscriberBuffer+20; i++ {
		hub.Publish("user-1", usageEvent("user-1", i))
	}

	received := 0
	for {
		select {
		case <-sub.Events():
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, DefaultSubscriberBuffer, received)
}

func TestSubscriptionClose(t *testing.T) {
	t.Run("close removes the stream once empty", func(t *testing.T) {
		hub := NewHub()
		sub, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		sub.Close()

		hub.mu.RLock()
		_, ok := hub.streams["user-1"]
		hub.mu.RUnlock()
		assert.False(t, ok)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		hub := NewHub()
		sub, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		sub.Close()
		sub.Close()
	})

	t.Run("remaining subscribers keep receiving", func(t *testing.T) {
		hub := NewHub()
		a, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		b, _, err := hub.Subscribe("user-1")
		assert.NoError(t, err)
		defer b.Close()

		a.Close()
		hub.Publish("user-1", usageEvent("user-1", 7))

		event := <-b.Events()
		assert.Equal(t, 7, event.Payload["seq"])
	})
}

func TestHubConcurrentPublish(t *testing.T) {
	hub := NewHub()
	subs := make([]*Subscription, 0, 4)
	for i := 0; i < 4; i++ {
		sub, _, err := hub.Subscribe(fmt.Sprintf("user-%d", i))
		assert.NoError(t, err)
		subs = append(subs, sub)
	}

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(n int) {
			for j := 0; j < 100; j++ {
				hub.Publish(fmt.Sprintf("user-%d", n), usageEvent(fmt.Sprintf("user-%d", n), j))
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	for _, sub := range subs {
		sub.Close()
	}
}

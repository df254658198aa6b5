package hub

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func testHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHub(logger)
}

func TestBroadcastMessageReachesAllSubscribers(t *testing.T) {
	h := testHub()
	subA, _ := h.Subscribe(1, 10, "a")
	subB, _ := h.Subscribe(1, 11, "b")
	other, _ := h.Subscribe(2, 12, "c")

	h.BroadcastMessage(models.Message{ID: 5, ConversationID: 1, Content: "hello"})

	for _, sub := range []*Subscriber{subA, subB} {
		event := <-sub.Events()
		assert.Equal(t, models.EventMessage, event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, int64(5), event.Message.ID)
	}
	assert.Empty(t, other.Events())
}

func TestBroadcastPreservesPublishOrder(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe(1, 10, "a")

	for i := int64(1); i <= 10; i++ {
		h.BroadcastMessage(models.Message{ID: i, ConversationID: 1})
	}

	for i := int64(1); i <= 10; i++ {
		event := <-sub.Events()
		require.NotNil(t, event.Message)
		assert.Equal(t, i, event.Message.ID)
	}
}

func TestSetTypingBroadcastsFullSet(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe(1, 10, "a")

	h.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 11, DisplayName: "Ana", Active: true})
	h.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 12, DisplayName: "Boris", Active: true})

	event := <-sub.Events()
	assert.Equal(t, models.EventTyping, event.Type)
	require.Len(t, event.Typing, 1)

	event = <-sub.Events()
	require.Len(t, event.Typing, 2)
	assert.Equal(t, int64(11), event.Typing[0].UserID)
	assert.Equal(t, int64(12), event.Typing[1].UserID)

	h.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 11, Active: false})
	event = <-sub.Events()
	require.Len(t, event.Typing, 1)
	assert.Equal(t, int64(12), event.Typing[0].UserID)
}

func TestSubscribeReturnsTypingSnapshot(t *testing.T) {
	h := testHub()
	h.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 11, DisplayName: "Ana", Active: true})

	_, snapshot := h.Subscribe(1, 10, "late")
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(11), snapshot[0].UserID)
	assert.Equal(t, "Ana", snapshot[0].DisplayName)
}

func TestUnsubscribeClearsStaleTyping(t *testing.T) {
	h := testHub()
	typist, _ := h.Subscribe(1, 11, "typist")
	watcher, _ := h.Subscribe(1, 10, "watcher")

	h.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 11, Active: true})
	event := <-watcher.Events()
	require.Len(t, event.Typing, 1)

	h.Unsubscribe(typist)
	event = <-watcher.Events()
	assert.Equal(t, models.EventTyping, event.Type)
	assert.Empty(t, event.Typing)
	assert.Empty(t, h.TypingSet(1))
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	h := testHub()
	slow, _ := h.Subscribe(1, 10, "slow")

	// Fill the buffer without draining, then overflow it.
	for i := 0; i <= subscriberBuffer; i++ {
		h.BroadcastMessage(models.Message{ID: int64(i + 1), ConversationID: 1})
	}

	received := 0
	for range slow.Events() {
		received++
	}
	// The channel was closed on eviction after the buffer filled.
	assert.Equal(t, subscriberBuffer, received)

	// The room no longer holds the evicted subscriber.
	h.BroadcastMessage(models.Message{ID: 99, ConversationID: 1})
	_, ok := <-slow.Events()
	assert.False(t, ok)
}

func TestBroadcastStatus(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe(1, 10, "a")

	h.BroadcastStatus(1, 7, models.StatusDelivered)

	event := <-sub.Events()
	assert.Equal(t, models.EventStatus, event.Type)
	assert.Equal(t, int64(7), event.MessageID)
	assert.Equal(t, models.StatusDelivered, event.Status)
}

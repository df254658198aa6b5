// Package hub is the per-conversation broadcaster for live events: new
// messages, delivery-status changes and the typing set.
package hub

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const subscriberBuffer = 64

// Subscriber receives the ordered event stream of one conversation.
type Subscriber struct {
	ID             string
	ConversationID int64
	UserID         int64

	ch     chan models.ConversationEvent
	closed bool
}

// Events is the subscriber's ordered event channel. It is closed when the
// subscriber is evicted or unsubscribed.
func (s *Subscriber) Events() <-chan models.ConversationEvent {
	return s.ch
}

// Hub maintains active conversation rooms and their typing sets.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]map[*Subscriber]bool
	typing map[int64]map[int64]models.TypingSignal
	logger *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:  make(map[int64]map[*Subscriber]bool),
		typing: make(map[int64]map[int64]models.TypingSignal),
		logger: logger,
	}
}

// Subscribe registers a subscriber for a conversation and returns it together
// with a snapshot of the current typing set, so a late joiner sees correct
// presence state immediately.
func (h *Hub) Subscribe(conversationID, userID int64, subID string) (*Subscriber, []models.TypingSignal) {
	sub := &Subscriber{
		ID:             subID,
		ConversationID: conversationID,
		UserID:         userID,
		ch:             make(chan models.ConversationEvent, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Subscriber]bool)
	}
	h.rooms[conversationID][sub] = true
	observability.IncWSActive("conversation")

	return sub, h.typingSetLocked(conversationID)
}

// Unsubscribe removes a subscriber and clears any typing signal it left
// behind.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	h.removeLocked(sub)
	stale := false
	if signals, ok := h.typing[sub.ConversationID]; ok {
		if _, ok := signals[sub.UserID]; ok {
			delete(signals, sub.UserID)
			if len(signals) == 0 {
				delete(h.typing, sub.ConversationID)
			}
			stale = true
		}
	}
	var set []models.TypingSignal
	if stale {
		set = h.typingSetLocked(sub.ConversationID)
	}
	h.mu.Unlock()

	if stale {
		h.broadcast(sub.ConversationID, models.ConversationEvent{Type: models.EventTyping, Typing: set})
	}
}

// BroadcastMessage fans a persisted message out to every subscriber of its
// conversation. Delivery is at-least-once; sessions dedupe by message id.
func (h *Hub) BroadcastMessage(msg models.Message) {
	h.broadcast(msg.ConversationID, models.ConversationEvent{Type: models.EventMessage, Message: &msg})
	observability.IncWSEvent("conversation", "message")
}

// BroadcastStatus notifies subscribers of a delivery-status change.
func (h *Hub) BroadcastStatus(conversationID, messageID int64, status models.MessageStatus) {
	h.broadcast(conversationID, models.ConversationEvent{
		Type:      models.EventStatus,
		MessageID: messageID,
		Status:    status,
	})
	observability.IncWSEvent("conversation", "status")
}

// SetTyping records one participant's typing state and broadcasts the full
// current set. Expiry after silence is the sender's responsibility, not the
// hub's.
func (h *Hub) SetTyping(sig models.TypingSignal) {
	h.mu.Lock()
	if sig.Active {
		if _, ok := h.typing[sig.ConversationID]; !ok {
			h.typing[sig.ConversationID] = make(map[int64]models.TypingSignal)
		}
		h.typing[sig.ConversationID][sig.UserID] = sig
	} else if signals, ok := h.typing[sig.ConversationID]; ok {
		delete(signals, sig.UserID)
		if len(signals) == 0 {
			delete(h.typing, sig.ConversationID)
		}
	}
	set := h.typingSetLocked(sig.ConversationID)
	h.mu.Unlock()

	h.broadcast(sig.ConversationID, models.ConversationEvent{Type: models.EventTyping, Typing: set})
	observability.IncWSEvent("conversation", "typing")
}

// TypingSet returns the current typists of a conversation.
func (h *Hub) TypingSet(conversationID int64) []models.TypingSignal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.typingSetLocked(conversationID)
}

// broadcast appends the event to every room subscriber under the write lock so
// each channel observes events in publish order. A subscriber whose buffer is
// full is evicted and its channel closed.
func (h *Hub) broadcast(conversationID int64, event models.ConversationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.rooms[conversationID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.WithFields(logrus.Fields{
				"conversation_id": conversationID,
				"subscriber_id":   sub.ID,
			}).Warn("evicting slow subscriber")
			h.removeSubLocked(conversationID, sub)
		}
	}
}

func (h *Hub) removeLocked(sub *Subscriber) {
	h.removeSubLocked(sub.ConversationID, sub)
}

func (h *Hub) removeSubLocked(conversationID int64, sub *Subscriber) {
	subs, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, conversationID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	observability.DecWSActive("conversation")
}

func (h *Hub) typingSetLocked(conversationID int64) []models.TypingSignal {
	signals := h.typing[conversationID]
	set := make([]models.TypingSignal, 0, len(signals))
	for _, sig := range signals {
		set = append(set, sig)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].UserID < set[j].UserID })
	return set
}

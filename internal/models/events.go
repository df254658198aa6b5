package models

// EventType labels events fanned out to conversation subscribers.
type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventStatus  EventType = "status"
)

// TypingSignal is the ephemeral typing state of one participant. It is never
// persisted; the sender's session expires it after three seconds of silence.
type TypingSignal struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	DisplayName    string `json:"display_name"`
	Active         bool   `json:"active"`
}

// ConversationEvent is broadcast to every subscriber of a conversation.
// Typing events always carry the full current typist set, never a diff, so a
// late joiner sees correct state.
type ConversationEvent struct {
	Type      EventType      `json:"type"`
	Message   *Message       `json:"message,omitempty"`
	Typing    []TypingSignal `json:"typing,omitempty"`
	MessageID int64          `json:"message_id,omitempty"`
	Status    MessageStatus  `json:"status,omitempty"`
}

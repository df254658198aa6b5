package models

import "time"

// ConversationType distinguishes how a conversation reaches the client.
type ConversationType string

const (
	ConversationDirect   ConversationType = "direct"
	ConversationWhatsApp ConversationType = "whatsapp"
	ConversationGroup    ConversationType = "group"
)

// Conversation is a thread of messages between firm staff and a client.
// Conversations are never hard-deleted, only archived.
type Conversation struct {
	ID        int64            `db:"id" json:"id"`
	Type      ConversationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Priority  bool             `db:"priority" json:"priority"`
	Archived  bool             `db:"archived" json:"archived"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// ConversationMember ties a user to a conversation.
type ConversationMember struct {
	ConversationID int64 `db:"conversation_id" json:"conversation_id"`
	UserID         int64 `db:"user_id" json:"user_id"`
}

// ReadCursor tracks the newest message a user has read in a conversation.
type ReadCursor struct {
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	LastReadID     int64     `db:"last_read_id" json:"last_read_id"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

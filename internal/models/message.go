package models

import "time"

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderUser      SenderKind = "user"
	SenderSystem    SenderKind = "system"
	SenderAssistant SenderKind = "assistant"
)

// MessageKind is the payload shape of a message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// MessageStatus is the delivery state of a message. Transitions are
// forward-only and owned by the delivery tracker.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// AttachmentMeta describes a stored file referenced by a message. The URL is
// time-limited and may be re-signed; everything else is immutable.
type AttachmentMeta struct {
	Name        string `db:"att_name" json:"name"`
	Size        int64  `db:"att_size" json:"size"`
	MimeType    string `db:"att_mime" json:"mime_type"`
	StoragePath string `db:"att_path" json:"storage_path"`
	URL         string `db:"att_url" json:"url"`
}

// Message is one entry in a conversation's append-only log. Content and
// CreatedAt are immutable once persisted; only Status and the attachment URL
// may change afterwards.
type Message struct {
	ID             int64           `db:"id" json:"id"`
	ConversationID int64           `db:"conversation_id" json:"conversation_id"`
	SenderID       int64           `db:"sender_id" json:"sender_id"`
	SenderKind     SenderKind      `db:"sender_kind" json:"sender_kind"`
	Kind           MessageKind     `db:"kind" json:"kind"`
	Content        string          `db:"content" json:"content"`
	Attachment     *AttachmentMeta `db:"-" json:"attachment,omitempty"`
	Status         MessageStatus   `db:"status" json:"status"`
	ParentID       *int64          `db:"parent_id" json:"parent_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// MessageContent is the tagged payload variant of a message. Consumers
// type-switch over TextContent, FileContent and SystemContent so every kind
// is handled explicitly.
type MessageContent interface {
	isMessageContent()
}

// TextContent is a plain text body.
type TextContent struct {
	Text string
}

// FileContent is an attachment reference with an optional caption.
type FileContent struct {
	Caption    string
	Attachment AttachmentMeta
}

// SystemContent is a firm-generated notice rendered inline.
type SystemContent struct {
	Note string
}

func (TextContent) isMessageContent()   {}
func (FileContent) isMessageContent()   {}
func (SystemContent) isMessageContent() {}

// Body projects the flat storage row into the tagged content variant.
func (m Message) Body() MessageContent {
	switch m.Kind {
	case KindFile:
		var att AttachmentMeta
		if m.Attachment != nil {
			att = *m.Attachment
		}
		return FileContent{Caption: m.Content, Attachment: att}
	case KindSystem:
		return SystemContent{Note: m.Content}
	default:
		return TextContent{Text: m.Content}
	}
}

// SearchHit is a read-only projection produced by message search.
type SearchHit struct {
	MessageID int64     `json:"message_id"`
	Excerpt   string    `json:"excerpt"`
	CreatedAt time.Time `json:"created_at"`
}

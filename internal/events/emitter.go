// Package events publishes conversation lifecycle envelopes to the firm-wide
// event bus for billing, audit and notification consumers.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"messaging-service/internal/models"
)

const (
	RoutingMessageSent   = "conversations.message.sent"
	RoutingMessageStatus = "conversations.message.status"
	RoutingWS            = "conversations.ws"
)

// Publisher is the subset of the rabbitmq publisher the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Envelope is the versioned wrapper around every published event.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	Payload       any    `json:"payload"`
}

// Emitter wraps the publisher with the service's envelope conventions.
// Publishing is best-effort: a bus outage never fails the user action.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	logger      *logrus.Logger
}

// NewEmitter constructs an Emitter.
func NewEmitter(publisher Publisher, service, environment string, logger *logrus.Logger) *Emitter {
	return &Emitter{publisher: publisher, service: service, environment: environment, logger: logger}
}

// MessageSent publishes a message.sent event.
func (e *Emitter) MessageSent(ctx context.Context, msg models.Message) {
	e.emit(ctx, RoutingMessageSent, "message_sent", map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"sender_id":       msg.SenderID,
		"kind":            msg.Kind,
	})
}

// MessageStatus publishes a delivery-status change event.
func (e *Emitter) MessageStatus(ctx context.Context, conversationID, messageID int64, status models.MessageStatus) {
	e.emit(ctx, RoutingMessageStatus, "message_status", map[string]any{
		"message_id":      messageID,
		"conversation_id": conversationID,
		"status":          status,
	})
}

// WSEvent publishes a websocket connect/disconnect/error event.
func (e *Emitter) WSEvent(ctx context.Context, name string, conversationID, userID int64, connID, reason string, duration time.Duration) {
	e.emit(ctx, RoutingWS, name, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"conn_id":         connID,
		"reason":          reason,
		"duration_ms":     duration.Milliseconds(),
	})
}

func (e *Emitter) emit(ctx context.Context, routingKey, eventType string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		e.logger.WithError(err).WithField("routing_key", routingKey).Warn("event publish failed")
	}
}

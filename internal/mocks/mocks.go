// Package mocks holds hand-written testify mocks for the service interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/events"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/models"
	"messaging-service/internal/objectstore"
	"messaging-service/internal/repositories"
)

// MessageRepository mocks repositories.MessageRepository.
type MessageRepository struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MessageRepository)(nil)

func (m *MessageRepository) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) Page(ctx context.Context, conversationID, cursor int64, limit int) ([]models.Message, int64, bool, error) {
	args := m.Called(ctx, conversationID, cursor, limit)
	var msgs []models.Message
	if v := args.Get(0); v != nil {
		msgs = v.([]models.Message)
	}
	return msgs, args.Get(1).(int64), args.Bool(2), args.Error(3)
}

func (m *MessageRepository) Search(ctx context.Context, conversationID int64, query string, limit int) ([]models.SearchHit, error) {
	args := m.Called(ctx, conversationID, query, limit)
	var hits []models.SearchHit
	if v := args.Get(0); v != nil {
		hits = v.([]models.SearchHit)
	}
	return hits, args.Error(1)
}

func (m *MessageRepository) MarkRead(ctx context.Context, conversationID, userID int64) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MessageRepository) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) UpdateStatus(ctx context.Context, messageID int64, allowedFrom []models.MessageStatus, to models.MessageStatus) error {
	args := m.Called(ctx, messageID, allowedFrom, to)
	return args.Error(0)
}

func (m *MessageRepository) RefreshAttachmentURL(ctx context.Context, messageID int64, url string) error {
	args := m.Called(ctx, messageID, url)
	return args.Error(0)
}

// ConversationRepository mocks repositories.ConversationRepository.
type ConversationRepository struct {
	mock.Mock
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

func (m *ConversationRepository) Create(ctx context.Context, conv models.Conversation, memberIDs []int64) (models.Conversation, error) {
	args := m.Called(ctx, conv, memberIDs)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *ConversationRepository) Get(ctx context.Context, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *ConversationRepository) ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if v := args.Get(0); v != nil {
		convs = v.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepository) Archive(ctx context.Context, conversationID int64) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

// Drafter mocks ghostwrite.Drafter.
type Drafter struct {
	mock.Mock
}

var _ ghostwrite.Drafter = (*Drafter)(nil)

func (m *Drafter) Draft(ctx context.Context, conversationID int64, query string) (string, error) {
	args := m.Called(ctx, conversationID, query)
	return args.String(0), args.Error(1)
}

// ObjectStore mocks objectstore.Store.
type ObjectStore struct {
	mock.Mock
}

var _ objectstore.Store = (*ObjectStore)(nil)

func (m *ObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	args := m.Called(ctx, path, data, contentType)
	return args.Error(0)
}

func (m *ObjectStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, path, ttl)
	return args.String(0), args.Error(1)
}

// Publisher mocks events.Publisher.
type Publisher struct {
	mock.Mock
}

var _ events.Publisher = (*Publisher)(nil)

func (m *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conv models.Conversation, memberIDs []int64) (models.Conversation, error)
	Get(ctx context.Context, conversationID int64) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error)
	Archive(ctx context.Context, conversationID int64) error
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Create inserts a conversation and its member rows in one transaction.
func (r *ConversationRepo) Create(ctx context.Context, conv models.Conversation, memberIDs []int64) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, apperr.Wrap(err, apperr.Transient, "begin create conversation")
	}
	defer tx.Rollback()

	var created models.Conversation
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (type, title, priority) VALUES ($1, $2, $3)
         RETURNING id, type, title, priority, archived, created_at`,
		conv.Type, conv.Title, conv.Priority).StructScan(&created)
	if err != nil {
		return models.Conversation{}, apperr.Wrap(err, apperr.Transient, "insert conversation")
	}

	for _, memberID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
             ON CONFLICT DO NOTHING`, created.ID, memberID); err != nil {
			return models.Conversation{}, apperr.Wrap(err, apperr.Transient, "insert conversation member")
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, apperr.Wrap(err, apperr.Transient, "commit create conversation")
	}
	return created, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, type, title, priority, archived, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, apperr.New(apperr.NotFound, "conversation %d not found", conversationID)
	}
	if err != nil {
		return models.Conversation{}, apperr.Wrap(err, apperr.Transient, "get conversation")
	}
	return conv, nil
}

// ListForUser returns the user's conversations, priority threads first, then
// newest first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT c.id, c.type, c.title, c.priority, c.archived, c.created_at
         FROM conversations c
         JOIN conversation_members m ON m.conversation_id = c.id
         WHERE m.user_id=$1 AND c.archived = FALSE
         ORDER BY c.priority DESC, c.created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "list conversations")
	}
	return convs, nil
}

// Archive soft-deletes a conversation. Archived threads reject new sends.
func (r *ConversationRepo) Archive(ctx context.Context, conversationID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET archived = TRUE WHERE id=$1`, conversationID)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "archive conversation")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "archive conversation")
	}
	if count == 0 {
		return apperr.New(apperr.NotFound, "conversation %d not found", conversationID)
	}
	return nil
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	if err != nil {
		return false, apperr.Wrap(err, apperr.Transient, "check participant")
	}
	return exists, nil
}

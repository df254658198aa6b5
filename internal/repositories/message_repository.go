package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// MessageRepository is the durable, append-only message log. It owns message
// rows exclusively; other components treat persisted content as read-only.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	// Page returns up to limit messages older than cursor, newest first.
	// cursor == 0 means the most recent page. nextCursor is the id to pass
	// for the following page; hasMore reports whether older messages exist.
	Page(ctx context.Context, conversationID, cursor int64, limit int) ([]models.Message, int64, bool, error)
	Search(ctx context.Context, conversationID int64, query string, limit int) ([]models.SearchHit, error)
	MarkRead(ctx context.Context, conversationID, userID int64) error
	Get(ctx context.Context, messageID int64) (models.Message, error)
	// UpdateStatus applies a forward-only status change: the row is updated
	// only while its current status is one of allowedFrom. A no-op on an
	// existing row yields a Conflict error.
	UpdateStatus(ctx context.Context, messageID int64, allowedFrom []models.MessageStatus, to models.MessageStatus) error
	// RefreshAttachmentURL re-signs the access URL of a stored attachment.
	RefreshAttachmentURL(ctx context.Context, messageID int64, url string) error
}

// MessageRepo is a sqlx-backed MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// messageRow carries the nullable attachment columns of a message row.
type messageRow struct {
	models.Message
	AttName sql.NullString `db:"att_name"`
	AttSize sql.NullInt64  `db:"att_size"`
	AttMime sql.NullString `db:"att_mime"`
	AttPath sql.NullString `db:"att_path"`
	AttURL  sql.NullString `db:"att_url"`
}

func (r messageRow) toMessage() models.Message {
	msg := r.Message
	if r.AttPath.Valid {
		msg.Attachment = &models.AttachmentMeta{
			Name:        r.AttName.String,
			Size:        r.AttSize.Int64,
			MimeType:    r.AttMime.String,
			StoragePath: r.AttPath.String,
			URL:         r.AttURL.String,
		}
	}
	return msg
}

const messageColumns = `id, conversation_id, sender_id, sender_kind, kind, content, status, parent_id, att_name, att_size, att_mime, att_path, att_url, created_at`

// Append persists a message, assigning its durable id and timestamp. The
// BIGSERIAL id keeps per-conversation order unique and monotone under
// concurrent appends.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	var attName, attMime, attPath, attURL *string
	var attSize *int64
	if msg.Attachment != nil {
		attName = &msg.Attachment.Name
		attSize = &msg.Attachment.Size
		attMime = &msg.Attachment.MimeType
		attPath = &msg.Attachment.StoragePath
		attURL = &msg.Attachment.URL
	}

	var row messageRow
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, sender_kind, kind, content, status, parent_id, att_name, att_size, att_mime, att_path, att_url)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
         RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.SenderKind, msg.Kind, msg.Content, msg.Status,
		msg.ParentID, attName, attSize, attMime, attPath, attURL).StructScan(&row)
	if err != nil {
		return models.Message{}, apperr.Wrap(err, apperr.Transient, "append message")
	}
	return row.toMessage(), nil
}

// Page fetches limit+1 rows to learn whether older messages remain.
func (r *MessageRepo) Page(ctx context.Context, conversationID, cursor int64, limit int) ([]models.Message, int64, bool, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1`
	args := []any{conversationID}
	if cursor > 0 {
		query += ` AND id < $2`
		args = append(args, cursor)
	}
	query += ` ORDER BY id DESC LIMIT ` + sqlxLimit(limit+1)

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, false, apperr.Wrap(err, apperr.Transient, "page messages")
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}

	var nextCursor int64
	if len(msgs) > 0 {
		nextCursor = msgs[len(msgs)-1].ID
	}
	return msgs, nextCursor, hasMore, nil
}

// Search matches message text within one conversation. Queries shorter than
// two characters are the caller's fast-path and never reach here.
func (r *MessageRepo) Search(ctx context.Context, conversationID int64, query string, limit int) ([]models.SearchHit, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	type hitRow struct {
		ID        int64          `db:"id"`
		Content   string         `db:"content"`
		CreatedAt sql.NullTime   `db:"created_at"`
		AttName   sql.NullString `db:"att_name"`
	}
	var rows []hitRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, content, created_at, att_name FROM messages
         WHERE conversation_id=$1 AND (content ILIKE '%' || $2 || '%' OR att_name ILIKE '%' || $2 || '%')
         ORDER BY id DESC LIMIT `+sqlxLimit(limit),
		conversationID, escapeLike(query))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "search messages")
	}

	hits := make([]models.SearchHit, 0, len(rows))
	for _, row := range rows {
		text := row.Content
		if text == "" && row.AttName.Valid {
			text = row.AttName.String
		}
		hits = append(hits, models.SearchHit{
			MessageID: row.ID,
			Excerpt:   Excerpt(text, query, 80),
			CreatedAt: row.CreatedAt.Time,
		})
	}
	return hits, nil
}

// MarkRead advances the caller's read cursor to the newest message. The upsert
// uses GREATEST so the cursor is idempotent and never moves backward.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO read_cursors (conversation_id, user_id, last_read_id, updated_at)
         SELECT $1, $2, COALESCE(MAX(id), 0), NOW() FROM messages WHERE conversation_id=$1
         ON CONFLICT (conversation_id, user_id)
         DO UPDATE SET last_read_id = GREATEST(read_cursors.last_read_id, EXCLUDED.last_read_id), updated_at = NOW()`,
		conversationID, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "mark read")
	}
	return nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.New(apperr.NotFound, "message %d not found", messageID)
	}
	if err != nil {
		return models.Message{}, apperr.Wrap(err, apperr.Transient, "get message")
	}
	return row.toMessage(), nil
}

// UpdateStatus enforces the forward-only transition guard in SQL so racing
// updaters cannot move a message backward.
func (r *MessageRepo) UpdateStatus(ctx context.Context, messageID int64, allowedFrom []models.MessageStatus, to models.MessageStatus) error {
	from := make([]string, 0, len(allowedFrom))
	for _, s := range allowedFrom {
		from = append(from, string(s))
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET status=$1 WHERE id=$2 AND status = ANY($3)`,
		to, messageID, pq.Array(from))
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "update message status")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "update message status")
	}
	if count > 0 {
		return nil
	}

	if _, err := r.Get(ctx, messageID); err != nil {
		return err
	}
	return apperr.New(apperr.Conflict, "message %d: transition to %s rejected", messageID, to)
}

// RefreshAttachmentURL stores a re-signed access URL. Attachment URLs are the
// only mutable field besides status.
func (r *MessageRepo) RefreshAttachmentURL(ctx context.Context, messageID int64, url string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET att_url=$1 WHERE id=$2 AND att_path IS NOT NULL`, url, messageID)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "refresh attachment url")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "refresh attachment url")
	}
	if count == 0 {
		return apperr.New(apperr.NotFound, "attachment message %d not found", messageID)
	}
	return nil
}

// Excerpt trims text around the first match of query to at most max runes.
func Excerpt(text, query string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	idx := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := len([]rune(text[:idx])) - max/4
	if start < 0 {
		start = 0
	}
	end := start + max
	if end > len(runes) {
		end = len(runes)
		start = end - max
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func escapeLike(q string) string {
	q = strings.ReplaceAll(q, `\`, `\\`)
	q = strings.ReplaceAll(q, `%`, `\%`)
	return strings.ReplaceAll(q, `_`, `\_`)
}

// sqlxLimit inlines a LIMIT clause; n is always an internally produced
// bounded int, never user input.
func sqlxLimit(n int) string {
	return strconv.Itoa(n)
}

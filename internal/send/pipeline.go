// Package send is the outgoing message pipeline: validate, upload, persist,
// clear typing, broadcast.
package send

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-service/internal/apperr"
	"messaging-service/internal/events"
	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/objectstore"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// DefaultMaxAttachmentSize caps attachment payloads at 10 MiB.
const DefaultMaxAttachmentSize = 10 * 1024 * 1024

// Attachment is the outgoing file payload. StoragePath is filled in by the
// pipeline once the bytes are uploaded; a retry that already carries a
// StoragePath skips the upload and only re-attempts persistence.
type Attachment struct {
	Name        string
	MimeType    string
	Data        []byte
	StoragePath string
}

// Request is one send attempt. Callers retain the request verbatim so a retry
// replays the identical input.
type Request struct {
	ConversationID int64
	SenderID       int64
	SenderKind     models.SenderKind
	Kind           models.MessageKind
	Content        string
	ParentID       *int64
	Attachment     *Attachment
}

// Pipeline validates, persists and broadcasts outgoing messages.
type Pipeline struct {
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	store         objectstore.Store
	hub           *hub.Hub
	emitter       *events.Emitter
	logger        *logrus.Logger

	maxAttachmentSize int64
	signedURLTTL      time.Duration
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	messages repositories.MessageRepository,
	conversations repositories.ConversationRepository,
	store objectstore.Store,
	h *hub.Hub,
	emitter *events.Emitter,
	logger *logrus.Logger,
	maxAttachmentSize int64,
	signedURLTTL time.Duration,
) *Pipeline {
	if maxAttachmentSize <= 0 {
		maxAttachmentSize = DefaultMaxAttachmentSize
	}
	if signedURLTTL <= 0 {
		signedURLTTL = 15 * time.Minute
	}
	return &Pipeline{
		messages:          messages,
		conversations:     conversations,
		store:             store,
		hub:               h,
		emitter:           emitter,
		logger:            logger,
		maxAttachmentSize: maxAttachmentSize,
		signedURLTTL:      signedURLTTL,
	}
}

// Send runs the full pipeline for one request. Validation failures are
// reported before any network or storage call. On success the sender's typing
// signal is cleared and the message is fanned out to subscribers.
func (p *Pipeline) Send(ctx context.Context, req *Request) (models.Message, error) {
	if err := p.validate(req); err != nil {
		observability.IncSendFailure(string(apperr.KindOf(err)))
		return models.Message{}, err
	}

	conv, err := p.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		observability.IncSendFailure(string(apperr.KindOf(err)))
		return models.Message{}, err
	}
	if conv.Archived {
		observability.IncSendFailure(string(apperr.Validation))
		return models.Message{}, apperr.New(apperr.Validation, "conversation %d is archived", conv.ID)
	}

	msg := models.Message{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderKind:     req.SenderKind,
		Kind:           req.Kind,
		Content:        req.Content,
		Status:         models.StatusSent,
		ParentID:       req.ParentID,
	}
	if msg.SenderKind == "" {
		msg.SenderKind = models.SenderUser
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}

	if req.Attachment != nil {
		meta, err := p.stageAttachment(ctx, req)
		if err != nil {
			observability.IncSendFailure(string(apperr.KindOf(err)))
			return models.Message{}, err
		}
		msg.Kind = models.KindFile
		msg.Attachment = &meta
	}

	persisted, err := p.messages.Append(ctx, msg)
	if err != nil {
		observability.IncSendFailure(string(apperr.KindOf(err)))
		// The attachment, if any, is already uploaded and its path is
		// recorded on the request, so a retry persists without re-uploading.
		return models.Message{}, err
	}

	// A sent message always ends its author's typing state.
	p.hub.SetTyping(models.TypingSignal{
		ConversationID: req.ConversationID,
		UserID:         req.SenderID,
		Active:         false,
	})
	p.hub.BroadcastMessage(persisted)
	p.emitter.MessageSent(ctx, persisted)
	observability.IncMessageSent(string(persisted.Kind))

	return persisted, nil
}

func (p *Pipeline) validate(req *Request) error {
	if req.Content == "" && req.Attachment == nil {
		return apperr.New(apperr.Validation, "message needs text or an attachment")
	}
	if req.Attachment != nil {
		att := req.Attachment
		if att.StoragePath == "" && int64(len(att.Data)) > p.maxAttachmentSize {
			return apperr.New(apperr.Validation, "attachment %q exceeds %d bytes", att.Name, p.maxAttachmentSize)
		}
		if att.StoragePath == "" && len(att.Data) == 0 {
			return apperr.New(apperr.Validation, "attachment %q is empty", att.Name)
		}
	}
	return nil
}

// stageAttachment uploads the bytes (unless a retry already did) and signs an
// access URL.
func (p *Pipeline) stageAttachment(ctx context.Context, req *Request) (models.AttachmentMeta, error) {
	att := req.Attachment

	if att.StoragePath == "" {
		storagePath := path.Join(
			fmt.Sprintf("conversations/%d", req.ConversationID),
			uuid.NewString()+path.Ext(att.Name),
		)
		if err := p.store.Upload(ctx, storagePath, att.Data, att.MimeType); err != nil {
			return models.AttachmentMeta{}, err
		}
		// Record the path on the caller's request so a persistence retry is
		// idempotent against the already-uploaded object.
		att.StoragePath = storagePath
	}

	url, err := p.store.SignedURL(ctx, att.StoragePath, p.signedURLTTL)
	if err != nil {
		return models.AttachmentMeta{}, err
	}

	size := int64(len(att.Data))
	return models.AttachmentMeta{
		Name:        att.Name,
		Size:        size,
		MimeType:    att.MimeType,
		StoragePath: att.StoragePath,
		URL:         url,
	}, nil
}

// RefreshAttachmentURL re-signs an expired attachment URL and stores it.
func (p *Pipeline) RefreshAttachmentURL(ctx context.Context, messageID int64) (string, error) {
	msg, err := p.messages.Get(ctx, messageID)
	if err != nil {
		return "", err
	}
	if msg.Attachment == nil {
		return "", apperr.New(apperr.Validation, "message %d has no attachment", messageID)
	}

	url, err := p.store.SignedURL(ctx, msg.Attachment.StoragePath, p.signedURLTTL)
	if err != nil {
		return "", err
	}
	if err := p.messages.RefreshAttachmentURL(ctx, messageID, url); err != nil {
		return "", err
	}
	return url, nil
}

package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/delivery"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/send"
)

// MessageHandler manages message endpoints for one conversation.
type MessageHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	pipeline      *send.Pipeline
	tracker       *delivery.Tracker
	pageSize      int
	searchLimit   int
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	pipeline *send.Pipeline,
	tracker *delivery.Tracker,
	pageSize, searchLimit int,
) *MessageHandler {
	if pageSize <= 0 {
		pageSize = 30
	}
	if searchLimit <= 0 {
		searchLimit = 50
	}
	return &MessageHandler{
		conversations: conversations,
		messages:      messages,
		pipeline:      pipeline,
		tracker:       tracker,
		pageSize:      pageSize,
		searchLimit:   searchLimit,
	}
}

func (h *MessageHandler) requireMember(c *gin.Context, conversationID int64) bool {
	viewer := middleware.ViewerFromContext(c)
	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, viewer.UserID)
	if err != nil {
		respondError(c, err, "failed to verify membership")
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return false
	}
	return true
}

// GetMessages returns one page of messages, newest first, with the cursor for
// the next (older) page.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	var cursor int64
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		cursor = parsed
	}
	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, nextCursor, hasMore, err := h.messages.Page(c.Request.Context(), conversationID, cursor, limit)
	if err != nil && len(msgs) == 0 {
		respondError(c, err, "failed to load messages")
		return
	}

	resp := gin.H{
		"messages":    msgs,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	}
	if err != nil {
		// Partial result: keep what was fetched and flag the failure.
		resp["partial"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// SearchMessages runs a scoped full-text search. Queries shorter than two
// characters short-circuit to an empty result without touching the store.
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	query := c.Query("q")
	if len([]rune(query)) < 2 {
		c.JSON(http.StatusOK, gin.H{"hits": []models.SearchHit{}})
		return
	}

	observability.IncSearchQuery()
	hits, err := h.messages.Search(c.Request.Context(), conversationID, query, h.searchLimit)
	if err != nil {
		respondError(c, err, "search failed")
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

// PostMessage sends a text or file message through the pipeline. Attachment
// bytes arrive base64-encoded; a retry may carry the storage path from the
// failed attempt instead, skipping the re-upload.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		Content    string `json:"content"`
		ParentID   *int64 `json:"parent_id"`
		Attachment *struct {
			Name        string `json:"name"`
			MimeType    string `json:"mime_type"`
			Data        string `json:"data"`
			StoragePath string `json:"storage_path"`
		} `json:"attachment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	viewer := middleware.ViewerFromContext(c)
	sendReq := &send.Request{
		ConversationID: conversationID,
		SenderID:       viewer.UserID,
		SenderKind:     models.SenderUser,
		Kind:           models.KindText,
		Content:        req.Content,
		ParentID:       req.ParentID,
	}
	if req.Attachment != nil {
		data, err := base64.StdEncoding.DecodeString(req.Attachment.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment encoding"})
			return
		}
		sendReq.Kind = models.KindFile
		sendReq.Attachment = &send.Attachment{
			Name:        req.Attachment.Name,
			MimeType:    req.Attachment.MimeType,
			Data:        data,
			StoragePath: req.Attachment.StoragePath,
		}
	}

	msg, err := h.pipeline.Send(c.Request.Context(), sendReq)
	if err != nil {
		resp := gin.H{"error": "failed to send message", "retryable": false}
		if sendReq.Attachment != nil && sendReq.Attachment.StoragePath != "" {
			// The upload survived; the retry can reference it.
			resp["storage_path"] = sendReq.Attachment.StoragePath
		}
		if statusForError(err) >= http.StatusInternalServerError || statusForError(err) == http.StatusGatewayTimeout {
			resp["retryable"] = true
		}
		c.JSON(statusForError(err), resp)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// UpdateStatus lets recipients and channel adapters report delivery
// transitions. A transition rejected by the forward-only rule is a benign
// race and reports success.
func (h *MessageHandler) UpdateStatus(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	var req struct {
		Status models.MessageStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Get(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err, "message not found")
		return
	}
	if msg.ConversationID != conversationID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to conversation"})
		return
	}

	if err := h.tracker.Apply(c.Request.Context(), conversationID, messageID, req.Status); err != nil {
		respondError(c, err, "could not update status")
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkRead advances the caller's read cursor. Idempotent.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	viewer := middleware.ViewerFromContext(c)
	if err := h.messages.MarkRead(c.Request.Context(), conversationID, viewer.UserID); err != nil {
		respondError(c, err, "could not mark read")
		return
	}

	c.Status(http.StatusNoContent)
}

// RefreshAttachment re-signs an expired attachment URL.
func (h *MessageHandler) RefreshAttachment(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	if !h.requireMember(c, conversationID) {
		return
	}

	url, err := h.pipeline.RefreshAttachmentURL(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err, "could not refresh attachment url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

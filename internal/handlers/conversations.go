package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations repositories.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// CreateConversation opens a new thread between the caller and the given
// members.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		Type      models.ConversationType `json:"type"`
		Title     string                  `json:"title" binding:"required"`
		Priority  bool                    `json:"priority"`
		MemberIDs []int64                 `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = models.ConversationDirect
	}
	switch req.Type {
	case models.ConversationDirect, models.ConversationWhatsApp, models.ConversationGroup:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation type"})
		return
	}

	viewer := middleware.ViewerFromContext(c)
	members := append([]int64{viewer.UserID}, req.MemberIDs...)

	conv, err := h.conversations.Create(c.Request.Context(), models.Conversation{
		Type:     req.Type,
		Title:    req.Title,
		Priority: req.Priority,
	}, members)
	if err != nil {
		respondError(c, err, "could not create conversation")
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations returns the caller's conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	viewer := middleware.ViewerFromContext(c)

	convs, err := h.conversations.ListForUser(c.Request.Context(), viewer.UserID)
	if err != nil {
		respondError(c, err, "failed to load conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ArchiveConversation soft-deletes a conversation.
func (h *ConversationHandler) ArchiveConversation(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	viewer := middleware.ViewerFromContext(c)
	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, viewer.UserID)
	if err != nil {
		respondError(c, err, "failed to verify membership")
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	if err := h.conversations.Archive(c.Request.Context(), conversationID); err != nil {
		respondError(c, err, "could not archive conversation")
		return
	}

	c.Status(http.StatusNoContent)
}

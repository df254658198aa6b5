package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// DraftHandler serves one-shot ghost-write requests for clients that do not
// hold a websocket session. Draft review state lives with the caller.
type DraftHandler struct {
	conversations repositories.ConversationRepository
	drafter       ghostwrite.Drafter
	timeout       time.Duration
}

// NewDraftHandler builds a DraftHandler.
func NewDraftHandler(conversations repositories.ConversationRepository, drafter ghostwrite.Drafter, timeout time.Duration) *DraftHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DraftHandler{conversations: conversations, drafter: drafter, timeout: timeout}
}

// CreateDraft parses the compose command and returns the drafted content. On
// timeout or collaborator error the original command is echoed back so the
// caller can retry it verbatim.
func (h *DraftHandler) CreateDraft(c *gin.Context) {
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

	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	query, ok := ghostwrite.ParseCommand(req.Command)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a drafting command"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	content, err := h.drafter.Draft(ctx, conversationID, query)
	if err != nil {
		outcome := "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
			err = apperr.Wrap(err, apperr.Timeout, "drafting request timed out")
		}
		observability.IncDraftRequest(outcome)
		c.JSON(statusForError(err), gin.H{
			"error":     "drafting failed",
			"retryable": true,
			"command":   req.Command,
		})
		return
	}

	observability.IncDraftRequest("success")
	c.JSON(http.StatusOK, gin.H{"query": query, "content": content})
}

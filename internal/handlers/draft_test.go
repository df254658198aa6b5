package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/apperr"
	"messaging-service/internal/handlers"
	"messaging-service/internal/mocks"
)

func setupDraftRouter(t *testing.T, timeout time.Duration) (*gin.Engine, *mocks.ConversationRepository, *mocks.Drafter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conversations := new(mocks.ConversationRepository)
	drafter := new(mocks.Drafter)
	handler := handlers.NewDraftHandler(conversations, drafter, timeout)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Set("displayName", "Ana")
		c.Next()
	})
	router.POST("/conversations/:conversation_id/draft", handler.CreateDraft)
	return router, conversations, drafter
}

func postDraft(router *gin.Engine, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/conversations/1/draft", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateDraftReturnsContent(t *testing.T) {
	router, conversations, drafter := setupDraftRouter(t, time.Second)
	conversations.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(true, nil)
	drafter.On("Draft", mock.Anything, int64(1), "answer about the fees").
		Return("Dear client, our fees are ...", nil)

	w := postDraft(router, gin.H{"command": "@eva answer about the fees"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Query   string `json:"query"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "answer about the fees", resp.Query)
	assert.Equal(t, "Dear client, our fees are ...", resp.Content)
}

func TestCreateDraftRejectsPlainText(t *testing.T) {
	router, conversations, drafter := setupDraftRouter(t, time.Second)
	conversations.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(true, nil)

	w := postDraft(router, gin.H{"command": "hello there"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	drafter.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateDraftEchoesCommandOnFailure(t *testing.T) {
	router, conversations, drafter := setupDraftRouter(t, time.Second)
	conversations.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(true, nil)
	drafter.On("Draft", mock.Anything, int64(1), "draft the demand letter").
		Return("", apperr.New(apperr.Transient, "collaborator down"))

	w := postDraft(router, gin.H{"command": "@eva draft the demand letter"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp struct {
		Retryable bool   `json:"retryable"`
		Command   string `json:"command"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Retryable)
	assert.Equal(t, "@eva draft the demand letter", resp.Command)
}

func TestCreateDraftTimesOut(t *testing.T) {
	router, conversations, drafter := setupDraftRouter(t, 30*time.Millisecond)
	conversations.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(true, nil)
	drafter.On("Draft", mock.Anything, int64(1), "slow request").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return("", context.DeadlineExceeded)

	w := postDraft(router, gin.H{"command": "@eva slow request"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestCreateDraftForbiddenForNonMember(t *testing.T) {
	router, conversations, drafter := setupDraftRouter(t, time.Second)
	conversations.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(false, nil)

	w := postDraft(router, gin.H{"command": "@eva anything"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	drafter.AssertNotCalled(t, "Draft", mock.Anything, mock.Anything, mock.Anything)
}

package ghostwrite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"messaging-service/internal/apperr"
)

// Drafter produces a message draft for a query in the context of one
// conversation. Implementations must honor context cancellation.
type Drafter interface {
	Draft(ctx context.Context, conversationID int64, query string) (string, error)
}

// OpenAIDrafter calls the chat-completion API to produce drafts.
type OpenAIDrafter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *logrus.Logger
}

// NewOpenAIDrafter constructs an OpenAIDrafter.
func NewOpenAIDrafter(apiKey, model string, maxTokens int, temperature float64, logger *logrus.Logger) *OpenAIDrafter {
	return &OpenAIDrafter{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

const systemPrompt = "You draft professional, concise messages a lawyer sends to a client. " +
	"Write only the message body, ready to send, in the language of the request. " +
	"Never mention that you are an assistant."

// Draft requests a single completion for the query.
func (d *OpenAIDrafter) Draft(ctx context.Context, conversationID int64, query string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Conversation %d. Request: %s", conversationID, query)},
		},
		MaxTokens:   d.maxTokens,
		Temperature: float32(d.temperature),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(ctx.Err(), apperr.Timeout, "drafting request cancelled")
		}
		d.logger.WithError(err).Error("drafting request failed")
		return "", apperr.Wrap(err, apperr.Transient, "drafting request failed")
	}

	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.Transient, "drafting response empty")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.New(apperr.Transient, "drafting response empty")
	}
	return content, nil
}

package ghostwrite

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"messaging-service/internal/apperr"
	"messaging-service/internal/observability"
)

// Draft is the reviewable candidate produced by a drafting request. It lives
// only in its session and is never persisted.
type Draft struct {
	Query   string
	Content string
	Edited  bool
}

// Mediator manages at most one live draft per session. While a drafting
// request is in flight the compose input is disabled, so a second overlapping
// request from the same session is rejected rather than racing the first.
type Mediator struct {
	drafter Drafter
	timeout time.Duration
	logger  *logrus.Logger

	mu       sync.Mutex
	inFlight bool
	draft    *Draft
}

// NewMediator constructs a Mediator. timeout bounds each drafting request.
func NewMediator(drafter Drafter, timeout time.Duration, logger *logrus.Logger) *Mediator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mediator{drafter: drafter, timeout: timeout, logger: logger}
}

// Busy reports whether a drafting request is in flight, meaning the compose
// input is disabled.
func (m *Mediator) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Current returns a copy of the live draft, if any.
func (m *Mediator) Current() (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return Draft{}, false
	}
	return *m.draft, true
}

// Request issues a bounded drafting request for the query. It fails with a
// Validation error if a draft is already pending or in flight, and with a
// Timeout error when the collaborator does not answer in time; the original
// query stays recoverable from the returned draft's Query on success and from
// the caller's retained input on failure.
func (m *Mediator) Request(ctx context.Context, conversationID int64, query string) (Draft, error) {
	if query == "" {
		return Draft{}, apperr.New(apperr.Validation, "empty drafting query")
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return Draft{}, apperr.New(apperr.Validation, "a drafting request is already in flight")
	}
	if m.draft != nil {
		m.mu.Unlock()
		return Draft{}, apperr.New(apperr.Validation, "a draft is already pending review")
	}
	m.inFlight = true
	m.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	content, err := m.drafter.Draft(reqCtx, conversationID, query)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false

	if err != nil {
		outcome := "error"
		if reqCtx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
			err = apperr.Wrap(err, apperr.Timeout, "drafting request timed out")
		}
		observability.IncDraftRequest(outcome)
		m.logger.WithError(err).WithField("conversation_id", conversationID).Warn("ghost-write request failed")
		return Draft{}, err
	}

	m.draft = &Draft{Query: query, Content: content}
	observability.IncDraftRequest("success")
	return *m.draft, nil
}

// Edit replaces the draft text with the user's revision.
func (m *Mediator) Edit(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return apperr.New(apperr.Validation, "no draft to edit")
	}
	m.draft.Content = content
	m.draft.Edited = true
	return nil
}

// TakeForSend returns the current edited text and clears the candidate. The
// caller routes the text through the normal send pipeline.
func (m *Mediator) TakeForSend() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return "", apperr.New(apperr.Validation, "no draft to send")
	}
	content := m.draft.Content
	m.draft = nil
	return content, nil
}

// Discard clears the candidate without sending.
func (m *Mediator) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = nil
}

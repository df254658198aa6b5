package session

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/apperr"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/hub"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/send"
)

type sessionFixture struct {
	messages      *mocks.MessageRepository
	conversations *mocks.ConversationRepository
	store         *mocks.ObjectStore
	drafter       *mocks.Drafter
	hub           *hub.Hub
	session       *Session
	cancel        context.CancelFunc
}

func newSessionFixture(t *testing.T, cfg Config) *sessionFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &sessionFixture{
		messages:      new(mocks.MessageRepository),
		conversations: new(mocks.ConversationRepository),
		store:         new(mocks.ObjectStore),
		drafter:       new(mocks.Drafter),
		hub:           hub.NewHub(logger),
	}
	pipeline := send.NewPipeline(
		f.messages, f.conversations, f.store, f.hub, nil, logger,
		send.DefaultMaxAttachmentSize, 15*time.Minute,
	)
	mediator := ghostwrite.NewMediator(f.drafter, time.Second, logger)
	f.session = New(1, 10, "Ana", f.messages, pipeline, mediator, f.hub, logger, cfg)
	return f
}

// start runs the session with the standard open-conversation expectations and
// waits for the initial page to land.
func (f *sessionFixture) start(t *testing.T, initial []models.Message) {
	t.Helper()
	f.messages.On("MarkRead", mock.Anything, int64(1), int64(10)).Return(nil)
	f.messages.On("Page", mock.Anything, int64(1), int64(0), mock.Anything).
		Return(initial, int64(0), false, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(func() {
		f.session.Close()
		cancel()
	})
	go f.session.Run(ctx)

	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().Window) == len(initial)
	}, time.Second, 10*time.Millisecond)
}

func TestRunMarksReadOnceAndLoadsFirstPage(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.start(t, []models.Message{
		{ID: 1, ConversationID: 1, Content: "older"},
		{ID: 2, ConversationID: 1, Content: "newer"},
	})

	view := f.session.Snapshot()
	require.Len(t, view.Window, 2)
	assert.Equal(t, int64(1), view.Window[0].Message.ID)
	assert.Equal(t, int64(2), view.Window[1].Message.ID)

	// A message arriving while the conversation is open does not re-mark.
	f.hub.BroadcastMessage(models.Message{ID: 3, ConversationID: 1, Content: "incoming"})
	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().Window) == 3
	}, time.Second, 10*time.Millisecond)

	f.messages.AssertNumberOfCalls(t, "MarkRead", 1)
}

func TestBroadcastDeliveryIsDeduplicated(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.start(t, nil)

	msg := models.Message{ID: 7, ConversationID: 1, Content: "once"}
	f.hub.BroadcastMessage(msg)
	f.hub.BroadcastMessage(msg)

	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().Window) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.session.Snapshot().Window, 1)
}

func TestSubmitInputConfirmsOptimisticEntry(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.conversations.On("Get", mock.Anything, int64(1)).
		Return(models.Conversation{ID: 1, Title: "Case"}, nil)
	f.messages.On("Append", mock.Anything, mock.Anything).
		Return(models.Message{ID: 11, ConversationID: 1, SenderID: 10, Content: "hello", Status: models.StatusSent}, nil)
	f.start(t, nil)

	f.session.SubmitInput(context.Background(), "hello")

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return len(view.Window) == 1 && !view.Window[0].Pending &&
			view.Window[0].Message.ID == 11
	}, time.Second, 10*time.Millisecond)
}

func TestFailedSendStaysVisibleAndRetriesVerbatim(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.conversations.On("Get", mock.Anything, int64(1)).
		Return(models.Conversation{ID: 1, Title: "Case"}, nil)
	f.messages.On("Append", mock.Anything, mock.Anything).
		Return(models.Message{}, apperr.New(apperr.Transient, "db down")).Once()
	f.messages.On("Append", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Content == "please resend this exact text"
	})).Return(models.Message{ID: 12, ConversationID: 1, Content: "please resend this exact text", Status: models.StatusSent}, nil).Once()
	f.start(t, nil)

	f.session.SubmitInput(context.Background(), "please resend this exact text")

	var clientID string
	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		if len(view.Window) != 1 || !view.Window[0].Failed {
			return false
		}
		clientID = view.Window[0].ClientID
		return true
	}, time.Second, 10*time.Millisecond)

	view := f.session.Snapshot()
	assert.Equal(t, models.StatusFailed, view.Window[0].Message.Status)

	f.session.Retry(context.Background(), clientID)

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return len(view.Window) == 1 && view.Window[0].Message.ID == 12 && !view.Window[0].Failed
	}, time.Second, 10*time.Millisecond)
	f.messages.AssertExpectations(t)
}

func TestKeystrokeRaisesTypingUntilSilence(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5, TypingTTL: 60 * time.Millisecond})
	f.start(t, nil)

	f.session.Keystroke(context.Background())

	require.Eventually(t, func() bool {
		return len(f.hub.TypingSet(1)) == 1
	}, time.Second, 5*time.Millisecond)

	// Continued typing keeps the signal alive past a single TTL.
	time.Sleep(40 * time.Millisecond)
	f.session.Keystroke(context.Background())
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, f.hub.TypingSet(1), 1)

	// Silence expires it.
	require.Eventually(t, func() bool {
		return len(f.hub.TypingSet(1)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestShortSearchQueryNeverHitsStore(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5, SearchDebounce: 10 * time.Millisecond})
	f.start(t, nil)

	f.session.SetSearchQuery(context.Background(), "a")
	time.Sleep(60 * time.Millisecond)

	assert.Nil(t, f.session.Snapshot().SearchHits)
	f.messages.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchDebouncesAndReturnsHits(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5, SearchDebounce: 30 * time.Millisecond})
	f.messages.On("Search", mock.Anything, int64(1), "invoice", mock.Anything).
		Return([]models.SearchHit{{MessageID: 4, Excerpt: "the invoice is overdue"}}, nil)
	f.start(t, nil)

	// Rapid refinement: only the settled query reaches the store.
	f.session.SetSearchQuery(context.Background(), "inv")
	f.session.SetSearchQuery(context.Background(), "invo")
	f.session.SetSearchQuery(context.Background(), "invoice")

	require.Eventually(t, func() bool {
		hits := f.session.Snapshot().SearchHits
		return len(hits) == 1 && hits[0].MessageID == 4
	}, time.Second, 10*time.Millisecond)
	f.messages.AssertNumberOfCalls(t, "Search", 1)
}

func TestClearingSearchResetsHits(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5, SearchDebounce: 10 * time.Millisecond})
	f.messages.On("Search", mock.Anything, int64(1), "invoice", mock.Anything).
		Return([]models.SearchHit{{MessageID: 4}}, nil)
	f.start(t, nil)

	f.session.SetSearchQuery(context.Background(), "invoice")
	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().SearchHits) == 1
	}, time.Second, 10*time.Millisecond)

	f.session.SetSearchQuery(context.Background(), "")
	require.Eventually(t, func() bool {
		return f.session.Snapshot().SearchHits == nil
	}, time.Second, 10*time.Millisecond)
}

func TestSelectSearchHitInWindowHighlights(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.start(t, []models.Message{{ID: 4, ConversationID: 1, Content: "the invoice"}})

	f.session.SelectSearchHit(context.Background(), 4)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Highlight == int64(4)
	}, time.Second, 10*time.Millisecond)
}

func TestSelectSearchHitSeeksOlderPages(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 2})
	f.messages.On("MarkRead", mock.Anything, int64(1), int64(10)).Return(nil)
	f.messages.On("Page", mock.Anything, int64(1), int64(0), 2).
		Return([]models.Message{{ID: 20, ConversationID: 1}, {ID: 19, ConversationID: 1}}, int64(19), true, nil).Once()
	f.messages.On("Page", mock.Anything, int64(1), int64(19), 2).
		Return([]models.Message{{ID: 18, ConversationID: 1}, {ID: 17, ConversationID: 1}}, int64(17), true, nil).Once()
	f.messages.On("Page", mock.Anything, int64(1), int64(17), 2).
		Return([]models.Message{{ID: 16, ConversationID: 1, Content: "target"}, {ID: 15, ConversationID: 1}}, int64(15), false, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		f.session.Close()
		cancel()
	})
	go f.session.Run(ctx)

	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().Window) == 2
	}, time.Second, 10*time.Millisecond)

	f.session.SelectSearchHit(context.Background(), 16)

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return view.Highlight == int64(16) && len(view.Window) == 6 && !view.HasMore
	}, time.Second, 10*time.Millisecond)
	f.messages.AssertExpectations(t)
}

func TestLoadOlderExtendsWindow(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 2})
	f.messages.On("MarkRead", mock.Anything, int64(1), int64(10)).Return(nil)
	f.messages.On("Page", mock.Anything, int64(1), int64(0), 2).
		Return([]models.Message{{ID: 20, ConversationID: 1}, {ID: 19, ConversationID: 1}}, int64(19), true, nil).Once()
	f.messages.On("Page", mock.Anything, int64(1), int64(19), 2).
		Return([]models.Message{{ID: 18, ConversationID: 1}}, int64(18), false, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		f.session.Close()
		cancel()
	})
	go f.session.Run(ctx)

	require.Eventually(t, func() bool {
		return len(f.session.Snapshot().Window) == 2
	}, time.Second, 10*time.Millisecond)

	f.session.LoadOlder(context.Background())

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return len(view.Window) == 3 && !view.HasMore &&
			view.Window[0].Message.ID == 18
	}, time.Second, 10*time.Millisecond)
}

func TestDraftCommandProducesReviewableDraft(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.drafter.On("Draft", mock.Anything, int64(1), "answer the client about fees").
		Return("Dear client, our fees are ...", nil)
	f.start(t, nil)

	f.session.SubmitInput(context.Background(), "@eva answer the client about fees")

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return view.Draft != nil && view.Draft.Content == "Dear client, our fees are ..."
	}, time.Second, 10*time.Millisecond)

	// Drafting does not put anything in the message window.
	assert.Empty(t, f.session.Snapshot().Window)
}

func TestFailedDraftKeepsCommandForRetry(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.drafter.On("Draft", mock.Anything, int64(1), "draft the demand letter").
		Return("", apperr.New(apperr.Transient, "collaborator down")).Once()
	f.drafter.On("Draft", mock.Anything, int64(1), "draft the demand letter").
		Return("Demand letter draft", nil).Once()
	f.start(t, nil)

	f.session.SubmitInput(context.Background(), "@eva draft the demand letter")

	require.Eventually(t, func() bool {
		return f.session.Snapshot().LastFailedCommand == "@eva draft the demand letter"
	}, time.Second, 10*time.Millisecond)

	f.session.RetryDraft(context.Background())

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return view.Draft != nil && view.LastFailedCommand == ""
	}, time.Second, 10*time.Millisecond)
	f.drafter.AssertExpectations(t)
}

func TestSendDraftRoutesThroughPipeline(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.drafter.On("Draft", mock.Anything, int64(1), "confirm the appointment").
		Return("We confirm Tuesday at 10.", nil)
	f.conversations.On("Get", mock.Anything, int64(1)).
		Return(models.Conversation{ID: 1, Title: "Case"}, nil)
	f.messages.On("Append", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Content == "We confirm Tuesday at 10. Edited."
	})).Return(models.Message{ID: 30, ConversationID: 1, Content: "We confirm Tuesday at 10. Edited.", Status: models.StatusSent}, nil)
	f.start(t, nil)

	f.session.SubmitInput(context.Background(), "@eva confirm the appointment")
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Draft != nil
	}, time.Second, 10*time.Millisecond)

	f.session.EditDraft("We confirm Tuesday at 10. Edited.")
	f.session.SendDraft(context.Background())

	require.Eventually(t, func() bool {
		view := f.session.Snapshot()
		return view.Draft == nil && len(view.Window) == 1 && view.Window[0].Message.ID == 30
	}, time.Second, 10*time.Millisecond)
}

func TestStatusEventsApplyForwardOnly(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.start(t, []models.Message{{ID: 5, ConversationID: 1, Status: models.StatusSent}})

	f.hub.BroadcastStatus(1, 5, models.StatusRead)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Window[0].Message.Status == models.StatusRead
	}, time.Second, 10*time.Millisecond)

	// A late, stale delivered event does not regress read.
	f.hub.BroadcastStatus(1, 5, models.StatusDelivered)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StatusRead, f.session.Snapshot().Window[0].Message.Status)
}

func TestTypingEventsExcludeViewer(t *testing.T) {
	f := newSessionFixture(t, Config{PageSize: 5})
	f.start(t, nil)

	f.hub.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 11, DisplayName: "Boris", Active: true})
	f.hub.SetTyping(models.TypingSignal{ConversationID: 1, UserID: 10, DisplayName: "Ana", Active: true})

	require.Eventually(t, func() bool {
		typing := f.session.Snapshot().Typing
		return len(typing) == 1 && typing[0].UserID == 11
	}, time.Second, 10*time.Millisecond)
}

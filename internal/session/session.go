// Package session is the per-viewer read-model of one open conversation. All
// state is owned by a single event loop; store and broadcaster results enter
// as posted closures, never as direct mutation from other goroutines.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"messaging-service/internal/apperr"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/send"
)

const searchMinLength = 2

var statusRank = map[models.MessageStatus]int{
	models.StatusSending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
}

// Entry is one row of the visible message window. Optimistic entries carry a
// client id until persistence confirms them; failed entries retain the
// original request so one action retries it verbatim.
type Entry struct {
	ClientID string         `json:"client_id,omitempty"`
	Message  models.Message `json:"message"`
	Pending  bool           `json:"pending,omitempty"`
	Failed   bool           `json:"failed,omitempty"`

	retry *send.Request
}

// View is an immutable snapshot of the session for rendering. SearchHits is
// nil when no search has run, and empty (non-nil) when a search found nothing.
type View struct {
	Window            []Entry
	Typing            []models.TypingSignal
	SearchHits        []models.SearchHit
	Highlight         int64
	HasMore           bool
	Draft             *ghostwrite.Draft
	DraftBusy         bool
	LastFailedCommand string
}

// Config carries the session tunables.
type Config struct {
	PageSize       int
	SearchDebounce time.Duration
	TypingTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.SearchDebounce <= 0 {
		c.SearchDebounce = 300 * time.Millisecond
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	return c
}

// Session mediates one viewer's actions against the store, the send pipeline,
// the ghost-write mediator and the broadcaster.
type Session struct {
	conversationID int64
	userID         int64
	displayName    string

	store    repositories.MessageRepository
	pipeline *send.Pipeline
	mediator *ghostwrite.Mediator
	hub      *hub.Hub
	logger   *logrus.Logger
	cfg      Config

	commands chan func()
	done     chan struct{}
	updates  chan struct{}

	searchDebounce *Debounce
	typingExpiry   *Debounce

	// Everything below is owned by the run loop.
	sub               *hub.Subscriber
	window            []Entry
	typing            []models.TypingSignal
	searchHits        []models.SearchHit
	searchSeq         int
	highlight         int64
	nextCursor        int64
	hasMore           bool
	typingActive      bool
	seeking           bool
	lastFailedCommand string
}

// New constructs a Session for one viewer of one conversation.
func New(
	conversationID, userID int64,
	displayName string,
	store repositories.MessageRepository,
	pipeline *send.Pipeline,
	mediator *ghostwrite.Mediator,
	h *hub.Hub,
	logger *logrus.Logger,
	cfg Config,
) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		conversationID: conversationID,
		userID:         userID,
		displayName:    displayName,
		store:          store,
		pipeline:       pipeline,
		mediator:       mediator,
		hub:            h,
		logger:         logger,
		cfg:            cfg,
		commands:       make(chan func(), 32),
		done:           make(chan struct{}),
		updates:        make(chan struct{}, 1),
		searchDebounce: NewDebounce(cfg.SearchDebounce),
		typingExpiry:   NewDebounce(cfg.TypingTTL),
	}
}

// Updates signals that the view changed; consumers pull Snapshot afterwards.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Run subscribes, marks the conversation read exactly once, loads the first
// page and then serves the event loop until ctx ends or Close is called.
func (s *Session) Run(ctx context.Context) error {
	sub, typingSet := s.hub.Subscribe(s.conversationID, s.userID, uuid.NewString())
	s.sub = sub
	defer s.hub.Unsubscribe(sub)
	defer s.searchDebounce.Cancel()
	defer s.typingExpiry.Cancel()

	s.typing = s.filterTyping(typingSet)

	// Opening the conversation marks it read; messages arriving while it is
	// already open do not re-issue this.
	if err := s.store.MarkRead(ctx, s.conversationID, s.userID); err != nil {
		s.logger.WithError(err).Warn("mark read failed")
	}

	msgs, next, more, err := s.store.Page(ctx, s.conversationID, 0, s.cfg.PageSize)
	if err != nil && len(msgs) == 0 {
		return err
	}
	if err != nil {
		// Partial page: keep what was fetched.
		s.logger.WithError(err).Warn("initial page partially failed")
	}
	s.mergeMessages(msgs)
	s.nextCursor = next
	s.hasMore = more
	s.notify()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return apperr.New(apperr.Transient, "subscription closed")
			}
			s.handleEvent(event)
			s.notify()
		case fn := <-s.commands:
			fn()
			s.notify()
		}
	}
}

// Close stops the run loop.
func (s *Session) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Snapshot returns a copy of the current view state.
func (s *Session) Snapshot() View {
	reply := make(chan View, 1)
	s.post(func() {
		var draft *ghostwrite.Draft
		if d, ok := s.mediator.Current(); ok {
			draft = &d
		}
		view := View{
			Window:            append([]Entry(nil), s.window...),
			Typing:            append([]models.TypingSignal(nil), s.typing...),
			Highlight:         s.highlight,
			HasMore:           s.hasMore,
			Draft:             draft,
			DraftBusy:         s.mediator.Busy(),
			LastFailedCommand: s.lastFailedCommand,
		}
		if s.searchHits != nil {
			view.SearchHits = append([]models.SearchHit(nil), s.searchHits...)
		}
		reply <- view
	})
	select {
	case view := <-reply:
		return view
	case <-s.done:
		return View{}
	}
}

// SubmitInput routes compose input: a ghost-write command starts a drafting
// request, anything else goes through the send pipeline optimistically.
func (s *Session) SubmitInput(ctx context.Context, text string) {
	if query, ok := ghostwrite.ParseCommand(text); ok {
		s.requestDraft(ctx, text, query)
		return
	}
	if text == "" {
		return
	}
	s.sendMessage(ctx, &send.Request{
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		SenderKind:     models.SenderUser,
		Kind:           models.KindText,
		Content:        text,
	})
}

// SendAttachment sends a file message through the pipeline.
func (s *Session) SendAttachment(ctx context.Context, name, mimeType string, data []byte, caption string) {
	s.sendMessage(ctx, &send.Request{
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		SenderKind:     models.SenderUser,
		Kind:           models.KindFile,
		Content:        caption,
		Attachment:     &send.Attachment{Name: name, MimeType: mimeType, Data: data},
	})
}

// Retry replays a failed entry with its original input, byte for byte.
func (s *Session) Retry(ctx context.Context, clientID string) {
	s.post(func() {
		idx := s.findByClientID(clientID)
		if idx < 0 || !s.window[idx].Failed || s.window[idx].retry == nil {
			return
		}
		entry := &s.window[idx]
		entry.Failed = false
		entry.Pending = true
		entry.Message.Status = models.StatusSending
		req := entry.retry
		go s.dispatch(ctx, clientID, req)
	})
}

// Keystroke reports composing activity: it raises the typing signal and
// re-arms its expiry, so three seconds of silence lowers it again.
func (s *Session) Keystroke(ctx context.Context) {
	s.post(func() {
		if !s.typingActive {
			s.typingActive = true
			s.hub.SetTyping(models.TypingSignal{
				ConversationID: s.conversationID,
				UserID:         s.userID,
				DisplayName:    s.displayName,
				Active:         true,
			})
		}
		s.typingExpiry.Arm(func() {
			s.post(func() { s.stopTyping() })
		})
	})
}

// SetSearchQuery debounces the query before it reaches the store. Queries
// shorter than two characters clear the results without any store call.
func (s *Session) SetSearchQuery(ctx context.Context, query string) {
	s.post(func() {
		s.searchSeq++
		seq := s.searchSeq
		if len([]rune(query)) < searchMinLength {
			s.searchDebounce.Cancel()
			s.searchHits = nil
			s.highlight = 0
			return
		}
		s.searchDebounce.Arm(func() {
			go s.runSearch(ctx, seq, query)
		})
	})
}

// SelectSearchHit scrolls the window to a search result. A target older than
// the loaded window triggers backward paging until it is found or the log is
// exhausted.
func (s *Session) SelectSearchHit(ctx context.Context, messageID int64) {
	s.post(func() {
		if s.findByID(messageID) >= 0 {
			s.highlight = messageID
			return
		}
		if s.seeking || !s.hasMore {
			return
		}
		s.seeking = true
		cursor := s.nextCursor
		go s.seekOlder(ctx, messageID, cursor)
	})
}

// LoadOlder fetches one more page of history.
func (s *Session) LoadOlder(ctx context.Context) {
	s.post(func() {
		if s.seeking || !s.hasMore {
			return
		}
		s.seeking = true
		cursor := s.nextCursor
		go func() {
			msgs, next, more, err := s.store.Page(ctx, s.conversationID, cursor, s.cfg.PageSize)
			s.post(func() {
				s.seeking = false
				if err != nil {
					s.logger.WithError(err).Warn("load older page failed")
				}
				s.mergeMessages(msgs)
				if len(msgs) > 0 {
					s.nextCursor = next
					s.hasMore = more
				}
			})
		}()
	})
}

// EditDraft replaces the ghost-write draft text.
func (s *Session) EditDraft(content string) {
	s.post(func() {
		if err := s.mediator.Edit(content); err != nil {
			s.logger.WithError(err).Debug("draft edit ignored")
		}
	})
}

// SendDraft routes the current edited draft text through the send pipeline
// and clears the candidate.
func (s *Session) SendDraft(ctx context.Context) {
	s.post(func() {
		content, err := s.mediator.TakeForSend()
		if err != nil {
			s.logger.WithError(err).Debug("draft send ignored")
			return
		}
		s.sendMessage(ctx, &send.Request{
			ConversationID: s.conversationID,
			SenderID:       s.userID,
			SenderKind:     models.SenderUser,
			Kind:           models.KindText,
			Content:        content,
		})
	})
}

// DiscardDraft clears the candidate without sending.
func (s *Session) DiscardDraft() {
	s.post(func() { s.mediator.Discard() })
}

// RetryDraft replays the last failed ghost-write command verbatim.
func (s *Session) RetryDraft(ctx context.Context) {
	s.post(func() {
		command := s.lastFailedCommand
		if command == "" {
			return
		}
		s.lastFailedCommand = ""
		query, ok := ghostwrite.ParseCommand(command)
		if !ok {
			return
		}
		go s.runDraftRequest(ctx, command, query)
	})
}

func (s *Session) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) sendMessage(ctx context.Context, req *send.Request) {
	clientID := uuid.NewString()
	s.post(func() {
		s.window = append(s.window, Entry{
			ClientID: clientID,
			Pending:  true,
			Message: models.Message{
				ConversationID: req.ConversationID,
				SenderID:       req.SenderID,
				SenderKind:     req.SenderKind,
				Kind:           req.Kind,
				Content:        req.Content,
				Status:         models.StatusSending,
				CreatedAt:      time.Now(),
			},
			retry: req,
		})
		go s.dispatch(ctx, clientID, req)
	})
}

// dispatch runs the pipeline off the loop and posts the outcome back.
func (s *Session) dispatch(ctx context.Context, clientID string, req *send.Request) {
	persisted, err := s.pipeline.Send(ctx, req)
	s.post(func() {
		idx := s.findByClientID(clientID)
		if idx < 0 {
			return
		}
		if err != nil {
			// The optimistic entry stays visible, flagged failed, with the
			// original input retained for a one-action retry.
			s.window[idx].Pending = false
			s.window[idx].Failed = true
			s.window[idx].Message.Status = models.StatusFailed
			s.logger.WithError(err).WithField("client_id", clientID).Warn("send failed")
			return
		}
		s.typingExpiry.Cancel()
		s.typingActive = false
		if s.findByID(persisted.ID) >= 0 {
			// The broadcast already delivered it; drop the optimistic entry.
			s.window = append(s.window[:idx], s.window[idx+1:]...)
			return
		}
		s.window[idx] = Entry{Message: persisted}
		s.sortWindow()
	})
}

func (s *Session) requestDraft(ctx context.Context, command, query string) {
	s.post(func() {
		// A drafting command ends the author's typing state immediately.
		s.stopTyping()
		go s.runDraftRequest(ctx, command, query)
	})
}

func (s *Session) runDraftRequest(ctx context.Context, command, query string) {
	_, err := s.mediator.Request(ctx, s.conversationID, query)
	s.post(func() {
		if err != nil && apperr.Retryable(err) {
			// Keep the original trigger command so retry restores it verbatim.
			s.lastFailedCommand = command
			return
		}
		if err != nil {
			s.logger.WithError(err).Debug("draft request rejected")
			return
		}
		s.lastFailedCommand = ""
	})
}

func (s *Session) runSearch(ctx context.Context, seq int, query string) {
	observability.IncSearchQuery()
	hits, err := s.store.Search(ctx, s.conversationID, query, 50)
	s.post(func() {
		if seq != s.searchSeq {
			// A newer query superseded this one.
			return
		}
		if err != nil {
			s.logger.WithError(err).Warn("search failed")
			return
		}
		if hits == nil {
			hits = []models.SearchHit{}
		}
		s.searchHits = hits
	})
}

func (s *Session) seekOlder(ctx context.Context, messageID, cursor int64) {
	var (
		collected []models.Message
		next      = cursor
		more      = true
		found     bool
	)
	for more && !found {
		msgs, n, m, err := s.store.Page(ctx, s.conversationID, next, s.cfg.PageSize)
		if err != nil {
			s.logger.WithError(err).Warn("seek to message failed")
			break
		}
		collected = append(collected, msgs...)
		next, more = n, m
		for _, msg := range msgs {
			if msg.ID == messageID {
				found = true
				break
			}
		}
		if len(msgs) == 0 {
			break
		}
	}
	s.post(func() {
		s.seeking = false
		s.mergeMessages(collected)
		s.nextCursor = next
		s.hasMore = more
		if found {
			s.highlight = messageID
		}
	})
}

func (s *Session) stopTyping() {
	s.typingExpiry.Cancel()
	if !s.typingActive {
		return
	}
	s.typingActive = false
	s.hub.SetTyping(models.TypingSignal{
		ConversationID: s.conversationID,
		UserID:         s.userID,
		Active:         false,
	})
}

func (s *Session) handleEvent(event models.ConversationEvent) {
	switch event.Type {
	case models.EventMessage:
		if event.Message != nil {
			s.mergeMessages([]models.Message{*event.Message})
		}
	case models.EventTyping:
		s.typing = s.filterTyping(event.Typing)
	case models.EventStatus:
		s.applyStatus(event.MessageID, event.Status)
	}
}

// mergeMessages folds store or broadcast messages into the window, keyed by
// message id. Duplicate delivery is expected and harmless.
func (s *Session) mergeMessages(msgs []models.Message) {
	changed := false
	for _, msg := range msgs {
		if s.findByID(msg.ID) >= 0 {
			continue
		}
		s.window = append(s.window, Entry{Message: msg})
		changed = true
	}
	if changed {
		s.sortWindow()
	}
}

// applyStatus applies a broadcast status change, forward-only, to the local
// copy.
func (s *Session) applyStatus(messageID int64, status models.MessageStatus) {
	idx := s.findByID(messageID)
	if idx < 0 {
		return
	}
	current := s.window[idx].Message.Status
	if status == models.StatusFailed {
		if current == models.StatusSending || current == models.StatusSent {
			s.window[idx].Message.Status = status
		}
		return
	}
	if statusRank[status] > statusRank[current] {
		s.window[idx].Message.Status = status
	}
}

// sortWindow orders confirmed entries by id; optimistic entries keep their
// insertion position at the tail.
func (s *Session) sortWindow() {
	sort.SliceStable(s.window, func(i, j int) bool {
		a, b := s.window[i], s.window[j]
		if a.Message.ID == 0 || b.Message.ID == 0 {
			return false
		}
		return a.Message.ID < b.Message.ID
	})
}

func (s *Session) findByID(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range s.window {
		if s.window[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) findByClientID(clientID string) int {
	for i := range s.window {
		if s.window[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

// filterTyping drops the viewer's own signal from the display set.
func (s *Session) filterTyping(set []models.TypingSignal) []models.TypingSignal {
	out := make([]models.TypingSignal, 0, len(set))
	for _, sig := range set {
		if sig.UserID == s.userID {
			continue
		}
		out = append(out, sig)
	}
	return out
}

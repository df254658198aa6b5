package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/events"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/hub"
	"messaging-service/internal/identity"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/send"
	"messaging-service/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func parseConversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

// clientFrame is one inbound command from the viewer's client.
type clientFrame struct {
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	Query     string `json:"query,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`

	// Attachment fields for action "send_file".
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ConversationWebSocketHandler owns the live conversation connections. Each
// connection gets its own Session whose snapshots are pushed to the client.
type ConversationWebSocketHandler struct {
	hub           *hub.Hub
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	pipeline      *send.Pipeline
	drafter       ghostwrite.Drafter
	provider      identity.Provider
	emitter       *events.Emitter
	logger        *logrus.Logger
	sessionCfg    session.Config
	draftTimeout  time.Duration
}

// NewConversationWebSocketHandler constructs the handler.
func NewConversationWebSocketHandler(
	h *hub.Hub,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	pipeline *send.Pipeline,
	drafter ghostwrite.Drafter,
	provider identity.Provider,
	emitter *events.Emitter,
	logger *logrus.Logger,
	sessionCfg session.Config,
	draftTimeout time.Duration,
) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{
		hub:           h,
		conversations: conversations,
		messages:      messages,
		pipeline:      pipeline,
		drafter:       drafter,
		provider:      provider,
		emitter:       emitter,
		logger:        logger,
		sessionCfg:    sessionCfg,
		draftTimeout:  draftTimeout,
	}
}

// Handle upgrades the connection and serves the conversation session.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	viewer, err := h.provider.ViewerFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	member, err := h.conversations.IsParticipant(ctx, conversationID, viewer.UserID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      viewer.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	observability.IncWSEvent("conversation", "ws_connect")
	h.emitter.WSEvent(ctx, "ws_connect", conversationID, viewer.UserID, info.ConnID, "", 0)

	sess := session.New(
		conversationID, viewer.UserID, viewer.DisplayName,
		h.messages, h.pipeline,
		ghostwrite.NewMediator(h.drafter, h.draftTimeout, h.logger),
		h.hub, h.logger, h.sessionCfg,
	)

	go h.serve(conn, sess, conversationID, info)
}

// serve owns the connection: one goroutine runs the session, one pushes
// snapshots, the read loop feeds client commands into the session.
func (h *ConversationWebSocketHandler) serve(conn *websocket.Conn, sess *session.Session, conversationID int64, info ConnInfo) {
	ctx, cancel := context.WithCancel(context.Background())
	var closeReason string

	defer func() {
		cancel()
		sess.Close()
		conn.Close()
		observability.IncWSEvent("conversation", "ws_disconnect")
		h.emitter.WSEvent(context.Background(), "ws_disconnect", conversationID, info.UserID, info.ConnID,
			closeReason, time.Since(info.ConnectedAt))
	}()

	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			h.logger.WithError(err).WithField("conn_id", info.ConnID).Warn("session ended")
		}
		cancel()
	}()

	// Snapshot pusher.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Updates():
				view := sess.Snapshot()
				payload, err := json.Marshal(view)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.logger.WithError(err).WithField("conn_id", info.ConnID).Debug("websocket write error")
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("conversation", "ws_error")
				h.emitter.WSEvent(ctx, "ws_error", conversationID, info.UserID, info.ConnID,
					closeReason, time.Since(info.ConnectedAt))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.logger.WithError(err).Debug("dropping malformed client frame")
			continue
		}
		h.apply(ctx, sess, frame)
	}
}

func (h *ConversationWebSocketHandler) apply(ctx context.Context, sess *session.Session, frame clientFrame) {
	switch frame.Action {
	case "keystroke":
		sess.Keystroke(ctx)
	case "send":
		sess.SubmitInput(ctx, frame.Text)
	case "send_file":
		sess.SendAttachment(ctx, frame.Name, frame.MimeType, frame.Data, frame.Caption)
	case "retry":
		sess.Retry(ctx, frame.ClientID)
	case "search":
		sess.SetSearchQuery(ctx, frame.Query)
	case "select_hit":
		sess.SelectSearchHit(ctx, frame.MessageID)
	case "load_older":
		sess.LoadOlder(ctx)
	case "draft_edit":
		sess.EditDraft(frame.Text)
	case "draft_send":
		sess.SendDraft(ctx)
	case "draft_discard":
		sess.DiscardDraft()
	case "draft_retry":
		sess.RetryDraft(ctx)
	default:
		h.logger.WithField("action", frame.Action).Debug("unknown client action")
	}
}

// Package delivery owns message status transitions. Statuses only ever move
// forward: sending -> sent -> delivered -> read, with failed reachable from
// sending and sent only. Read is terminal and monotonic.
package delivery

import (
	"context"

	"github.com/sirupsen/logrus"

	"messaging-service/internal/apperr"
	"messaging-service/internal/events"
	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

var statusRank = map[models.MessageStatus]int{
	models.StatusSending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
}

// AllowedFrom returns the statuses a message may currently hold for a
// transition to target to count as forward. Failed is terminal, so it never
// appears as a source.
func AllowedFrom(target models.MessageStatus) []models.MessageStatus {
	if target == models.StatusFailed {
		return []models.MessageStatus{models.StatusSending, models.StatusSent}
	}

	rank, ok := statusRank[target]
	if !ok {
		return nil
	}
	var from []models.MessageStatus
	for status, r := range statusRank {
		if r < rank {
			from = append(from, status)
		}
	}
	return from
}

// ValidTarget reports whether the status is one updaters may request.
func ValidTarget(status models.MessageStatus) bool {
	switch status {
	case models.StatusSent, models.StatusDelivered, models.StatusRead, models.StatusFailed:
		return true
	default:
		return false
	}
}

// Tracker applies status updates from senders, recipients and channel
// adapters, in whatever order they arrive.
type Tracker struct {
	store   repositories.MessageRepository
	hub     *hub.Hub
	emitter *events.Emitter
	logger  *logrus.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(store repositories.MessageRepository, h *hub.Hub, emitter *events.Emitter, logger *logrus.Logger) *Tracker {
	return &Tracker{store: store, hub: h, emitter: emitter, logger: logger}
}

// Apply moves a message to the given status if the transition is forward. A
// rejected transition is a benign race: it is logged and absorbed, never
// surfaced to the user.
func (t *Tracker) Apply(ctx context.Context, conversationID, messageID int64, status models.MessageStatus) error {
	if !ValidTarget(status) {
		return apperr.New(apperr.Validation, "invalid status %q", status)
	}

	err := t.store.UpdateStatus(ctx, messageID, AllowedFrom(status), status)
	if apperr.Is(err, apperr.Conflict) {
		observability.IncStatusConflict()
		t.logger.WithFields(logrus.Fields{
			"message_id": messageID,
			"status":     status,
		}).Debug("status transition rejected by forward-only rule")
		return nil
	}
	if err != nil {
		return err
	}

	t.hub.BroadcastStatus(conversationID, messageID, status)
	t.emitter.MessageStatus(ctx, conversationID, messageID, status)
	return nil
}

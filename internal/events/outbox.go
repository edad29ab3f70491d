package events

import (
	"context"
	"fmt"

	"github.com/nhle/inbox-sync/internal/model"
)

// NotificationWriter persists notifications.
type NotificationWriter interface {
	CreateNotification(ctx context.Context, n model.Notification) error
}

// StoreNotifier records events in the notifications table for consumers
// that poll instead of subscribing.
type StoreNotifier struct {
	store NotificationWriter
}

// NewStoreNotifier creates an outbox notifier.
func NewStoreNotifier(store NotificationWriter) *StoreNotifier {
	return &StoreNotifier{store: store}
}

// Name identifies the sink.
func (s *StoreNotifier) Name() string { return "store" }

// NotifySyncCompleted inserts one unread notification.
func (s *StoreNotifier) NotifySyncCompleted(ctx context.Context, evt SyncCompleted) error {
	n := model.Notification{
		ID:         evt.EventID,
		AccountID:  evt.AccountID,
		SourceType: evt.Source,
		Message:    Describe(evt),
		Stored:     evt.Stored,
		Updated:    evt.Updated,
		CreatedAt:  evt.OccurredAt,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("recording notification: %w", err)
	}
	return nil
}

// Describe renders a short human-readable line for evt.
func Describe(evt SyncCompleted) string {
	noun := "emails"
	if evt.Stored == 1 {
		noun = "email"
	}
	msg := fmt.Sprintf("%d new %s synced for %s", evt.Stored, noun, evt.AccountID)
	if evt.Updated > 0 {
		msg += fmt.Sprintf(", %d updated", evt.Updated)
	}
	return msg
}

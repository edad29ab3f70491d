package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// StorageConflictError reports an insert that violated the
// (account, provider message id) uniqueness constraint.
type StorageConflictError struct {
	AccountID         string
	ProviderMessageID string
	Err               error
}

func (e *StorageConflictError) Error() string {
	return fmt.Sprintf(
		"email %s/%s already exists", e.AccountID, e.ProviderMessageID,
	)
}

func (e *StorageConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a StorageConflictError.
func IsConflict(err error) bool {
	var cErr *StorageConflictError
	return errors.As(err, &cErr)
}

// Store defines the persistence interface for email records, sync
// cursors, the client address index and notifications.
type Store interface {
	// === Email records ===

	// GetEmail returns the record for the dedup key or ErrNotFound.
	GetEmail(ctx context.Context, accountID, providerMessageID string) (*model.EmailRecord, error)

	// InsertEmail creates a record. A duplicate key yields
	// *StorageConflictError.
	InsertEmail(ctx context.Context, rec model.EmailRecord) error

	// UpdateEmailFlags rewrites only the mutable provider attributes.
	UpdateEmailFlags(
		ctx context.Context,
		accountID, providerMessageID string,
		flags model.EmailFlags,
		updatedAt time.Time,
	) error

	CountEmails(ctx context.Context, accountID string) (int, error)
	ListEmails(ctx context.Context, accountID string, limit int) ([]model.EmailRecord, error)

	// === Sync cursors ===

	// GetCursor returns the cursor for an account and folder or ErrNotFound.
	GetCursor(ctx context.Context, accountID, folder string) (*model.SyncCursor, error)

	// PutCursor creates or advances a cursor. LastSyncedAt never moves
	// backward; an empty HistoryID keeps the stored one.
	PutCursor(ctx context.Context, cursor model.SyncCursor) error

	// === Client address index ===

	ClientAddresses(ctx context.Context, accountID string) ([]model.ClientAddress, error)
	UpsertClientAddress(ctx context.Context, addr model.ClientAddress) error

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

package model

import "time"

// Notification records a downstream "sync completed" event so consumers
// without a pub/sub connection can still observe it.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// AccountID is the synced account the event belongs to.
	AccountID string `json:"account_id"`

	// SourceType identifies which provider produced the synced messages.
	SourceType SourceType `json:"source_type"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Stored and Updated mirror the run counts at emission time.
	Stored  int `json:"stored"`
	Updated int `json:"updated"`

	// Read indicates whether a consumer has acknowledged this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}

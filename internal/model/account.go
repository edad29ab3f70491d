package model

import (
	"strings"
	"time"
)

// DefaultFolder is the mailbox synced when an account names none.
const DefaultFolder = "INBOX"

// Account holds the configuration for a single synced mailbox owner.
type Account struct {
	// ID is the owner-account identifier used in the dedup key.
	ID string `mapstructure:"id" yaml:"id"`

	// Email is the account's own address, used for direction detection.
	Email string `mapstructure:"email" yaml:"email"`

	// Provider selects the message source ("gmail" or "imap").
	Provider SourceType `mapstructure:"provider" yaml:"provider"`

	// Folder is the mailbox folder or label to sync.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// Enabled controls whether RunAll includes this account.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	IMAPTLS  bool   `mapstructure:"imap_tls" yaml:"imap_tls"`
}

// MailFolder returns the configured folder or DefaultFolder.
func (a Account) MailFolder() string {
	if strings.TrimSpace(a.Folder) == "" {
		return DefaultFolder
	}
	return a.Folder
}

// SyncCursor is the persisted bookmark for one account and folder.
type SyncCursor struct {
	AccountID string `json:"account_id"`
	Folder    string `json:"folder"`

	// LastSyncedAt is the start time of the last run that advanced the
	// cursor. It never moves backward.
	LastSyncedAt time.Time `json:"last_synced_at"`

	// LastStoredCount is the number of records inserted by that run.
	LastStoredCount int `json:"last_stored_count"`

	// HistoryID is the provider change identifier, empty when unknown.
	HistoryID string `json:"history_id"`

	// PageToken resumes a query listing that stopped at the item ceiling.
	// PageSince is the lower bound that listing searched from and
	// PageStartedAt the start of the run that began it. LastSyncedAt moves
	// to PageStartedAt once the remainder has been listed.
	PageToken     string    `json:"page_token,omitempty"`
	PageSince     time.Time `json:"page_since,omitzero"`
	PageStartedAt time.Time `json:"page_started_at,omitzero"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Resuming reports whether the cursor carries an unfinished query listing.
func (c *SyncCursor) Resuming() bool {
	return c != nil && c.PageToken != ""
}

// ClientAddress is one row of the externally supplied client address index.
type ClientAddress struct {
	AccountID string `json:"account_id" db:"account_id"`
	ClientID  string `json:"client_id" db:"client_id"`
	Email     string `json:"email" db:"email"`
}

package model

import "time"

// SyncResult is the per-account outcome of one run, returned by the
// trigger surface.
type SyncResult struct {
	AccountID string `json:"account_id"`
	RunID     string `json:"run_id"`

	// Processed counts messages fetched and handed to persistence.
	Processed int `json:"processed"`

	// Stored counts new records inserted.
	Stored int `json:"stored"`

	// Updated counts existing records whose flags changed.
	Updated int `json:"updated"`

	// Errors lists per-message and per-account failures in occurrence
	// order. An empty list with Processed == 0 means nothing was new.
	Errors []string `json:"errors"`

	Strategy  string `json:"strategy,omitempty"`
	FellBack  bool   `json:"fell_back,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	// Failed is set when the account-level run ended in the error state.
	Failed bool `json:"failed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AddError appends a formatted failure to the result.
func (r *SyncResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// SyncState is the scheduler-visible state of an account.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"
	SyncError   SyncState = "error"
)

// SyncStatus holds the last known sync state for one account.
type SyncStatus struct {
	AccountID  string      `json:"account_id"`
	State      SyncState   `json:"state"`
	LastSync   time.Time   `json:"last_sync"`
	LastError  string      `json:"last_error,omitempty"`
	LastResult *SyncResult `json:"last_result,omitempty"`
}

package model

import "time"

// SourceType identifies the provider an email record was synced from.
type SourceType string

const (
	SourceTypeGmail SourceType = "gmail"
	SourceTypeIMAP  SourceType = "imap"
)

// Direction tells whether a message was sent by or to the synced account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Importance is the heuristic urgency tier extracted from a body.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Attachment holds metadata about a message attachment. Content is never
// downloaded by the sync engine.
type Attachment struct {
	Filename     string `json:"filename"`
	MIMEType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
	Inline       bool   `json:"inline,omitempty"`
}

// KeyInfo is the structured signal extracted from a cleaned body.
type KeyInfo struct {
	Summary        string     `json:"summary"`
	ActionItems    []string   `json:"action_items"`
	ImportantDates []string   `json:"important_dates"`
	Contacts       []string   `json:"contacts"`
	References     []string   `json:"references,omitempty"`
	Importance     Importance `json:"importance"`
}

// EmailFlags is the narrow set of provider attributes that may change after
// a record is first stored. Only these fields are rewritten on re-sync.
type EmailFlags struct {
	Labels    []string `json:"labels"`
	IsRead    bool     `json:"is_read"`
	IsStarred bool     `json:"is_starred"`
}

// Equal reports whether two flag sets carry the same labels and states.
// Label order is significant only as returned by the provider; callers
// should pass sorted labels.
func (f EmailFlags) Equal(other EmailFlags) bool {
	if f.IsRead != other.IsRead || f.IsStarred != other.IsStarred {
		return false
	}
	if len(f.Labels) != len(other.Labels) {
		return false
	}
	for i := range f.Labels {
		if f.Labels[i] != other.Labels[i] {
			return false
		}
	}
	return true
}

// EmailRecord is the normalized, persisted representation of one provider
// message. (AccountID, ProviderMessageID) is unique.
type EmailRecord struct {
	// ID is the internal unique identifier for this record.
	ID string `json:"id"`

	// AccountID is the owning synced account.
	AccountID string `json:"account_id"`

	// ProviderMessageID is the message identifier within the provider.
	ProviderMessageID string `json:"provider_message_id"`

	ThreadID    string    `json:"thread_id"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name"`
	To          []string  `json:"to"`
	Cc          []string  `json:"cc"`
	Bcc         []string  `json:"bcc"`
	Direction   Direction `json:"direction"`

	// Body is the cleaned plain-text body, truncated before persistence.
	Body string `json:"body"`

	// HTMLBody preserves the original HTML for rendering, when the message
	// had an HTML representation.
	HTMLBody string `json:"html_body,omitempty"`

	Signature     *string `json:"signature,omitempty"`
	QuotedContent *string `json:"quoted_content,omitempty"`
	Snippet       string  `json:"snippet"`

	KeyInfo          KeyInfo      `json:"key_info"`
	ReadabilityScore float64      `json:"readability_score"`
	Attachments      []Attachment `json:"attachments"`

	// ClientID is the best-effort address match against the client index.
	ClientID *string `json:"client_id,omitempty"`

	ReceivedAt time.Time  `json:"received_at"`
	Source     SourceType `json:"source"`
	Flags      EmailFlags `json:"flags"`

	// Metadata is an opaque bag owned by downstream enrichment processes.
	// The sync engine writes it once on insert and never reads its keys.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package source

import (
	"context"
	"strings"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// Strategy names how candidate ids were listed for a run.
type Strategy string

const (
	StrategyHistory Strategy = "history"
	StrategyQuery   Strategy = "query"
)

// Header is a single message header as supplied by the provider.
type Header struct {
	Name  string
	Value string
}

// PartBody holds the inline data of a part in the provider's base64url
// variant, or a reference to an attachment stored provider-side.
type PartBody struct {
	Data         string
	Size         int64
	AttachmentID string
}

// Part is one node of a message's body-part tree.
type Part struct {
	PartID   string
	MIMEType string
	Filename string
	Headers  []Header
	Body     *PartBody
	Parts    []*Part
}

// Header returns the first header value matching name, case-insensitively.
func (p *Part) Header(name string) string {
	if p == nil {
		return ""
	}
	return findHeader(p.Headers, name)
}

// Envelope is the raw provider representation of one message. Either
// Payload or Raw is set; Raw holds RFC 5322 bytes for sources that do not
// expose a part tree.
type Envelope struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	InternalDate time.Time
	Snippet      string
	HistoryID    string
	Headers      []Header
	Payload      *Part
	Raw          []byte
}

// Header returns the first top-level header value matching name.
func (e *Envelope) Header(name string) string {
	if v := findHeader(e.Headers, name); v != "" {
		return v
	}
	if e.Payload != nil {
		return findHeader(e.Payload.Headers, name)
	}
	return ""
}

func findHeader(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ListResult is the outcome of listing candidate message ids for a run.
type ListResult struct {
	// IDs are candidate provider message ids, deduplicated, in listing order.
	IDs []string

	// Truncated is set when listing stopped at the item ceiling before the
	// provider ran out of results.
	Truncated bool

	// NextPageToken is the provider continuation token at the point
	// listing stopped, when one exists.
	NextPageToken string

	// Since is the lower bound a query listing searched from. Resuming
	// from NextPageToken requires searching from the same bound.
	Since time.Time

	// HistoryID is the provider change identifier the cursor may advance
	// to once every listed id has been processed. Empty when advancing
	// would skip unlisted messages.
	HistoryID string

	// Strategy is the listing strategy actually used.
	Strategy Strategy

	// FellBack is true when history listing was rejected and the query
	// strategy was used instead.
	FellBack bool
}

// MessageSource defines the contract every provider client implements.
type MessageSource interface {
	// Type returns the provider discriminator stored on each record.
	Type() model.SourceType

	// SupportsHistory reports whether the provider offers change-id based
	// incremental listing.
	SupportsHistory() bool

	// ListCandidateIDs lists ids to fetch for this run. A history id on
	// the cursor selects incremental listing when supported; otherwise a
	// folder-scoped query narrowed by LastSyncedAt is used. A cursor with
	// a page token resumes the query listing it came from.
	ListCandidateIDs(
		ctx context.Context,
		account model.Account,
		cursor *model.SyncCursor,
	) (*ListResult, error)

	// GetMessage fetches the full envelope for one message id.
	GetMessage(
		ctx context.Context,
		account model.Account,
		id string,
	) (*Envelope, error)
}

// Package email implements source.MessageSource over IMAP for accounts
// that do not use the Gmail API.
package email

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// PasswordProvider returns the IMAP password stored for an account.
type PasswordProvider interface {
	Password(accountID string) (string, error)
}

// Mailbox is the subset of IMAP operations the adapter relies on.
type Mailbox interface {
	SearchSince(ctx context.Context, folder string, since time.Time) (*SearchResult, error)
	FetchMessage(ctx context.Context, folder string, uid uint32) (*FetchedMessage, error)
}

// Adapter lists and fetches messages from an IMAP mailbox. It has no
// change-id listing, so every run is a query by received date.
type Adapter struct {
	passwords         PasswordProvider
	maxItemsPerRun    int
	initialWindowDays int
	log               logrus.FieldLogger

	now  func() time.Time
	dial func(account model.Account, password string) Mailbox
}

var _ source.MessageSource = (*Adapter)(nil)

// NewAdapter creates an IMAP adapter bounded by the sync settings.
func NewAdapter(
	passwords PasswordProvider,
	cfg model.SyncConfig,
	log logrus.FieldLogger,
) *Adapter {
	maxItems := cfg.MaxItemsPerRun
	if maxItems <= 0 {
		maxItems = 500
	}
	return &Adapter{
		passwords:         passwords,
		maxItemsPerRun:    maxItems,
		initialWindowDays: cfg.InitialWindowDays,
		log:               log,
		now:               time.Now,
		dial: func(account model.Account, password string) Mailbox {
			return NewIMAPClient(
				account.ID, account.IMAPHost, account.IMAPPort,
				account.Email, password, account.IMAPTLS,
			)
		},
	}
}

// Type returns the source type identifier for IMAP.
func (a *Adapter) Type() model.SourceType { return model.SourceTypeIMAP }

// SupportsHistory reports that IMAP listing is query-only.
func (a *Adapter) SupportsHistory() bool { return false }

func (a *Adapter) mailbox(account model.Account) (Mailbox, error) {
	if account.IMAPHost == "" {
		return nil, fmt.Errorf("account %s has no IMAP host configured", account.ID)
	}
	password, err := a.passwords.Password(account.ID)
	if err != nil {
		return nil, &source.AuthExpiredError{
			AccountID: account.ID,
			Message:   "no IMAP password stored",
			Err:       err,
		}
	}
	return a.dial(account, password), nil
}

// ListCandidateIDs searches the folder for messages received since the
// cursor's LastSyncedAt, or within the initial window on first sync.
// When more match than the per-run ceiling, the most recent are kept and
// the page token names the oldest one listed; a cursor carrying that token
// repeats the search and continues below it.
func (a *Adapter) ListCandidateIDs(
	ctx context.Context,
	account model.Account,
	cursor *model.SyncCursor,
) (*source.ListResult, error) {
	box, err := a.mailbox(account)
	if err != nil {
		return nil, err
	}

	since := a.sinceFor(cursor)
	if cursor.Resuming() {
		since = cursor.PageSince
	}
	found, err := box.SearchSince(ctx, account.MailFolder(), since)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", account.MailFolder(), err)
	}

	uids := found.UIDs
	if cursor.Resuming() {
		uids = a.below(account, cursor.PageToken, found)
	}

	res := &source.ListResult{Strategy: source.StrategyQuery, Since: since}
	if len(uids) > a.maxItemsPerRun {
		uids = uids[len(uids)-a.maxItemsPerRun:]
		res.Truncated = true
		res.NextPageToken = FormatMessageID(found.UIDValidity, uids[0])
	}

	// Newest first, matching the Gmail listing order.
	for i := len(uids) - 1; i >= 0; i-- {
		res.IDs = append(res.IDs, FormatMessageID(found.UIDValidity, uids[i]))
	}

	a.log.WithFields(logrus.Fields{
		"account":   account.ID,
		"folder":    account.MailFolder(),
		"since":     since.Format(time.DateOnly),
		"matched":   len(found.UIDs),
		"resumed":   cursor.Resuming(),
		"truncated": res.Truncated,
	}).Debug("imap search complete")

	return res, nil
}

// below keeps the UIDs older than the one named by token. A token from
// another UIDVALIDITY no longer orders against this mailbox, so the whole
// result is relisted.
func (a *Adapter) below(account model.Account, token string, found *SearchResult) []uint32 {
	validity, uid, err := ParseMessageID(token)
	if err != nil || validity != found.UIDValidity {
		a.log.WithFields(logrus.Fields{
			"account":    account.ID,
			"page_token": token,
		}).Warn("page token does not match mailbox, relisting")
		return found.UIDs
	}

	n := sort.Search(len(found.UIDs), func(i int) bool { return found.UIDs[i] >= uid })
	return found.UIDs[:n]
}

func (a *Adapter) sinceFor(cursor *model.SyncCursor) time.Time {
	if cursor != nil && !cursor.LastSyncedAt.IsZero() {
		return cursor.LastSyncedAt
	}
	if a.initialWindowDays > 0 {
		return a.now().AddDate(0, 0, -a.initialWindowDays)
	}
	return time.Time{}
}

// GetMessage fetches one message by "<uidvalidity>:<uid>" id. A changed
// UIDVALIDITY means the id no longer names the same message.
func (a *Adapter) GetMessage(
	ctx context.Context,
	account model.Account,
	id string,
) (*source.Envelope, error) {
	validity, uid, err := ParseMessageID(id)
	if err != nil {
		return nil, &source.MalformedMessageError{MessageID: id, Reason: "invalid message id", Err: err}
	}

	box, err := a.mailbox(account)
	if err != nil {
		return nil, err
	}

	fetched, err := box.FetchMessage(ctx, account.MailFolder(), uid)
	if err != nil {
		if source.IsAuthExpired(err) || source.IsTransient(err) {
			return nil, err
		}
		return nil, &source.MalformedMessageError{MessageID: id, Reason: "fetch failed", Err: err}
	}
	if fetched.UIDValidity != validity {
		return nil, &source.MalformedMessageError{
			MessageID: id,
			Reason:    fmt.Sprintf("mailbox UIDVALIDITY changed to %d", fetched.UIDValidity),
		}
	}
	if len(fetched.Raw) == 0 {
		return nil, &source.MalformedMessageError{MessageID: id, Reason: "empty message body"}
	}

	return envelopeFromFetch(id, account.MailFolder(), fetched)
}

// envelopeFromFetch builds an Envelope carrying the raw RFC 5322 bytes and
// the decoded top-level headers.
func envelopeFromFetch(id, folder string, fetched *FetchedMessage) (*source.Envelope, error) {
	headers, err := parseHeaders(fetched.Raw)
	if err != nil {
		return nil, &source.MalformedMessageError{MessageID: id, Reason: "unreadable header", Err: err}
	}

	env := &source.Envelope{
		ID:           id,
		LabelIDs:     labelsFromFlags(folder, fetched.Flags),
		InternalDate: fetched.InternalDate.UTC(),
		Headers:      headers,
		Raw:          fetched.Raw,
	}
	env.ThreadID = threadID(env)
	return env, nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

func parseHeaders(raw []byte) ([]source.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}

	var out []source.Header
	fields := h.Fields()
	for fields.Next() {
		value := fields.Value()
		if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
			value = decoded
		}
		out = append(out, source.Header{Name: fields.Key(), Value: value})
	}
	return out, nil
}

// labelsFromFlags maps IMAP system flags onto the label vocabulary used
// by stored records: the folder, UNREAD when \Seen is absent, STARRED for
// \Flagged. Keywords pass through unchanged.
func labelsFromFlags(folder string, flags []string) []string {
	labels := []string{folder}
	seen := false
	for _, f := range flags {
		switch strings.ToLower(f) {
		case `\seen`:
			seen = true
		case `\flagged`:
			labels = append(labels, "STARRED")
		case `\answered`, `\recent`, `\deleted`, `\draft`:
		default:
			labels = append(labels, f)
		}
	}
	if !seen {
		labels = append(labels, "UNREAD")
	}
	return labels
}

// threadID groups a message with the root of its reply chain.
func threadID(env *source.Envelope) string {
	if refs := strings.Fields(env.Header("References")); len(refs) > 0 {
		return refs[0]
	}
	if irt := strings.TrimSpace(env.Header("In-Reply-To")); irt != "" {
		return irt
	}
	return strings.TrimSpace(env.Header("Message-ID"))
}

// FormatMessageID encodes a mailbox-scoped UID as a provider message id.
func FormatMessageID(uidValidity, uid uint32) string {
	return strconv.FormatUint(uint64(uidValidity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ParseMessageID decodes an id produced by FormatMessageID.
func ParseMessageID(id string) (uidValidity, uid uint32, err error) {
	left, right, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("message id %q has no uidvalidity", id)
	}
	v, err := strconv.ParseUint(left, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uidvalidity: %w", err)
	}
	u, err := strconv.ParseUint(right, 10, 32)
	if err != nil || u == 0 {
		return 0, 0, fmt.Errorf("parsing uid %q", right)
	}
	return uint32(v), uint32(u), nil
}

package sync

import (
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inbox-sync/internal/crossref"
	"github.com/nhle/inbox-sync/internal/decoder"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/normalize"
	"github.com/nhle/inbox-sync/internal/source"
)

const (
	// maxReferences caps booking references taken from subject and body.
	maxReferences = 3

	// maxSubjectRunes caps the stored subject.
	maxSubjectRunes = 998
)

// recordBuilder turns envelopes into records for one account run. It
// holds only read-only state and is safe for concurrent use.
type recordBuilder struct {
	account    model.Account
	source     model.SourceType
	clients    []model.ClientAddress
	normalizer *normalize.Normalizer
	now        time.Time
}

func (b recordBuilder) build(env *source.Envelope) model.EmailRecord {
	decoded := decoder.Decode(env)
	content := b.normalizer.Normalize(decoded.Text, decoded.IsHTML)

	fromName, fromAddr := parseSender(env.Header("From"))
	to := parseAddressList(env.Header("To"))
	cc := parseAddressList(env.Header("Cc"))
	bcc := parseAddressList(env.Header("Bcc"))

	subject := normalize.Truncate(strings.TrimSpace(env.Header("Subject")), maxSubjectRunes)
	keyInfo := content.KeyInfo
	if refs := crossref.MatchReferences(subject, content.Body, maxReferences); len(refs) > 0 {
		keyInfo.References = refs
	}

	snippet := content.Snippet
	if snippet == "" {
		snippet = normalize.Snippet(env.Snippet)
	}

	rec := model.EmailRecord{
		ID:                uuid.New().String(),
		AccountID:         b.account.ID,
		ProviderMessageID: env.ID,
		ThreadID:          env.ThreadID,
		Subject:           subject,
		FromAddress:       fromAddr,
		FromName:          fromName,
		To:                to,
		Cc:                cc,
		Bcc:               bcc,
		Direction:         Direction(b.account.Email, fromAddr),
		Body:              content.Body,
		HTMLBody:          content.HTML,
		Signature:         content.Signature,
		QuotedContent:     content.QuotedContent,
		Snippet:           snippet,
		KeyInfo:           keyInfo,
		ReadabilityScore:  content.ReadabilityScore,
		Attachments:       decoded.Attachments,
		ClientID:          MatchClient(b.clients, b.account.Email, fromAddr, to, cc),
		ReceivedAt:        receivedAt(env, b.now),
		Source:            b.source,
		Flags:             FlagsFromLabels(env.LabelIDs),
		Metadata:          map[string]any{},
		CreatedAt:         b.now,
		UpdatedAt:         b.now,
	}
	return rec
}

// Direction reports outbound when the sender contains the account's own
// address. Everything else, including mail where the account only
// appears among the recipients, is inbound.
func Direction(ownAddress, sender string) model.Direction {
	own := strings.ToLower(strings.TrimSpace(ownAddress))
	if own == "" {
		return model.DirectionInbound
	}
	if strings.Contains(strings.ToLower(sender), own) {
		return model.DirectionOutbound
	}
	return model.DirectionInbound
}

// MatchClient returns the first client whose indexed address is contained
// in the sender, then in the recipients, case-insensitively. The account's
// own address never matches.
func MatchClient(
	clients []model.ClientAddress,
	ownAddress, sender string,
	to, cc []string,
) *string {
	if len(clients) == 0 {
		return nil
	}
	own := strings.ToLower(strings.TrimSpace(ownAddress))

	candidates := make([]string, 0, 1+len(to)+len(cc))
	candidates = append(candidates, sender)
	candidates = append(candidates, to...)
	candidates = append(candidates, cc...)

	for _, addr := range candidates {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || (own != "" && strings.Contains(addr, own)) {
			continue
		}
		for _, c := range clients {
			needle := strings.ToLower(strings.TrimSpace(c.Email))
			if needle != "" && strings.Contains(addr, needle) {
				id := c.ClientID
				return &id
			}
		}
	}
	return nil
}

// FlagsFromLabels derives the mutable flag set from provider labels.
// Labels are sorted so that equality checks ignore provider ordering.
func FlagsFromLabels(labels []string) model.EmailFlags {
	sorted := make([]string, 0, len(labels))
	flags := model.EmailFlags{IsRead: true}
	for _, l := range labels {
		if l == "" {
			continue
		}
		sorted = append(sorted, l)
		switch l {
		case "UNREAD":
			flags.IsRead = false
		case "STARRED":
			flags.IsStarred = true
		}
	}
	sort.Strings(sorted)
	flags.Labels = sorted
	return flags
}

func parseSender(raw string) (name, addr string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	a, err := mail.ParseAddress(raw)
	if err != nil {
		return "", raw
	}
	return a.Name, a.Address
}

func parseAddressList(raw string) []string {
	out := []string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

// receivedAt prefers the provider's internal date, then the Date header.
func receivedAt(env *source.Envelope, fallback time.Time) time.Time {
	if !env.InternalDate.IsZero() {
		return env.InternalDate
	}
	if d, err := mail.ParseDate(env.Header("Date")); err == nil {
		return d.UTC()
	}
	return fallback
}

// Package normalize turns decoded message text into a cleaned body,
// separated signature and quoted content, and heuristic key information.
package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nhle/inbox-sync/internal/model"
)

const (
	// DefaultMaxBodyLength caps the cleaned body, in runes.
	DefaultMaxBodyLength = 100000

	// MaxExtractLength caps the signature and quoted content, in runes.
	MaxExtractLength = 20000

	// SnippetLength is the preview length, in runes.
	SnippetLength = 200

	// MinContentLength is the shortest input analysed; anything shorter
	// yields an empty default result.
	MinContentLength = 10
)

// Content is the normalized form of one message body.
type Content struct {
	// Body is the cleaned plain text with signature and quotes removed.
	Body string

	// HTML is the original markup when the input was HTML.
	HTML string

	Signature        *string
	QuotedContent    *string
	Snippet          string
	KeyInfo          model.KeyInfo
	ReadabilityScore float64
}

// Normalizer applies the cleaning pipeline with a configured body cap.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	maxBodyLength int
}

// New returns a Normalizer; a non-positive maxBodyLength selects
// DefaultMaxBodyLength.
func New(maxBodyLength int) *Normalizer {
	if maxBodyLength <= 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &Normalizer{maxBodyLength: maxBodyLength}
}

// Normalize cleans text. It never fails; inputs shorter than
// MinContentLength return the trimmed text with empty key information.
func (n *Normalizer) Normalize(text string, isHTML bool) Content {
	var out Content

	plain := text
	if isHTML {
		out.HTML = truncateRunes(text, n.maxBodyLength)
		plain = StripHTML(text)
	}
	plain = collapseWhitespace(plain)

	if utf8.RuneCountInString(plain) < MinContentLength {
		out.Body = plain
		out.Snippet = plain
		out.KeyInfo = emptyKeyInfo()
		return out
	}

	body, quoted := splitQuoted(plain)
	body, signature := splitSignature(body)

	out.QuotedContent = optional(quoted)
	out.Signature = optional(signature)

	body = collapseWhitespace(body)
	out.Body = truncateRunes(body, n.maxBodyLength)
	out.Snippet = Snippet(out.Body)
	out.KeyInfo = ExtractKeyInfo(out.Body)
	out.ReadabilityScore = Readability(out.Body)
	return out
}

var whitespaceRunPattern = regexp.MustCompile(`\s+`)

// Snippet returns a single-line preview of at most SnippetLength runes.
func Snippet(text string) string {
	flat := strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(text, " "))
	return truncateRunes(flat, SnippetLength)
}

// Truncate caps s at max runes.
func Truncate(s string, max int) string {
	return truncateRunes(s, max)
}

func optional(s string) *string {
	s = collapseWhitespace(s)
	if s == "" {
		return nil
	}
	s = truncateRunes(s, MaxExtractLength)
	return &s
}

func emptyKeyInfo() model.KeyInfo {
	return model.KeyInfo{
		ActionItems:    []string{},
		ImportantDates: []string{},
		Contacts:       []string{},
		References:     []string{},
		Importance:     model.ImportanceMedium,
	}
}

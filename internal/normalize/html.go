package normalize

import (
	"regexp"
	"strings"
)

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	stylePattern   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	breakPattern   = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|li|tr|h[1-6]|blockquote)\s*>`)
	rulePattern    = regexp.MustCompile(`(?i)<hr\b[^>]*>`)
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&#160;", " ",
)

// StripHTML reduces markup to plain text: script and style blocks are
// dropped, block-level closers become newlines, horizontal rules become a
// dashed separator line, remaining tags are removed and the common
// entities decoded.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := scriptPattern.ReplaceAllString(html, "")
	result = stylePattern.ReplaceAllString(result, "")
	result = commentPattern.ReplaceAllString(result, "")

	// Source line breaks carry no meaning in HTML.
	result = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(result)

	result = breakPattern.ReplaceAllString(result, "\n")
	result = rulePattern.ReplaceAllString(result, "\n----------\n")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = entityReplacer.Replace(result)

	result = innerSpacePattern.ReplaceAllString(result, " ")
	result = leadingSpacePattern.ReplaceAllString(result, "")
	return collapseWhitespace(result)
}

var (
	trailingSpacePattern = regexp.MustCompile(`(?m)[ \t]+$`)
	leadingSpacePattern  = regexp.MustCompile(`(?m)^[ \t]+`)
	innerSpacePattern    = regexp.MustCompile(`[ \t]{2,}`)
	blankRunPattern      = regexp.MustCompile(`\n{3,}`)
)

// collapseWhitespace trims trailing space on every line, squeezes runs of
// blank lines to a single blank line and trims the edges.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpacePattern.ReplaceAllString(s, "")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

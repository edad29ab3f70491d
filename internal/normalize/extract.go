package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quote markers. Each rule yields the offset of its first match; the
// earliest offset across all rules is where quoted content begins.
var quotePatterns = []*regexp.Regexp{
	// "> quoted line"
	regexp.MustCompile(`(?m)^[ \t]*>`),
	// "On Mon, 3 Jun 2024 at 10:00, Jane <jane@x.com> wrote:", possibly
	// wrapped onto a second line.
	regexp.MustCompile(`(?m)^[ \t]*On\s[^\n]{0,300}(?:\n[^\n]{0,300})?\swrote:[ \t]*$`),
	// Forward or Outlook reply header block.
	regexp.MustCompile(`(?m)^[ \t]*From:[ \t]+\S`),
	// Separators.
	regexp.MustCompile(`(?mi)^[ \t]*-{2,}[ \t]*(?:Original Message|Forwarded message)[ \t]*-{2,}`),
	regexp.MustCompile(`(?mi)^[ \t]*Begin forwarded message:`),
	regexp.MustCompile(`(?m)^[ \t]*(?:-{5,}|_{5,}|={5,})[ \t]*$`),
}

// Signature markers, evaluated the same way as quote markers.
var signaturePatterns = []*regexp.Regexp{
	// RFC 3676 delimiter and plain "--" closing line.
	regexp.MustCompile(`(?m)^--[ \t]*$`),
	// Formal closings on a line of their own.
	regexp.MustCompile(`(?mi)^[ \t]*(?:best regards|kind regards|warm regards|warmest regards|best wishes|sincerely|yours sincerely|yours truly|thanks and regards|thanks & regards|many thanks)[ \t]*[,.!]?[ \t]*$`),
	// Mobile and client footers.
	regexp.MustCompile(`(?mi)^[ \t]*Sent from my [^\n]+$`),
	regexp.MustCompile(`(?mi)^[ \t]*Sent from (?:Mail for Windows|Yahoo Mail|Outlook)[^\n]*$`),
	regexp.MustCompile(`(?mi)^[ \t]*Get Outlook for [^\n]+$`),
}

// shortClosing matches one-word sign-offs that also open messages
// ("Thanks!"). They only count when little text follows them.
var shortClosing = regexp.MustCompile(
	`(?mi)^[ \t]*(?:regards|thanks|thank you|cheers|best)[ \t]*[,.!]?[ \t]*$`,
)

const (
	// closingTailLines and closingTailRunes bound what may follow a short
	// closing: a name, a title and a phone number, not another paragraph.
	closingTailLines = 4
	closingTailRunes = 60
)

// titleMarkers identify a job-title or organisation line directly below a
// name line.
var titleMarkers = regexp.MustCompile(
	`\b(?:Manager|Director|Agent|Consultant|Specialist|Coordinator|Advisor|Officer|` +
		`Executive|Founder|Co-Founder|President|CEO|CTO|CFO|COO|Owner|Partner|Head|Lead|` +
		`Inc|LLC|Ltd|GmbH|Corp|Corporation|Company|Travel|Travels|Tours|Agency)\b`,
)

// signatureScanLines is how many trailing lines the structural heuristic
// inspects.
const signatureScanLines = 10

// earliestMatch returns the smallest match offset across patterns, or -1.
func earliestMatch(text string, patterns []*regexp.Regexp) int {
	best := -1
	for _, p := range patterns {
		loc := p.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
		}
	}
	return best
}

// splitQuoted separates the message from quoted or forwarded content.
func splitQuoted(text string) (body, quoted string) {
	idx := earliestMatch(text, quotePatterns)
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx:]
}

// splitSignature separates a trailing signature block from the body.
func splitSignature(text string) (body, signature string) {
	idx := earliestMatch(text, signaturePatterns)
	if c := closingOffset(text); c >= 0 && (idx < 0 || c < idx) {
		idx = c
	}
	if idx < 0 {
		idx = structuralSignature(text)
	}
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx:]
}

// closingOffset returns the offset of the first short closing followed
// only by a short tail, or -1.
func closingOffset(text string) int {
	for _, loc := range shortClosing.FindAllStringIndex(text, -1) {
		if shortTail(text[loc[1]:]) {
			return loc[0]
		}
	}
	return -1
}

func shortTail(tail string) bool {
	lines := 0
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		if lines > closingTailLines || utf8.RuneCountInString(line) > closingTailRunes {
			return false
		}
	}
	return true
}

// structuralSignature looks within the final lines for a short name-like
// line followed by a title or organisation line, returning the byte offset
// of the name line or -1.
func structuralSignature(text string) int {
	trimmed := strings.TrimRight(text, " \t\n")
	lines := strings.Split(trimmed, "\n")

	offsets := make([]int, len(lines))
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1
	}

	start := len(lines) - signatureScanLines
	if start < 1 {
		// Never treat the opening line as a signature.
		start = 1
	}
	for i := start; i < len(lines)-1; i++ {
		if isNameLine(lines[i]) && titleMarkers.MatchString(lines[i+1]) {
			return offsets[i]
		}
	}
	return -1
}

// isNameLine reports whether a line looks like a personal name: two to
// four capitalised words of letters, short overall.
func isNameLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > 40 {
		return false
	}
	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		first, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(first) {
			return false
		}
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
				return false
			}
		}
	}
	return true
}

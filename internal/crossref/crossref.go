package crossref

import (
	"regexp"
	"strings"
)

// bookingRefPattern matches travel document references such as BK-2048,
// QT-77 or INV-2024-0012. Matching is case-insensitive; results are
// upper-cased.
var bookingRefPattern = regexp.MustCompile(`(?i)\b((?:BK|QT|INV)-\d+(?:-\d+)?)\b`)

// ExtractReferences extracts booking, quote and invoice references from
// text. Returns a deduplicated list preserving the order of first
// occurrence, capped at limit entries when limit > 0.
func ExtractReferences(text string, limit int) []string {
	matches := bookingRefPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		ref := strings.ToUpper(m)
		if seen[ref] {
			continue
		}
		seen[ref] = true
		result = append(result, ref)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// MatchReferences extracts references from a subject and body, subject
// first, capped at limit entries when limit > 0.
func MatchReferences(subject, body string, limit int) []string {
	return ExtractReferences(subject+"\n"+body, limit)
}

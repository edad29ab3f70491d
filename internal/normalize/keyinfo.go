package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nhle/inbox-sync/internal/crossref"
	"github.com/nhle/inbox-sync/internal/model"
)

const (
	maxExtracted   = 3
	maxActionRunes = 200
	summaryRunes   = 150
)

var (
	actionPattern = regexp.MustCompile(
		`(?i)\b(?:please|need to|can you|could you|would you)\b[^.!?\n]*[.!?]?`,
	)

	datePattern = regexp.MustCompile(
		`\b\d{4}-\d{2}-\d{2}\b` +
			`|\b\d{1,2}/\d{1,2}/\d{2,4}\b` +
			`|(?i:\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b)`,
	)

	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	phonePattern = regexp.MustCompile(
		`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{2,4}\)|\d{2,4})[\s.\-]\d{3,4}[\s.\-]\d{3,4}\b`,
	)

	highImportancePattern = regexp.MustCompile(
		`(?i)\b(?:urgent|urgently|asap|immediately|emergency|critical|time[\s\-]sensitive|as soon as possible|high priority)\b`,
	)

	lowImportancePattern = regexp.MustCompile(
		`(?i)\b(?:no rush|not urgent|low priority|whenever you (?:can|get a chance)|no hurry|fyi)\b`,
	)

	sentenceEndPattern = regexp.MustCompile(`[.!?](?:\s|$)|\n`)
)

// ExtractKeyInfo scans a cleaned body for action requests, dates,
// contacts, booking references and an importance tier.
func ExtractKeyInfo(text string) model.KeyInfo {
	info := model.KeyInfo{
		Summary:        Summary(text),
		ActionItems:    []string{},
		ImportantDates: []string{},
		Contacts:       []string{},
		References:     crossref.ExtractReferences(text, maxExtracted),
		Importance:     DetectImportance(text),
	}

	for _, m := range firstUnique(actionPattern.FindAllString(text, -1), maxExtracted) {
		info.ActionItems = append(info.ActionItems, truncateRunes(strings.TrimSpace(m), maxActionRunes))
	}
	info.ImportantDates = append(info.ImportantDates, firstUnique(datePattern.FindAllString(text, -1), maxExtracted)...)

	info.Contacts = append(info.Contacts, firstUnique(emailPattern.FindAllString(text, -1), maxExtracted)...)
	phones := firstUnique(trimAll(phonePattern.FindAllString(text, -1)), maxExtracted)
	info.Contacts = append(info.Contacts, phones...)

	if info.References == nil {
		info.References = []string{}
	}
	return info
}

// DetectImportance returns high when urgency wording appears, low when
// explicit low-priority wording appears, medium otherwise. Low-priority
// phrases are removed first so "not urgent" does not read as urgent.
func DetectImportance(text string) model.Importance {
	low := lowImportancePattern.MatchString(text)
	rest := lowImportancePattern.ReplaceAllString(text, "")
	switch {
	case highImportancePattern.MatchString(rest):
		return model.ImportanceHigh
	case low:
		return model.ImportanceLow
	default:
		return model.ImportanceMedium
	}
}

// Summary returns the first sentence of text, truncated to the summary
// budget.
func Summary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if loc := sentenceEndPattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]+1]
	}
	return truncateRunes(strings.TrimSpace(text), summaryRunes)
}

func firstUnique(matches []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

func trimAll(in []string) []string {
	for i := range in {
		in[i] = strings.TrimSpace(in[i])
	}
	return in
}

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

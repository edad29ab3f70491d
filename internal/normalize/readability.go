package normalize

import (
	"math"
	"regexp"
	"strings"
)

var (
	wordPattern     = regexp.MustCompile(`\p{L}+(?:'\p{L}+)?`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
	vowelRunPattern = regexp.MustCompile(`[aeiouy]+`)
)

// Readability approximates Flesch reading ease for text, clamped to
// [0, 100] and rounded to two decimals. Empty text scores 0.
func Readability(text string) float64 {
	words := wordPattern.FindAllString(text, -1)
	if len(words) == 0 {
		return 0
	}

	sentences := len(sentencePattern.FindAllString(text, -1))
	if sentences == 0 {
		sentences = 1
	}

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wordsPerSentence := float64(len(words)) / float64(sentences)
	syllablesPerWord := float64(syllables) / float64(len(words))
	score := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord

	score = math.Max(0, math.Min(100, score))
	return math.Round(score*100) / 100
}

// countSyllables counts vowel groups, dropping a silent trailing "e".
func countSyllables(word string) int {
	w := strings.ToLower(word)
	n := len(vowelRunPattern.FindAllString(w, -1))
	if n > 1 && strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

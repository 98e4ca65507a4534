package tokens

import (
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken is used when the estimator is created with a
// non-positive ratio.
const DefaultCharsPerToken = 4.0

// Estimator estimates token counts from character counts.
// It is immutable and safe for concurrent use.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator with the given characters-per-token ratio.
func NewEstimator(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// CharsPerToken returns the configured ratio.
func (e *Estimator) CharsPerToken() float64 {
	return e.charsPerToken
}

// EstimateText estimates tokens for a single string.
// Non-empty text always counts as at least one token.
func (e *Estimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}

	chars := utf8.RuneCountInString(text)
	tokens := float64(chars) / e.charsPerToken
	if tokens < 1.0 {
		return 1
	}

	return int(tokens + 0.5)
}

// EstimateAll sums the estimates of several strings.
func (e *Estimator) EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.EstimateText(t)
	}
	return total
}

// Truncate cuts text so that its estimate does not exceed maxTokens.
// The cut prefers the last whitespace boundary inside the allowance so words
// are not split. maxTokens <= 0 yields the empty string.
func (e *Estimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if e.EstimateText(text) <= maxTokens {
		return text
	}

	maxChars := int(float64(maxTokens) * e.charsPerToken)
	runes := []rune(text)
	if maxChars >= len(runes) {
		return text
	}

	cut := string(runes[:maxChars])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t")
}

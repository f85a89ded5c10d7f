// Package continuation implements the Continuation Detector (C8): a purely
// lexical classifier of whether the last user message is a short/affirmative
// follow-up to the prior turn. Its verdict is acted on only when the
// Conversation State Manager has a live entry for the customer.
package continuation

import (
	"regexp"
	"strings"
)

// shortMessageThreshold is the length below which a trimmed, lowercased
// message is considered a continuation regardless of content.
const shortMessageThreshold = 20

var affirmations = []string{
	"yes", "yeah", "yep", "ok", "okay", "confirm", "proceed", "go ahead", "approve", "do it", "sure",
}

var negations = []string{
	"no", "cancel", "stop", "abort", "nevermind",
}

var optionPattern = regexp.MustCompile(`\b(option|choice)\s+\S+`)

// IsContinuation returns true iff message satisfies any of the lexical
// continuation rules: short length, an affirmation/negation word, or an
// option-selection pattern.
func IsContinuation(message string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(message))

	if len(trimmed) < shortMessageThreshold {
		return true
	}
	if containsAny(trimmed, affirmations) {
		return true
	}
	if containsAny(trimmed, negations) {
		return true
	}
	if optionPattern.MatchString(trimmed) {
		return true
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

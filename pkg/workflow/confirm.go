package workflow

import (
	"slices"
	"strings"
	"unicode"
)

var affirmatives = []string{"confirm", "confirmed", "yes", "ok", "okay", "確認", "確定", "确认", "确定", "係", "好", "好的", "是"}

var negations = []string{"not", "don't", "dont", "no", "cancel", "modify", "change", "唔", "不", "改", "取消"}

// Affirmative reports whether msg is an explicit confirmation such as
// "confirm", "Yes!", "ok, confirm" or "確認". Messages carrying a negation
// or a change request never count.
func Affirmative(msg string) bool {
	lower := strings.ToLower(strings.TrimSpace(msg))
	if lower == "" {
		return false
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '\'' || unicode.IsSymbol(r)
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if slices.Contains(negations, w) {
			return false
		}
	}
	for _, n := range []string{"唔", "不", "改", "取消"} {
		if strings.Contains(lower, n) {
			return false
		}
	}

	if strings.Contains(lower, "確認") || strings.Contains(lower, "確定") ||
		strings.Contains(lower, "确认") || strings.Contains(lower, "确定") {
		return true
	}
	// Long messages that merely contain "ok" are not confirmations.
	if len(words) > 6 {
		return false
	}
	for _, w := range words {
		if slices.Contains(affirmatives, w) {
			return true
		}
	}
	return false
}

var confirmWords = []string{"confirm", "確認", "確定", "确认", "确定"}

// ExplicitConfirm is Affirmative restricted to messages that actually say
// "confirm" (or 確認/確定). A bare "yes" or "ok" often answers some other
// question and does not qualify.
func ExplicitConfirm(msg string) bool {
	if !Affirmative(msg) {
		return false
	}
	lower := strings.ToLower(msg)
	for _, w := range confirmWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

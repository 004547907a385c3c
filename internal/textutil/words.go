package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var lowerCaser = cases.Fold()

// NormalizeWord canonicalizes a word for use as a lookup key:
// NFC composition, case folding, surrounding whitespace removed.
func NormalizeWord(word string) string {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return ""
	}
	return lowerCaser.String(norm.NFC.String(trimmed))
}

// IsMultiWord reports whether the input contains internal whitespace after
// trimming. Multi-word expressions are an upstream tokenizer concern and are
// rejected before single-word tiering.
func IsMultiWord(word string) bool {
	return strings.ContainsAny(strings.TrimSpace(word), " \t")
}

// StripSuffix removes suffix from word when it is long enough to leave a
// base of at least minBase runes. Returns the base and true on success.
func StripSuffix(word, suffix string, minBase int) (string, bool) {
	if !strings.HasSuffix(word, suffix) {
		return "", false
	}
	base := strings.TrimSuffix(word, suffix)
	if len([]rune(base)) < minBase {
		return "", false
	}
	return base, true
}

// StripPrefix removes prefix from word when the remainder keeps at least
// minRemaining runes.
func StripPrefix(word, prefix string, minRemaining int) (string, bool) {
	if !strings.HasPrefix(word, prefix) {
		return "", false
	}
	base := strings.TrimPrefix(word, prefix)
	if len([]rune(base)) < minRemaining {
		return "", false
	}
	return base, true
}

// Package textnorm normalizes ingested message text and derives the cheap
// fingerprint used for near-verbatim repost detection.
package textnorm

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// tashkeelRE matches Arabic diacritics: U+0610-061A, U+064B-065F, U+0670.
var tashkeelRE = regexp.MustCompile(`[\x{0610}-\x{061A}\x{064B}-\x{065F}\x{0670}]`)

var urlRE = regexp.MustCompile(`https?://\S+|www\.\S+|(?:t\.me|telegram\.me)/\S+`)

var whitespaceRE = regexp.MustCompile(`\s+`)

var digitRE = regexp.MustCompile(`[0-9\x{0660}-\x{0669}]`)

// Normalize canonicalizes raw transport text for downstream correlation:
// NFC composition, tashkeel stripping, URL removal, whitespace collapse.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = tashkeelRE.ReplaceAllString(s, "")
	s = urlRE.ReplaceAllString(s, "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FingerprintPrefixLen is how much of the normalized text feeds the fingerprint.
const FingerprintPrefixLen = 120

// Fingerprint is the SHA-1 of the first FingerprintPrefixLen normalized
// characters with digits stripped, so reposts differing only by numbers or
// diacritics collide. It is invariant under ASCII case.
func Fingerprint(normalized string) string {
	stripped := digitRE.ReplaceAllString(normalized, "")
	runes := []rune(stripped)
	if len(runes) > FingerprintPrefixLen {
		runes = runes[:FingerprintPrefixLen]
	}
	prefix := strings.ToLower(string(runes))
	sum := sha1.Sum([]byte(prefix))
	return hex.EncodeToString(sum[:])
}

// DedupKey is the key used for short-term exact-repeat rejection — the
// SHA-1 of the full normalized text (not truncated).
func DedupKey(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

var urgentKeywords = []string{
	"عاجل", "طارئ", "خطير", // Arabic: urgent, emergency, dangerous
	"דחוף", "התרעה", "חירום", // Hebrew: urgent, alert, emergency
}

var urgentEmoji = []string{"🚨", "🔴"}

// LooksUrgent is the text predicate from spec.md §4.5 step 3: any configured
// Arabic/Hebrew urgent keyword, or one of the emoji markers.
func LooksUrgent(text string) bool {
	for _, kw := range urgentKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	for _, e := range urgentEmoji {
		if strings.Contains(text, e) {
			return true
		}
	}
	return false
}

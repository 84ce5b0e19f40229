package extractor

import (
	"regexp"
	"strings"
)

// defaultChurnPatterns match content known to change benignly between
// fetches of an otherwise-unchanged page (§4.1 step 4). Normalize always
// applies this fixed set; it cannot be changed from outside the package.
var defaultChurnPatterns = []*regexp.Regexp{
	// ISO-8601-like timestamps: 2024-01-02T15:04:05(.000)?(Z|+00:00)?
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?\b`),
	// Plain dates: 2024-01-02 or 01/02/2024
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	// Session identifiers / CSRF tokens / nonces: long hex or base64-ish runs
	// typically assigned names like session, token, csrf, nonce, sid.
	regexp.MustCompile(`(?i)\b(session|csrf|nonce|sid|token)[_-]?(id)?\s*[:=]\s*['"]?[A-Za-z0-9_\-\.]{8,}['"]?`),
}

// Normalize strips the churn patterns, then lowercases and
// whitespace-collapses the text. This is the "normalized text" referenced
// throughout §4.1 and §4.4.
func Normalize(text string) string {
	return normalizeWith(text, defaultChurnPatterns)
}

func normalizeWith(text string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		text = p.ReplaceAllString(text, " ")
	}
	text = strings.ToLower(text)
	text = strings.Join(strings.Fields(text), " ")
	return text
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// SemanticText collapses everything but lowercase alphanumerics, catching
// formatting-only edits — the basis of semantic_hash (§4.1 step 6).
func SemanticText(normalized string) string {
	collapsed := nonAlphanumeric.ReplaceAllString(normalized, "")
	return collapsed
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords is a fixed, small set of common English function words dropped
// before building the keyword set (§4.1 step 5). It is intentionally
// conservative — only words that carry no defacement signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "of": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "by": true, "from": true, "as": true, "it": true,
	"this": true, "that": true, "these": true, "those": true, "we": true,
	"you": true, "your": true, "our": true, "i": true, "he": true, "she": true,
	"they": true, "them": true, "his": true, "her": true, "its": true,
	"not": true, "no": true, "do": true, "does": true, "did": true, "have": true,
	"has": true, "had": true, "will": true, "would": true, "can": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"if": true, "then": true, "than": true, "so": true, "all": true, "each": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"only": true, "own": true, "same": true, "just": true, "also": true,
}

// Keywords tokenizes normalized text, drops stopwords, and dedupes the
// result into a set.
func Keywords(normalizedText string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(normalizedText, -1)
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if stopwords[t] || len(t) < 2 {
			continue
		}
		out[t] = struct{}{}
	}
	return out
}

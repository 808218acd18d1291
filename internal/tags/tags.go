// Package tags extracts bracketed [KEY:VALUE] tokens from LLM analysis
// output. All tag-reading call sites go through this tokenizer so the
// matching contract (case-insensitive keys, tolerated spacing) lives in
// exactly one place.
package tags

import (
	"regexp"
	"strings"
)

// Tag is one [KEY:VALUE] token. VALUE may itself carry a SUB=... payload,
// e.g. [ПЕРЕВОД:СТАНЦИЯ=9301].
type Tag struct {
	Key   string
	Value string
}

var tokenRe = regexp.MustCompile(`\[\s*([^\[\]:]+?)\s*:\s*([^\[\]]*?)\s*\]`)

// Extract returns every tag token found in text, in order.
func Extract(text string) []Tag {
	matches := tokenRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	out := make([]Tag, 0, len(matches))
	for _, m := range matches {
		out = append(out, Tag{Key: strings.TrimSpace(m[1]), Value: strings.TrimSpace(m[2])})
	}
	return out
}

// Has reports whether text contains a [key:value] tag. Keys and values
// compare case-insensitively.
func Has(text, key, value string) bool {
	for _, tag := range Extract(text) {
		if strings.EqualFold(tag.Key, key) && strings.EqualFold(tag.Value, value) {
			return true
		}
	}
	return false
}

// Value returns the payload of the first [key:...] tag.
func Value(text, key string) (string, bool) {
	for _, tag := range Extract(text) {
		if strings.EqualFold(tag.Key, key) {
			return tag.Value, true
		}
	}
	return "", false
}

// SubValue returns the payload of the first [key:sub=...] tag, e.g.
// SubValue(text, "ПЕРЕВОД", "СТАНЦИЯ") for [ПЕРЕВОД:СТАНЦИЯ=9301].
func SubValue(text, key, sub string) (string, bool) {
	for _, tag := range Extract(text) {
		if !strings.EqualFold(tag.Key, key) {
			continue
		}
		name, payload, found := strings.Cut(tag.Value, "=")
		if found && strings.EqualFold(strings.TrimSpace(name), sub) {
			return strings.TrimSpace(payload), true
		}
	}
	return "", false
}

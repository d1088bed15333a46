// Package redact scrubs credential-looking values from text before it
// reaches logs or persisted memory.
package redact

import "regexp"

type rule struct {
	tag         string
	pattern     *regexp.Regexp
	replacement string
}

var rules = []rule{
	{"password", regexp.MustCompile(`(?i)(pass(?:word)?\s*[:=]\s*)([^\s,]+)`), "${1}[REDACTED]"},
	{"api_key", regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\s,]+)`), "${1}[REDACTED]"},
	{"secret", regexp.MustCompile(`(?i)(secret\s*[:=]\s*)([^\s,]+)`), "${1}[REDACTED]"},
	{"token", regexp.MustCompile(`(?i)(token\s*[:=]\s*)([^\s,]+)`), "${1}[REDACTED]"},
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[REDACTED_EMAIL]"},
}

// String replaces sensitive values in s. It returns the scrubbed string
// and the tags of the rules that matched, in rule order.
func String(s string) (string, []string) {
	var tags []string
	for _, r := range rules {
		if !r.pattern.MatchString(s) {
			continue
		}
		s = r.pattern.ReplaceAllString(s, r.replacement)
		tags = append(tags, r.tag)
	}
	return s, tags
}

// Strings scrubs each element in place and returns the union of matched tags.
func Strings(in []string) ([]string, []string) {
	seen := make(map[string]bool)
	var tags []string
	out := make([]string, len(in))
	for i, s := range in {
		scrubbed, matched := String(s)
		out[i] = scrubbed
		for _, tag := range matched {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return out, tags
}

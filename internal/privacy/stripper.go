// Package privacy scrubs captured text before it is persisted. Terminal
// streams routinely contain credentials; what was never stored can never
// leak out of the context store.
package privacy

import (
	"regexp"
	"strings"
)

// privateTagRe matches <private>...</private> spans users place around
// content they never want captured.
var privateTagRe = regexp.MustCompile(`(?s)<private>.*?</private>`)

// assignRe matches key=value / key: value credential assignments. The key
// name survives so the turn still reads naturally.
var assignRe = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?key|secret|token|password|passwd)(["']?\s*[:=]\s*["']?)\S+`)

// secretRes matches bare credential shapes in terminal text.
var secretRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{16,}\b`),
}

const redactedMarker = "[redacted]"

// StripPrivate removes every <private> span from text.
func StripPrivate(text string) string {
	return privateTagRe.ReplaceAllString(text, "")
}

// IsEntirelyPrivate reports whether nothing would remain after stripping.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivate(text)) == ""
}

// Redact replaces credential-shaped substrings with a marker.
func Redact(text string) string {
	text = assignRe.ReplaceAllString(text, "$1$2"+redactedMarker)
	for _, re := range secretRes {
		text = re.ReplaceAllString(text, redactedMarker)
	}
	return text
}

// Clean strips private spans and redacts credentials. Applied to every
// user input and reply before storage.
func Clean(text string) string {
	return strings.TrimSpace(Redact(StripPrivate(text)))
}

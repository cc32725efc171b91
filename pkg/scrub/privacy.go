// Package scrub strips privacy-tagged content from user prompts and tool
// payloads before they are persisted or sent to a provider. Grounded on the
// teacher's pkg/masking compiled-pattern approach (pkg/masking/pattern.go),
// narrowed from Kubernetes-secret detection to a single fixed tag pair since
// this spec's privacy markers are host-supplied, not discovered.
package scrub

import (
	"regexp"
	"strings"
)

// privateTagPattern matches <private>...</private> spans, case-insensitive,
// tolerant of attributes and multi-line content.
var privateTagPattern = regexp.MustCompile(`(?is)<private\b[^>]*>.*?</private>`)

// Result is the outcome of scrubbing one piece of text.
type Result struct {
	Text    string
	Skipped bool // true iff the text became empty after stripping
}

// Strip removes every <private>...</private> span from text and collapses
// the surrounding whitespace left behind. If nothing remains, Skipped is
// true and Text is empty, matching spec B1's `{skipped: true, reason:
// "private"}` contract.
func Strip(text string) Result {
	stripped := privateTagPattern.ReplaceAllString(text, "")
	stripped = collapseWhitespace(stripped)
	if stripped == "" {
		return Result{Text: "", Skipped: true}
	}
	return Result{Text: stripped, Skipped: false}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

package engine

import "strings"

// ParseThought splits raw thought text into the subject between the first
// **…** pair and the remaining description. Text without a complete pair has
// no subject.
func ParseThought(raw string) ThoughtSummary {
	start := strings.Index(raw, "**")
	if start < 0 {
		return ThoughtSummary{Description: strings.TrimSpace(raw)}
	}
	end := strings.Index(raw[start+2:], "**")
	if end < 0 {
		return ThoughtSummary{Description: strings.TrimSpace(raw)}
	}
	end += start + 2

	return ThoughtSummary{
		Subject:     strings.TrimSpace(raw[start+2 : end]),
		Description: strings.TrimSpace(raw[:start] + raw[end+2:]),
	}
}

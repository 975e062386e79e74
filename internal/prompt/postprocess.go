package prompt

import (
	"regexp"
	"strings"
)

var (
	enumerationRe = regexp.MustCompile(`\d:`)
	simpleLabelRe = regexp.MustCompile(`\s+Simple:\s+`)
	complexLabel  = regexp.MustCompile(`\s+Complex:\s+`)
)

// Cleanup reduces a raw model continuation to a single simplification.
//
// The echoed prompt is removed, the text is cut at the first example
// separator, newlines are folded into spaces, only the first enumerated
// reference ("0: ...") is kept and stray "Simple:"/"Complex:" labels are
// dropped. Truncated reports that no separator was found, which either means a
// well-formed answer or that max_new_tokens cut the output short.
func Cleanup(promptText, output, separator string) (text string, truncated bool) {
	out := strings.TrimSpace(strings.ReplaceAll(output, promptText, ""))

	if separator != "" {
		before, _, found := strings.Cut(out, separator)
		out = before
		truncated = !found
	} else {
		truncated = true
	}

	out = strings.ReplaceAll(out, "\n", " ")

	out = firstNonEmpty(enumerationRe.Split(out, -1))

	out = simpleLabelRe.ReplaceAllString(out, "")
	out = complexLabel.ReplaceAllString(out, "")
	return strings.TrimSpace(out), truncated
}

func firstNonEmpty(parts []string) string {
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			return s
		}
	}
	return ""
}

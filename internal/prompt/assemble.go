package prompt

import "strings"

// Example is one rendered demonstration: a source and its (flattened) target.
type Example struct {
	Source string
	Target string
}

// Assemble renders the prompt for query using the selected examples in order.
//
// Empty pieces are skipped; the remaining prefix, examples and suffix are
// joined by the separator. With PrefixEvery the prefix is repeated before each
// example and before the suffix. The result is trimmed of surrounding space.
func Assemble(spec Spec, examples []Example, query string) string {
	pieces := make([]string, 0, len(examples)+2)
	for _, ex := range examples {
		pieces = append(pieces, render(spec.Template, map[string]string{
			spec.SourceField: ex.Source,
			spec.TargetField: ex.Target,
		}))
	}
	pieces = append(pieces, render(spec.Suffix, map[string]string{InputPlaceholder: query}))

	prefix := render(spec.Prefix, nil)

	var b strings.Builder
	first := true
	add := func(piece string) {
		if piece == "" {
			return
		}
		if !first {
			b.WriteString(spec.Separator)
		}
		b.WriteString(piece)
		first = false
	}

	add(prefix)
	for i, piece := range pieces {
		if spec.Format == PrefixEvery && i > 0 {
			add(prefix)
		}
		add(piece)
	}
	return strings.TrimSpace(b.String())
}

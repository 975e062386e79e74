/*
Package prompt renders few-shot prompts and cleans up model continuations.

A Spec is validated once when the run configuration is loaded and is read-only
afterwards; Assemble is a pure function and safe for concurrent use.
*/
package prompt

import (
	"fmt"
	"slices"
	"strings"
)

// Format controls where the prefix appears in an assembled prompt.
type Format string

const (
	// PrefixInitial places the prefix once, before the first example.
	PrefixInitial Format = "prefix_initial"
	// PrefixEvery repeats the prefix before every example and before the query.
	PrefixEvery Format = "prefix_every"
)

// InputPlaceholder is the name substituted with the query in the suffix.
const InputPlaceholder = "input"

// Spec describes how examples and the query are laid out in a prompt.
type Spec struct {
	// ID identifies the prompt in run names (e.g. "p0").
	ID string `json:"id,omitempty"`

	Prefix    string `json:"prefix"`
	Template  string `json:"template"`
	Suffix    string `json:"suffix"`
	Separator string `json:"separator"`
	Format    Format `json:"format"`

	// SourceField and TargetField are the placeholder names used in Template.
	SourceField string `json:"source_field"`
	TargetField string `json:"target_field"`
}

// TemplateError reports a prompt template with missing or unknown placeholders.
type TemplateError struct {
	Field   string
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid prompt %s: %s", e.Field, e.Message)
}

// Validate checks the placeholders of every part of the prompt. The example
// template is only required when examples will be rendered (fewShot > 0).
func (s Spec) Validate(fewShot int) error {
	switch s.Format {
	case PrefixInitial, PrefixEvery:
	default:
		return &TemplateError{
			Field:   "prompt_format",
			Message: fmt.Sprintf("unknown format %q (expected %q or %q)", s.Format, PrefixInitial, PrefixEvery),
		}
	}
	if s.SourceField == "" || s.TargetField == "" {
		return &TemplateError{Field: "source_field", Message: "source and target field names must not be empty"}
	}
	if s.SourceField == s.TargetField {
		return &TemplateError{Field: "target_field", Message: "source and target field names must differ"}
	}

	if err := checkPlaceholders("prompt_prefix", s.Prefix, nil, nil); err != nil {
		return err
	}
	if err := checkPlaceholders("prompt_suffix", s.Suffix,
		[]string{InputPlaceholder}, []string{InputPlaceholder}); err != nil {
		return err
	}
	if fewShot > 0 {
		fields := []string{s.SourceField, s.TargetField}
		if err := checkPlaceholders("prompt_template", s.Template, fields, fields); err != nil {
			return err
		}
	}
	return nil
}

// checkPlaceholders verifies that text uses only allowed placeholders and
// contains every required one.
func checkPlaceholders(field, text string, allowed, required []string) error {
	names, err := placeholders(text)
	if err != nil {
		return &TemplateError{Field: field, Message: err.Error()}
	}
	for _, name := range names {
		if !slices.Contains(allowed, name) {
			return &TemplateError{
				Field:   field,
				Message: fmt.Sprintf("unknown placeholder {%s}", name),
			}
		}
	}
	for _, name := range required {
		if !slices.Contains(names, name) {
			return &TemplateError{
				Field:   field,
				Message: fmt.Sprintf("missing placeholder {%s}", name),
			}
		}
	}
	return nil
}

// placeholders returns the {name} references of text in order of appearance.
// Doubled braces are literal.
func placeholders(text string) ([]string, error) {
	var names []string
	err := walk(text, func(literal string) {}, func(name string) {
		names = append(names, name)
	})
	return names, err
}

// render substitutes values into text. Unknown names render empty; callers
// validate templates before rendering.
func render(text string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(text))
	_ = walk(text, func(literal string) {
		b.WriteString(literal)
	}, func(name string) {
		b.WriteString(values[name])
	})
	return b.String()
}

// walk splits text into literal runs and placeholder names.
func walk(text string, onLiteral func(string), onName func(string)) error {
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			onLiteral("{")
			i += 2
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			onLiteral("}")
			i += 2
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := text[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{ \t\n") {
				return fmt.Errorf("malformed placeholder at offset %d", i)
			}
			onName(name)
			i += end + 2
		case c == '}':
			return fmt.Errorf("single '}' at offset %d", i)
		default:
			j := i
			for j < len(text) && text[j] != '{' && text[j] != '}' {
				j++
			}
			onLiteral(text[i:j])
			i = j
		}
	}
	return nil
}

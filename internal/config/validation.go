package config

import (
	"fmt"
	"slices"
)

var (
	selectors = []string{"random", "similarity", "bm25"}
	modes     = []string{"max", "min"}
	orders    = []string{"auto", "ascending", "descending"}
)

// Validate checks the whole configuration before any work starts. The error
// names the offending option.
func (c *Config) Validate() error {
	if c.ModelNameOrPath == "" {
		return &FieldError{Field: "model_name_or_path", Message: "required"}
	}
	if c.InputFile == "" {
		return &FieldError{Field: "input_file", Message: "required"}
	}
	if c.FewShotN < 0 {
		return &FieldError{Field: "few_shot_n", Message: fmt.Sprintf("must be >= 0, got %d", c.FewShotN)}
	}
	if c.FewShotN > 0 && c.Examples == "" {
		return &FieldError{Field: "examples", Message: fmt.Sprintf("required when few_shot_n is %d", c.FewShotN)}
	}
	if c.BatchSize < 1 {
		return &FieldError{Field: "batch_size", Message: fmt.Sprintf("must be >= 1, got %d", c.BatchSize)}
	}
	if c.NRefs < 1 {
		return &FieldError{Field: "n_refs", Message: fmt.Sprintf("must be >= 1, got %d", c.NRefs)}
	}
	if c.SourceField == "" {
		return &FieldError{Field: "source_field", Message: "required"}
	}
	if c.FewShotN > 0 && c.TargetField == "" {
		return &FieldError{Field: "target_field", Message: "required when examples are used"}
	}

	if err := oneOf("example_selector", c.ExampleSelector, selectors); err != nil {
		return err
	}
	if err := oneOf("example_selector_mode", c.ExampleSelectorMode, modes); err != nil {
		return err
	}
	if err := oneOf("example_selector_order", c.ExampleSelectorOrder, orders); err != nil {
		return err
	}
	if c.ExampleSelector == "similarity" && c.ExampleSelectorModelName == "" {
		return &FieldError{Field: "example_selector_model_name", Message: "required for similarity selection"}
	}

	for field, value := range map[string]int{
		"workers":                 c.Workers,
		"max_concurrency":         c.MaxConcurrency,
		"requests_per_minute":     c.RequestsPerMinute,
		"request_timeout_seconds": c.RequestTimeoutSeconds,
	} {
		if value < 0 {
			return &FieldError{Field: field, Message: fmt.Sprintf("must be >= 0, got %d", value)}
		}
	}

	if err := c.PromptSpec().Validate(c.FewShotN); err != nil {
		return err
	}
	return c.DecodingParams().Validate()
}

func oneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return &FieldError{Field: field, Message: fmt.Sprintf("%q is not one of %v", value, allowed)}
}

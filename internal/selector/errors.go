package selector

import "fmt"

// InsufficientExamplesError reports a store smaller than the requested number
// of examples per prompt.
type InsufficientExamplesError struct {
	Available int
	Requested int
}

func (e *InsufficientExamplesError) Error() string {
	return fmt.Sprintf("few_shot_n=%d but the examples file holds only %d records\n\n💡 Lower --few_shot_n or provide a larger --examples file",
		e.Requested, e.Available)
}

// EmbeddingUnavailableError reports that the embedding model could not be
// reached or failed to embed a text.
type EmbeddingUnavailableError struct {
	Model string
	Err   error
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("embedding model %q unavailable (example_selector_model_name): %v", e.Model, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid selector option.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

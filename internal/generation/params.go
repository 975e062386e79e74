/*
Package generation drives a language model over batches of prompts.

The Orchestrator splits prompts into batches, sends each batch with the run's
decoding parameters to a Generator backend and hands results back in input
order. Backends:

	process  a model worker spawned as a child process (JSON-RPC over stdio)
	openai   the OpenAI completions API
	compat   an OpenAI-compatible inference server (vLLM and similar)
	genai    the Google Gemini API
	echo     a deterministic offline backend for dry runs and tests
*/
package generation

import "fmt"

// Params are the decoding parameters passed verbatim to a backend.
type Params struct {
	DoSample           bool    `json:"do_sample"`
	Temperature        float64 `json:"temperature"`
	TopK               int     `json:"top_k"`
	TopP               float64 `json:"top_p"`
	NumBeams           int     `json:"num_beams"`
	LengthPenalty      float64 `json:"length_penalty"`
	MinLength          int     `json:"min_length"`
	MaxNewTokens       int     `json:"max_new_tokens"`
	NumReturnSequences int     `json:"num_return_sequences"`
	NoEarlyStop        bool    `json:"no_early_stop"`
	FrequencyPenalty   float64 `json:"frequency_penalty"`
	PresencePenalty    float64 `json:"presence_penalty"`
	Seed               int64   `json:"seed"`
}

// InvalidDecodingConfigError reports inconsistent decoding parameters.
type InvalidDecodingConfigError struct {
	Field   string
	Message string
}

func (e *InvalidDecodingConfigError) Error() string {
	return fmt.Sprintf("invalid decoding config (%s): %s", e.Field, e.Message)
}

// Validate checks the parameters before any batch is issued.
func (p Params) Validate() error {
	if p.NumReturnSequences < 1 {
		return &InvalidDecodingConfigError{
			Field:   "num_return_sequences",
			Message: fmt.Sprintf("must be >= 1, got %d", p.NumReturnSequences),
		}
	}
	if p.NumBeams < 1 {
		return &InvalidDecodingConfigError{
			Field:   "num_beams",
			Message: fmt.Sprintf("must be >= 1, got %d", p.NumBeams),
		}
	}
	if !p.DoSample && p.NumReturnSequences > p.NumBeams {
		return &InvalidDecodingConfigError{
			Field: "num_return_sequences",
			Message: fmt.Sprintf("beam search (do_sample=false) returns at most num_beams=%d sequences, requested %d",
				p.NumBeams, p.NumReturnSequences),
		}
	}
	if p.DoSample && p.Temperature <= 0 {
		return &InvalidDecodingConfigError{
			Field:   "temperature",
			Message: fmt.Sprintf("must be > 0 when sampling, got %g", p.Temperature),
		}
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return &InvalidDecodingConfigError{
			Field:   "top_p",
			Message: fmt.Sprintf("must be in (0, 1], got %g", p.TopP),
		}
	}
	if p.TopK < 0 {
		return &InvalidDecodingConfigError{
			Field:   "top_k",
			Message: fmt.Sprintf("must be >= 0, got %d", p.TopK),
		}
	}
	if p.MaxNewTokens < 1 {
		return &InvalidDecodingConfigError{
			Field:   "max_new_tokens",
			Message: fmt.Sprintf("must be >= 1, got %d", p.MaxNewTokens),
		}
	}
	if p.MinLength < 0 {
		return &InvalidDecodingConfigError{
			Field:   "min_length",
			Message: fmt.Sprintf("must be >= 0, got %d", p.MinLength),
		}
	}
	return nil
}

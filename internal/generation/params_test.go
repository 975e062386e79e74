package generation

import (
	"errors"
	"testing"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		field  string
	}{
		{name: "sampling defaults", mutate: func(*Params) {}},
		{
			name: "beam search with enough beams",
			mutate: func(p *Params) {
				p.DoSample = false
				p.NumBeams = 4
				p.NumReturnSequences = 4
			},
		},
		{
			name: "more sequences than beams",
			mutate: func(p *Params) {
				p.DoSample = false
				p.NumBeams = 1
				p.NumReturnSequences = 2
			},
			field: "num_return_sequences",
		},
		{
			name: "sampling allows many sequences",
			mutate: func(p *Params) {
				p.NumBeams = 1
				p.NumReturnSequences = 5
			},
		},
		{
			name:   "zero sequences",
			mutate: func(p *Params) { p.NumReturnSequences = 0 },
			field:  "num_return_sequences",
		},
		{
			name:   "zero beams",
			mutate: func(p *Params) { p.NumBeams = 0 },
			field:  "num_beams",
		},
		{
			name:   "zero temperature while sampling",
			mutate: func(p *Params) { p.Temperature = 0 },
			field:  "temperature",
		},
		{
			name: "zero temperature greedy",
			mutate: func(p *Params) {
				p.DoSample = false
				p.Temperature = 0
				p.NumReturnSequences = 1
			},
		},
		{
			name:   "top_p above one",
			mutate: func(p *Params) { p.TopP = 1.5 },
			field:  "top_p",
		},
		{
			name:   "negative top_k",
			mutate: func(p *Params) { p.TopK = -1 },
			field:  "top_k",
		},
		{
			name:   "no new tokens",
			mutate: func(p *Params) { p.MaxNewTokens = 0 },
			field:  "max_new_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mutate(&p)

			err := p.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}

			var decodingErr *InvalidDecodingConfigError
			if !errors.As(err, &decodingErr) {
				t.Fatalf("expected InvalidDecodingConfigError, got %v", err)
			}
			if decodingErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, decodingErr.Field)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		opts  BackendOptions
		kind  string
		model string
	}{
		{BackendOptions{Model: "bigscience/bloom-560m", Command: "python worker.py"}, KindProcess, "bigscience/bloom-560m"},
		{BackendOptions{Model: "echo"}, KindEcho, "echo"},
		{BackendOptions{Model: "openai-gpt-3.5-turbo-instruct"}, KindOpenAI, "gpt-3.5-turbo-instruct"},
		{BackendOptions{Model: "gemini-2.0-flash"}, KindGenAI, "gemini-2.0-flash"},
		{BackendOptions{Model: "genai-gemma-3-27b-it"}, KindGenAI, "gemma-3-27b-it"},
		{BackendOptions{Model: "OpenAI-GPT-3.5-Turbo-Instruct"}, KindOpenAI, "gpt-3.5-turbo-instruct"},
		{BackendOptions{Model: "cohere-command"}, KindCohere, "command"},
		{BackendOptions{Model: "Cohere-Command-Light"}, KindCohere, "command-light"},
		{BackendOptions{Model: "Gemini-2.0-Flash"}, KindGenAI, "Gemini-2.0-Flash"},
		{BackendOptions{Model: "facebook/opt-1.3b"}, KindCompat, "facebook/opt-1.3b"},
	}

	for _, tt := range tests {
		kind, model := Kind(tt.opts)
		if kind != tt.kind || model != tt.model {
			t.Errorf("Kind(%q) = %s, %s; expected %s, %s", tt.opts.Model, kind, model, tt.kind, tt.model)
		}
	}
}

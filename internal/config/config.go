/*
Package config holds the configuration of an inference run.

A run is configured by a flat set of snake_case options. They are read from a
JSON or YAML file, then overridden by command-line flags of the same name:

	model_name_or_path: bigscience/bloom-560m
	input_file: data/asset/dataset/asset.valid.jsonl
	examples: data/asset/dataset/asset.test.jsonl
	prompt_json: prompts/p0.json
	example_selector: random
	few_shot_n: 3
	num_return_sequences: 1
	seed: 489
	output_dir: resources/outputs

Precedence is defaults < config file < flags; a prompt_json file then
overrides the prompt options. The resulting Config is validated once and is
read-only for the rest of the run.
*/
package config

import (
	"encoding/json"
	"fmt"

	"github.com/khanglvm/icl-simplify/internal/generation"
	"github.com/khanglvm/icl-simplify/internal/output"
	"github.com/khanglvm/icl-simplify/internal/prompt"
	"github.com/khanglvm/icl-simplify/internal/runid"
)

// Config represents one run's configuration.
type Config struct {
	// Model loading. Everything but the name is forwarded to a worker process.
	ModelNameOrPath  string  `json:"model_name_or_path" yaml:"model_name_or_path" help:"model name or path; its prefix selects the generation backend"`
	IsEncoderDecoder bool    `json:"is_encoder_decoder" yaml:"is_encoder_decoder" help:"the model is a sequence-to-sequence model"`
	DeviceMap        string  `json:"device_map" yaml:"device_map" help:"device placement passed to the model loader"`
	MaxMemory        float64 `json:"max_memory" yaml:"max_memory" help:"fraction of device memory the model loader may use"`
	LoadIn8bit       bool    `json:"load_in_8bit" yaml:"load_in_8bit" help:"load the model with 8-bit weights"`
	OffloadStateDict bool    `json:"offload_state_dict" yaml:"offload_state_dict" help:"offload the state dict to CPU while loading"`
	OffloadFolder    string  `json:"offload_folder" yaml:"offload_folder" help:"folder for offloaded weights"`
	UseCuda          bool    `json:"use_cuda" yaml:"use_cuda" help:"run the model on GPU"`

	Seed      int64 `json:"seed" yaml:"seed" help:"seed for example selection and sampling"`
	BatchSize int   `json:"batch_size" yaml:"batch_size" help:"prompts per generation call"`

	// Decoding.
	MinLength          int     `json:"min_length" yaml:"min_length" help:"minimum number of generated tokens"`
	MaxNewTokens       int     `json:"max_new_tokens" yaml:"max_new_tokens" help:"maximum number of generated tokens"`
	LengthPenalty      float64 `json:"length_penalty" yaml:"length_penalty" help:"beam search length penalty"`
	NoEarlyStop        bool    `json:"no_early_stop" yaml:"no_early_stop" help:"do not stop beam search early"`
	NumReturnSequences int     `json:"num_return_sequences" yaml:"num_return_sequences" help:"candidates generated per input"`
	NumBeams           int     `json:"num_beams" yaml:"num_beams" help:"beam search width"`
	DoSample           bool    `json:"do_sample" yaml:"do_sample" help:"sample instead of beam search"`
	Temperature        float64 `json:"temperature" yaml:"temperature" help:"sampling temperature"`
	TopK               int     `json:"top_k" yaml:"top_k" help:"top-k sampling (0 disables)"`
	TopP               float64 `json:"top_p" yaml:"top_p" help:"nucleus sampling probability"`
	FrequencyPenalty   float64 `json:"frequency_penalty" yaml:"frequency_penalty" help:"penalty for frequent tokens"`
	PresencePenalty    float64 `json:"presence_penalty" yaml:"presence_penalty" help:"penalty for tokens already present"`

	// Data.
	InputFile   string `json:"input_file" yaml:"input_file" help:"newline-delimited query records (JSONL or text)"`
	Examples    string `json:"examples" yaml:"examples" help:"newline-delimited example records (JSONL)"`
	SourceField string `json:"source_field" yaml:"source_field" help:"record field holding the source text"`
	TargetField string `json:"target_field" yaml:"target_field" help:"record field holding the target text(s)"`
	NRefs       int    `json:"n_refs" yaml:"n_refs" help:"references sampled per example target"`
	// RefDelimiter joins sampled references.
	RefDelimiter string `json:"ref_delimiter" yaml:"ref_delimiter" help:"delimiter joining multiple references"`

	// Prompt.
	PromptJSON       string `json:"prompt_json" yaml:"prompt_json" help:"JSON file overriding the prompt options"`
	PromptPrefix     string `json:"prompt_prefix" yaml:"prompt_prefix" help:"instruction placed before the examples"`
	PromptTemplate   string `json:"prompt_template" yaml:"prompt_template" help:"example template with {source_field} and {target_field} placeholders"`
	PromptSuffix     string `json:"prompt_suffix" yaml:"prompt_suffix" help:"query template with an {input} placeholder"`
	PromptFormat     string `json:"prompt_format" yaml:"prompt_format" help:"prefix_initial or prefix_every"`
	ExampleSeparator string `json:"example_separator" yaml:"example_separator" help:"separator between prompt sections"`

	// Example selection.
	ExampleSelector          string `json:"example_selector" yaml:"example_selector" help:"random, similarity or bm25"`
	ExampleSelectorMode      string `json:"example_selector_mode" yaml:"example_selector_mode" help:"max or min similarity"`
	ExampleSelectorOrder     string `json:"example_selector_order" yaml:"example_selector_order" help:"auto, ascending or descending score order"`
	ExampleSelectorModelName string `json:"example_selector_model_name" yaml:"example_selector_model_name" help:"embedding model (hash:<dims>, ollama:<model>, genai:<model>)"`
	ExampleSelectorSaveDir   string `json:"example_selector_save_dir" yaml:"example_selector_save_dir" help:"directory persisting example embeddings"`
	FewShotN                 int    `json:"few_shot_n" yaml:"few_shot_n" help:"examples per prompt"`

	// Output.
	OutputDir  string `json:"output_dir" yaml:"output_dir" help:"output root; the file name is derived from the configuration"`
	OutputFile string `json:"output_file" yaml:"output_file" help:"explicit output file (stdout when neither is set)"`
	Verbose    bool   `json:"verbose" yaml:"verbose" help:"debug logging"`

	// Backends.
	GenerationEndpoint    string `json:"generation_endpoint" yaml:"generation_endpoint" help:"base URL of an OpenAI-compatible server"`
	GenerationCommand     string `json:"generation_command" yaml:"generation_command" help:"command starting a model worker process"`
	EmbeddingEndpoint     string `json:"embedding_endpoint" yaml:"embedding_endpoint" help:"base URL of the Ollama server"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env" help:"environment variable holding the API key"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" help:"timeout of one generation call (0 uses the backend default)"`
	RequestsPerMinute     int    `json:"requests_per_minute" yaml:"requests_per_minute" help:"generation call rate limit (0 disables)"`
	MaxConcurrency        int    `json:"max_concurrency" yaml:"max_concurrency" help:"requests in flight: batches for completions endpoints, prompts of a batch for Cohere and Gemini (0 means 1)"`
	Workers               int    `json:"workers" yaml:"workers" help:"prompt assembly workers (0 uses GOMAXPROCS)"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		DeviceMap:     "auto",
		MaxMemory:     1.0,
		OffloadFolder: "offload",
		UseCuda:       true,

		Seed:      42,
		BatchSize: 4,

		MaxNewTokens:       100,
		LengthPenalty:      1.0,
		NumReturnSequences: 1,
		NumBeams:           1,
		DoSample:           true,
		Temperature:        1.0,
		TopP:               0.9,

		SourceField:  "complex",
		TargetField:  "simple",
		NRefs:        1,
		RefDelimiter: " ",

		PromptPrefix:     "Simplify the following sentence:",
		PromptTemplate:   "Complex: {complex}\nSimple: {simple}",
		PromptSuffix:     "Complex: {input}\nSimple:",
		PromptFormat:     string(prompt.PrefixInitial),
		ExampleSeparator: "\n\n",

		ExampleSelector:          "random",
		ExampleSelectorMode:      "max",
		ExampleSelectorOrder:     "auto",
		ExampleSelectorModelName: "hash:512",
		FewShotN:                 3,
	}
}

// PromptSpec returns the prompt layout.
func (c *Config) PromptSpec() prompt.Spec {
	spec := prompt.Spec{
		Prefix:      c.PromptPrefix,
		Template:    c.PromptTemplate,
		Suffix:      c.PromptSuffix,
		Separator:   c.ExampleSeparator,
		Format:      prompt.Format(c.PromptFormat),
		SourceField: c.SourceField,
		TargetField: c.TargetField,
	}
	spec.ID = runid.PromptID(c.PromptJSON, spec)
	return spec
}

// DecodingParams returns the parameters sent with every generation call.
func (c *Config) DecodingParams() generation.Params {
	return generation.Params{
		DoSample:           c.DoSample,
		Temperature:        c.Temperature,
		TopK:               c.TopK,
		TopP:               c.TopP,
		NumBeams:           c.NumBeams,
		LengthPenalty:      c.LengthPenalty,
		MinLength:          c.MinLength,
		MaxNewTokens:       c.MaxNewTokens,
		NumReturnSequences: c.NumReturnSequences,
		NoEarlyStop:        c.NoEarlyStop,
		FrequencyPenalty:   c.FrequencyPenalty,
		PresencePenalty:    c.PresencePenalty,
		Seed:               c.Seed,
	}
}

// LoadOptions returns the model-loading options forwarded to a worker.
func (c *Config) LoadOptions() map[string]any {
	return map[string]any{
		"is_encoder_decoder": c.IsEncoderDecoder,
		"device_map":         c.DeviceMap,
		"max_memory":         c.MaxMemory,
		"load_in_8bit":       c.LoadIn8bit,
		"offload_state_dict": c.OffloadStateDict,
		"offload_folder":     c.OffloadFolder,
		"use_cuda":           c.UseCuda,
	}
}

// Identity returns the run identity.
func (c *Config) Identity() runid.Identity {
	examples := c.Examples
	if c.FewShotN == 0 {
		examples = ""
	}
	return runid.Identity{
		Model:        c.ModelNameOrPath,
		InputFile:    c.InputFile,
		ExamplesFile: examples,
		PromptID:     c.PromptSpec().ID,
		Selector:     runid.SelectorToken(c.ExampleSelector, c.ExampleSelectorMode, c.ExampleSelectorOrder),
		FewShotN:     c.FewShotN,
		NumReturn:    c.NumReturnSequences,
		Seed:         c.Seed,
	}
}

// OutputPath returns where records are written: output_file when set, the
// derived name under output_dir otherwise, or "stdout" when neither is set.
func (c *Config) OutputPath() string {
	switch {
	case c.OutputFile != "":
		return c.OutputFile
	case c.OutputDir != "":
		return c.Identity().Path(c.OutputDir, ".jsonl")
	default:
		return output.Stdout
	}
}

// JSON returns the configuration as indented JSON.
func (c *Config) JSON() (json.RawMessage, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

package generation

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BackendOptions selects and configures a Generator.
type BackendOptions struct {
	// Model is model_name_or_path; its prefix picks the backend.
	Model string
	// Command, when set, runs the model in a worker process.
	Command string
	// Endpoint is the base URL of an OpenAI-compatible server.
	Endpoint string
	// APIKeyEnv overrides the environment variable holding the API key.
	APIKeyEnv      string
	TimeoutSeconds int
	MaxConcurrency int
	// Load holds model-loading options forwarded to a worker process.
	Load   map[string]any
	Logger *zap.Logger
}

// Backend kinds, as reported by Kind.
const (
	KindProcess = "process"
	KindEcho    = "echo"
	KindOpenAI  = "openai"
	KindCohere  = "cohere"
	KindGenAI   = "genai"
	KindCompat  = "compat"
)

// Kind returns the backend kind used for opts and the model name sent to it.
// API prefixes match case-insensitively; the OpenAI and Cohere model names are
// lowercased.
func Kind(opts BackendOptions) (kind, model string) {
	name := opts.Model
	lower := strings.ToLower(name)
	switch {
	case opts.Command != "":
		return KindProcess, name
	case name == "echo" || strings.HasPrefix(name, "echo-") || strings.HasPrefix(name, "echo:"):
		return KindEcho, name
	case strings.HasPrefix(lower, "openai-"):
		return KindOpenAI, strings.TrimPrefix(lower, "openai-")
	case strings.HasPrefix(lower, "cohere-"):
		return KindCohere, strings.TrimPrefix(lower, "cohere-")
	case strings.HasPrefix(lower, "genai-"):
		return KindGenAI, name[len("genai-"):]
	case strings.HasPrefix(lower, "gemini-"):
		return KindGenAI, name
	default:
		return KindCompat, name
	}
}

// NewGenerator builds the backend for opts.
func NewGenerator(ctx context.Context, opts BackendOptions) (Generator, error) {
	kind, model := Kind(opts)
	switch kind {
	case KindProcess:
		return NewProcessGenerator(ProcessOptions{
			Command: opts.Command,
			Model:   model,
			Load:    opts.Load,
			Timeout: time.Duration(opts.TimeoutSeconds) * time.Second,
			Logger:  opts.Logger,
		})

	case KindEcho:
		return NewEchoGenerator(model), nil

	case KindOpenAI:
		keyEnv := opts.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		baseURL := opts.Endpoint
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
		}
		return NewCompletionClient(CompletionOptions{
			BaseURL:        baseURL,
			Model:          model,
			APIKeyEnv:      keyEnv,
			RequireKey:     true,
			TimeoutSeconds: opts.TimeoutSeconds,
			MaxConcurrency: opts.MaxConcurrency,
		})

	case KindGenAI:
		keyEnv := opts.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "GEMINI_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		return NewGenAIGenerator(ctx, GenAIOptions{
			APIKey:         apiKey,
			Model:          model,
			BaseURL:        opts.Endpoint,
			TimeoutSeconds: opts.TimeoutSeconds,
			MaxConcurrency: opts.MaxConcurrency,
		})

	case KindCohere:
		keyEnv := opts.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "COHERE_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			apiKey = os.Getenv("CO_API_KEY")
		}
		return NewCohereGenerator(CohereOptions{
			APIKey:         apiKey,
			Model:          model,
			BaseURL:        opts.Endpoint,
			TimeoutSeconds: opts.TimeoutSeconds,
			MaxConcurrency: opts.MaxConcurrency,
		})

	default:
		baseURL := opts.Endpoint
		if baseURL == "" {
			baseURL = DefaultCompatBaseURL
		}
		return NewCompletionClient(CompletionOptions{
			BaseURL:        baseURL,
			Model:          model,
			APIKeyEnv:      opts.APIKeyEnv,
			TimeoutSeconds: opts.TimeoutSeconds,
			Extended:       true,
			MaxConcurrency: opts.MaxConcurrency,
		})
	}
}

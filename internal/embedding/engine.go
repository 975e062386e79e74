/*
Package embedding turns sentences into vectors for similarity-based example
selection.

An Embedder is chosen by a "provider:model" name:

	hash:<dims>       offline feature hashing (default 512 dims)
	ollama:<model>    local Ollama server
	genai:<model>     Google Gemini embedding API

The name is also the cache key under which vectors are persisted, so two runs
using the same name share cached embeddings.
*/
package embedding

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Embedder generates embedding vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the "provider:model" name of the embedder.
	Name() string
}

// Options configures remote embedding providers.
type Options struct {
	// OllamaEndpoint is the base URL of the Ollama server.
	OllamaEndpoint string
	// APIKeyEnv names the environment variable holding the GenAI key.
	APIKeyEnv string
}

// New creates the embedder named by spec ("provider:model").
func New(spec string, opts Options) (Embedder, error) {
	provider, model, _ := strings.Cut(spec, ":")

	switch strings.ToLower(provider) {
	case "hash":
		dims := DefaultHashDims
		if model != "" {
			n, err := strconv.Atoi(model)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid hash embedding dimensions %q", model)
			}
			dims = n
		}
		return NewHashEmbedder(dims), nil

	case "ollama":
		return NewOllamaEmbedder(opts.OllamaEndpoint, model), nil

	case "genai", "gemini":
		keyEnv := opts.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "GEMINI_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		return NewGenAIEmbedder(context.Background(), apiKey, model)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (expected hash, ollama or genai)", provider)
	}
}

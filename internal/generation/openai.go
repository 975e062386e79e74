package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default endpoints for the completion backends.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultCompatBaseURL = "http://localhost:8000/v1"
)

// CompletionOptions configures a completions API backend.
type CompletionOptions struct {
	BaseURL string
	Model   string
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string
	// RequireKey fails construction when no key is found.
	RequireKey     bool
	TimeoutSeconds int
	// Extended sends sampler options understood by vLLM-style servers
	// (top_k, min_tokens, length_penalty, beam search).
	Extended bool
	// MaxConcurrency is the number of batches that may be in flight.
	MaxConcurrency int
}

// CompletionClient talks to an OpenAI-style /completions endpoint. One request
// carries a whole batch: the prompt list and n candidates per prompt.
type CompletionClient struct {
	client      openai.Client
	model       string
	extended    bool
	concurrency int
	usageCounter
}

// NewCompletionClient creates a completions backend.
func NewCompletionClient(opts CompletionOptions) (*CompletionClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenAIBaseURL
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("completions backend: model is required")
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 300
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	key := ""
	if opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && opts.RequireKey {
		return nil, fmt.Errorf("completions backend: missing API key (set %s)", opts.APIKeyEnv)
	}

	// Local servers accept any key, but the client insists on one.
	if key == "" {
		key = "EMPTY"
	}

	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"),
		option.WithAPIKey(key),
		option.WithRequestTimeout(time.Duration(opts.TimeoutSeconds)*time.Second),
		option.WithMaxRetries(0),
	)
	return &CompletionClient{
		client:      client,
		model:       opts.Model,
		extended:    opts.Extended,
		concurrency: opts.MaxConcurrency,
	}, nil
}

// buildRequest maps the decoding parameters onto the completions API. Sampler
// options outside the OpenAI API are returned as extra body fields.
func (c *CompletionClient) buildRequest(prompts []string, p Params) (openai.CompletionNewParams, []option.RequestOption) {
	req := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(c.model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfArrayOfStrings: prompts},
		MaxTokens:   openai.Int(int64(p.MaxNewTokens)),
		N:           openai.Int(int64(p.NumReturnSequences)),
		Seed:        openai.Int(p.Seed),
		Temperature: openai.Float(p.Temperature),
		TopP:        openai.Float(p.TopP),
	}
	if !p.DoSample {
		req.Temperature = openai.Float(0)
		req.TopP = openai.Float(1)
	}
	if p.FrequencyPenalty != 0 {
		req.FrequencyPenalty = openai.Float(p.FrequencyPenalty)
	}
	if p.PresencePenalty != 0 {
		req.PresencePenalty = openai.Float(p.PresencePenalty)
	}

	if !c.extended {
		return req, nil
	}

	// vLLM extensions.
	var extra []option.RequestOption
	if p.TopK > 0 {
		extra = append(extra, option.WithJSONSet("top_k", p.TopK))
	}
	if p.MinLength > 0 {
		extra = append(extra, option.WithJSONSet("min_tokens", p.MinLength))
	}
	if !p.DoSample && p.NumBeams > 1 {
		req.BestOf = openai.Int(int64(p.NumBeams))
		extra = append(extra,
			option.WithJSONSet("use_beam_search", true),
			option.WithJSONSet("early_stopping", !p.NoEarlyStop),
			option.WithJSONSet("length_penalty", p.LengthPenalty),
		)
	}
	return req, extra
}

// Generate sends the batch in one request.
func (c *CompletionClient) Generate(ctx context.Context, prompts []string, params Params) ([][]string, error) {
	req, extra := c.buildRequest(prompts, params)

	resp, err := c.client.Completions.New(ctx, req, extra...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &upstreamError{status: apiErr.StatusCode, err: apiErr}
		}
		return nil, fmt.Errorf("completions request failed: %w", err)
	}
	c.add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	choices := resp.Choices
	n := params.NumReturnSequences
	if len(choices) != len(prompts)*n {
		return nil, fmt.Errorf("expected %d choices, got %d", len(prompts)*n, len(choices))
	}
	sort.SliceStable(choices, func(a, b int) bool {
		return choices[a].Index < choices[b].Index
	})

	results := make([][]string, len(prompts))
	for i := range results {
		results[i] = make([]string, n)
		for j := 0; j < n; j++ {
			// The completions API does not echo the prompt; restore it so
			// that outputs look alike across backends.
			results[i][j] = prompts[i] + choices[i*n+j].Text
		}
	}
	return results, nil
}

// upstreamError is a non-2xx answer from the completions server.
type upstreamError struct {
	status int
	err    error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("completions upstream %d: %v", e.status, e.err)
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// Name returns the backend name.
func (c *CompletionClient) Name() string {
	if c.extended {
		return "compat:" + c.model
	}
	return "openai:" + c.model
}

// Concurrency returns the number of batches that may be in flight.
func (c *CompletionClient) Concurrency() int {
	return c.concurrency
}

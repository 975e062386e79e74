package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

// GenAIOptions configures a Gemini backend.
type GenAIOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL        string
	TimeoutSeconds int
	// MaxConcurrency is the number of requests in flight for a batch.
	MaxConcurrency int
}

// GenAIGenerator generates with the Google Gemini API. The API has no batch
// call, so the prompts of a batch are sent as parallel requests. Batches are
// run one at a time.
type GenAIGenerator struct {
	client      *genai.Client
	model       string
	concurrency int
	usageCounter
}

// NewGenAIGenerator creates a Gemini backend.
func NewGenAIGenerator(ctx context.Context, opts GenAIOptions) (*GenAIGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("genai backend: missing API key (set GEMINI_API_KEY)")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	httpOpts := genai.HTTPOptions{BaseURL: opts.BaseURL}
	if opts.TimeoutSeconds > 0 {
		timeout := time.Duration(opts.TimeoutSeconds) * time.Second
		httpOpts.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: opts.Model, concurrency: opts.MaxConcurrency}, nil
}

func (g *GenAIGenerator) config(p Params) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		CandidateCount:  int32(p.NumReturnSequences),
		MaxOutputTokens: int32(p.MaxNewTokens),
		Seed:            genai.Ptr(int32(p.Seed)),
	}
	if p.DoSample {
		cfg.Temperature = genai.Ptr(float32(p.Temperature))
		cfg.TopP = genai.Ptr(float32(p.TopP))
		if p.TopK > 0 {
			cfg.TopK = genai.Ptr(float32(p.TopK))
		}
	} else {
		cfg.Temperature = genai.Ptr[float32](0)
	}
	if p.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = genai.Ptr(float32(p.FrequencyPenalty))
	}
	if p.PresencePenalty != 0 {
		cfg.PresencePenalty = genai.Ptr(float32(p.PresencePenalty))
	}
	return cfg
}

// Generate sends one request per prompt with CandidateCount candidates, at
// most MaxConcurrency at a time.
func (g *GenAIGenerator) Generate(ctx context.Context, prompts []string, params Params) ([][]string, error) {
	cfg := g.config(params)
	results := make([][]string, len(prompts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, p := range prompts {
		eg.Go(func() error {
			resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p), cfg)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			if u := resp.UsageMetadata; u != nil {
				g.add(int64(u.PromptTokenCount), int64(u.CandidatesTokenCount), int64(u.TotalTokenCount))
			}
			candidates := make([]string, 0, len(resp.Candidates))
			for _, c := range resp.Candidates {
				var sb strings.Builder
				if c.Content != nil {
					for _, part := range c.Content.Parts {
						sb.WriteString(part.Text)
					}
				}
				candidates = append(candidates, p+sb.String())
			}
			results[i] = candidates
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Name returns the backend name.
func (g *GenAIGenerator) Name() string {
	return "genai:" + g.model
}

package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
	"golang.org/x/sync/errgroup"
)

// CohereOptions configures a Cohere backend.
type CohereOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the Cohere API endpoint.
	BaseURL        string
	TimeoutSeconds int
	// MaxConcurrency is the number of requests in flight for a batch.
	MaxConcurrency int
}

// CohereGenerator generates with the Cohere generate endpoint, one request per
// prompt. Batches are run one at a time.
type CohereGenerator struct {
	client      *cohereclient.Client
	model       string
	concurrency int
	usageCounter
}

// NewCohereGenerator creates a Cohere backend.
func NewCohereGenerator(opts CohereOptions) (*CohereGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("cohere backend: missing API key (set COHERE_API_KEY)")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("cohere backend: model is required")
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 300
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	clientOpts := []option.RequestOption{
		option.WithToken(opts.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}),
		option.WithMaxAttempts(1),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &CohereGenerator{
		client:      cohereclient.NewClient(clientOpts...),
		model:       opts.Model,
		concurrency: opts.MaxConcurrency,
	}, nil
}

func ptr[T any](v T) *T { return &v }

func billed(units *float64) int64 {
	if units == nil {
		return 0
	}
	return int64(*units)
}

func (g *CohereGenerator) request(prompt string, p Params) *cohere.GenerateRequest {
	req := &cohere.GenerateRequest{
		Prompt:         prompt,
		Model:          ptr(g.model),
		NumGenerations: ptr(p.NumReturnSequences),
		MaxTokens:      ptr(p.MaxNewTokens),
		Seed:           ptr(int(p.Seed)),
		Temperature:    ptr(0.0),
	}
	if p.DoSample {
		req.Temperature = ptr(p.Temperature)
		req.P = ptr(p.TopP)
		if p.TopK > 0 {
			req.K = ptr(p.TopK)
		}
	}
	if p.FrequencyPenalty != 0 {
		req.FrequencyPenalty = ptr(p.FrequencyPenalty)
	}
	if p.PresencePenalty != 0 {
		req.PresencePenalty = ptr(p.PresencePenalty)
	}
	return req
}

// Generate sends one request per prompt, at most MaxConcurrency at a time.
func (g *CohereGenerator) Generate(ctx context.Context, prompts []string, params Params) ([][]string, error) {
	results := make([][]string, len(prompts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, p := range prompts {
		eg.Go(func() error {
			resp, err := g.client.Generate(ctx, g.request(p, params))
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			if resp.Meta != nil && resp.Meta.BilledUnits != nil {
				units := resp.Meta.BilledUnits
				g.add(billed(units.InputTokens), billed(units.OutputTokens), 0)
			}
			candidates := make([]string, 0, len(resp.Generations))
			for _, gen := range resp.Generations {
				if gen != nil {
					candidates = append(candidates, p+gen.Text)
				}
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
func (g *CohereGenerator) Name() string {
	return "cohere:" + g.model
}

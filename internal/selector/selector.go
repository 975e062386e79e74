/*
Package selector chooses the few-shot examples placed in each prompt.

Three strategies are available:

	random      k distinct examples drawn with a per-query seeded generator
	similarity  k examples ranked by cosine similarity of sentence embeddings
	bm25        k examples ranked by BM25 relevance (bleve index)

Selections are reproducible: given the same seed, store and query, every
strategy returns the same examples in the same order, independent of the order
or concurrency in which queries are processed.
*/
package selector

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/dataset"
	"github.com/khanglvm/icl-simplify/internal/embedding"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// Strategy names.
const (
	Random     = "random"
	Similarity = "similarity"
	BM25       = "bm25"
)

// Mode picks the most ("max") or least ("min") similar examples.
type Mode string

const (
	ModeMax Mode = "max"
	ModeMin Mode = "min"
)

// Order controls the order of ranked selections.
type Order string

const (
	// OrderAuto sorts "max" selections by descending score and "min"
	// selections by ascending score, so the most similar example of a "min"
	// selection is placed last, nearest to the query.
	OrderAuto       Order = "auto"
	OrderAscending  Order = "ascending"
	OrderDescending Order = "descending"
)

// Selected is one chosen example with the score it was ranked by (0 for random).
type Selected struct {
	Record dataset.ExampleRecord
	Score  float64
}

// Selector returns the examples for one query.
type Selector interface {
	// Select returns exactly k examples for query, in prompt order.
	Select(ctx context.Context, query dataset.QueryRecord) ([]Selected, error)

	// Name returns the strategy name.
	Name() string
}

// Options configures a selector.
type Options struct {
	Strategy string
	K        int
	Seed     int64
	Mode     Mode
	Order    Order

	// Embedder is required by the similarity strategy.
	Embedder embedding.Embedder
	// Cache persists example embeddings across runs (optional).
	Cache storage.Storage

	Logger *zap.Logger
}

// New builds the selector named by opts.Strategy over store. It fails before
// any work is done when the store holds fewer than K examples.
func New(ctx context.Context, store *Store, opts Options) (Selector, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.K < 0 {
		return nil, &ConfigError{Field: "few_shot_n", Message: fmt.Sprintf("must be >= 0, got %d", opts.K)}
	}
	if store.Len() < opts.K {
		return nil, &InsufficientExamplesError{Available: store.Len(), Requested: opts.K}
	}
	if opts.Mode == "" {
		opts.Mode = ModeMax
	}
	if opts.Order == "" {
		opts.Order = OrderAuto
	}
	if err := validateRanking(opts.Mode, opts.Order); err != nil {
		return nil, err
	}

	switch opts.Strategy {
	case Random, "":
		return newRandomSelector(store, opts), nil
	case Similarity:
		if opts.Embedder == nil {
			return nil, &ConfigError{Field: "example_selector_model_name", Message: "similarity selection needs an embedding model"}
		}
		return newSimilaritySelector(store, opts)
	case BM25:
		return newBM25Selector(store, opts)
	default:
		return nil, &ConfigError{
			Field:   "example_selector",
			Message: fmt.Sprintf("unknown strategy %q (expected %s, %s or %s)", opts.Strategy, Random, Similarity, BM25),
		}
	}
}

func validateRanking(mode Mode, order Order) error {
	switch mode {
	case ModeMax, ModeMin:
	default:
		return &ConfigError{Field: "example_selector_mode", Message: fmt.Sprintf("unknown mode %q (expected max or min)", mode)}
	}
	switch order {
	case OrderAuto, OrderAscending, OrderDescending:
	default:
		return &ConfigError{Field: "example_selector_order", Message: fmt.Sprintf("unknown order %q", order)}
	}
	return nil
}

// QueryRand returns the generator used for everything random about one
// query: it depends only on the run seed and the query text.
func QueryRand(seed int64, source string) *rand.Rand {
	h1, h2 := murmur3.Sum128([]byte(source))
	return rand.New(rand.NewPCG(uint64(seed)^h1, h2))
}

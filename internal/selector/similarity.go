package selector

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/dataset"
	"github.com/khanglvm/icl-simplify/internal/embedding"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// queryCacheBytes bounds the memory used for memoised query embeddings.
const queryCacheBytes = 64 << 20

// similaritySelector ranks examples by cosine similarity between the query
// embedding and each example source embedding.
type similaritySelector struct {
	store    *Store
	embedder embedding.Embedder
	cache    storage.Storage
	k        int
	mode     Mode
	order    Order
	logger   *zap.Logger

	// queries memoises query embeddings; repeated inputs are common in
	// evaluation sets with several references per source.
	queries *ristretto.Cache[string, []float32]
}

func newSimilaritySelector(store *Store, opts Options) (*similaritySelector, error) {
	queries, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 100_000,
		MaxCost:     queryCacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding cache: %w", err)
	}

	return &similaritySelector{
		store:    store,
		embedder: opts.Embedder,
		cache:    opts.Cache,
		k:        opts.K,
		mode:     opts.Mode,
		order:    opts.Order,
		logger:   opts.Logger.Named("similarity"),
		queries:  queries,
	}, nil
}

func (s *similaritySelector) Name() string { return Similarity }

// Prepare embeds every example up front so an unreachable embedding model is
// reported before generation starts.
func (s *similaritySelector) Prepare(ctx context.Context) error {
	_, err := s.store.Embeddings(ctx, s.embedder, s.cache, s.logger)
	return err
}

// Select returns the k examples ranked by similarity to the query.
func (s *similaritySelector) Select(ctx context.Context, query dataset.QueryRecord) ([]Selected, error) {
	if s.k == 0 {
		return []Selected{}, nil
	}

	examples, err := s.store.Embeddings(ctx, s.embedder, s.cache, s.logger)
	if err != nil {
		return nil, err
	}

	q, err := s.embedQuery(ctx, query.Source)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(examples))
	for i, vec := range examples {
		scores[i] = cosineSimilarity(q, vec)
	}

	picked := rank(scores, s.k, s.mode, s.order)
	out := make([]Selected, len(picked))
	for i, idx := range picked {
		out[i] = Selected{Record: s.store.Record(idx), Score: scores[idx]}
	}
	return out, nil
}

func (s *similaritySelector) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := s.embedder.Name() + "\x00" + text
	if vec, ok := s.queries.Get(key); ok {
		return vec, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingUnavailableError{Model: s.embedder.Name(), Err: err}
	}
	s.queries.Set(key, vec, int64(len(vec)*4))
	return vec, nil
}

// Close releases the query embedding cache.
func (s *similaritySelector) Close() error {
	s.queries.Close()
	return nil
}

package selector

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	indexapi "github.com/blevesearch/bleve_index_api"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/dataset"
)

// bm25Selector ranks examples by the BM25 relevance of their source text for
// the query, using an in-memory scorch index with BM25 scoring. Examples that
// share no term with the query score 0.
type bm25Selector struct {
	store  *Store
	index  bleve.Index
	k      int
	mode   Mode
	order  Order
	logger *zap.Logger
	mu     sync.RWMutex
}

func newBM25Selector(store *Store, opts Options) (*bm25Selector, error) {
	// An empty path keeps the scorch index in memory.
	index, err := bleve.NewUsing("", buildIndexMapping(), scorch.Name, scorch.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	batch := index.NewBatch()
	for _, rec := range store.Records() {
		if err := batch.Index(strconv.Itoa(rec.Index), map[string]interface{}{
			"source": rec.Source,
		}); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to index example %d: %w", rec.Index, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to batch index examples: %w", err)
	}

	opts.Logger.Debug("indexed examples for bm25", zap.Int("count", store.Len()))

	return &bm25Selector{
		store:  store,
		index:  index,
		k:      opts.K,
		mode:   opts.Mode,
		order:  opts.Order,
		logger: opts.Logger.Named("bm25"),
	}, nil
}

// buildIndexMapping creates the Bleve index mapping for example documents.
func buildIndexMapping() mapping.IndexMapping {
	exampleMapping := bleve.NewDocumentMapping()

	sourceFieldMapping := bleve.NewTextFieldMapping()
	sourceFieldMapping.Analyzer = en.AnalyzerName
	exampleMapping.AddFieldMappingsAt("source", sourceFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.ScoringModel = indexapi.BM25Scoring
	indexMapping.AddDocumentMapping("_default", exampleMapping)
	return indexMapping
}

func (b *bm25Selector) Name() string { return BM25 }

// Select returns the k examples ranked by BM25 score.
func (b *bm25Selector) Select(ctx context.Context, query dataset.QueryRecord) ([]Selected, error) {
	if b.k == 0 {
		return []Selected{}, nil
	}

	scores, err := b.score(ctx, query.Source)
	if err != nil {
		return nil, err
	}

	picked := rank(scores, b.k, b.mode, b.order)
	out := make([]Selected, len(picked))
	for i, idx := range picked {
		out[i] = Selected{Record: b.store.Record(idx), Score: scores[idx]}
	}
	return out, nil
}

// score returns the BM25 score of every example, indexed by position.
func (b *bm25Selector) score(ctx context.Context, text string) ([]float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q := bleve.NewMatchQuery(text)
	q.SetField("source")

	req := bleve.NewSearchRequestOptions(q, b.store.Len(), 0, false)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	scores := make([]float64, b.store.Len())
	for _, hit := range results.Hits {
		idx, err := strconv.Atoi(hit.ID)
		if err != nil || idx < 0 || idx >= len(scores) {
			b.logger.Warn("unexpected document id in bm25 index", zap.String("id", hit.ID))
			continue
		}
		scores[idx] = hit.Score
	}
	return scores, nil
}

// Close closes the index and releases resources.
func (b *bm25Selector) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

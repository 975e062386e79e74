package selector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/icl-simplify/internal/dataset"
	"github.com/khanglvm/icl-simplify/internal/embedding"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// embedChunk is the number of texts sent to an embedder per call.
const embedChunk = 64

// Store is the read-only example collection with one lazily filled embedding
// slot per record and embedding model. A filled slot is never replaced.
type Store struct {
	records []dataset.ExampleRecord

	// slots maps an embedder name to its []atomic.Pointer slot array.
	slots sync.Map
}

// NewStore wraps records, which must not be modified afterwards.
func NewStore(records []dataset.ExampleRecord) *Store {
	return &Store{records: records}
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Record returns the record at index i.
func (s *Store) Record(i int) dataset.ExampleRecord {
	return s.records[i]
}

// Records returns the records in collection order.
func (s *Store) Records() []dataset.ExampleRecord {
	return s.records
}

type slots []atomic.Pointer[[]float32]

func (s *Store) slotsFor(model string) slots {
	if v, ok := s.slots.Load(model); ok {
		return v.(slots)
	}
	v, _ := s.slots.LoadOrStore(model, make(slots, len(s.records)))
	return v.(slots)
}

// Embedded returns how many records already hold an embedding for model.
func (s *Store) Embedded(model string) int {
	sl := s.slotsFor(model)
	n := 0
	for i := range sl {
		if sl[i].Load() != nil {
			n++
		}
	}
	return n
}

// Embeddings returns the embedding of every record for embedder, computing
// missing ones. Vectors are looked up in cache first (when non-nil) and new
// vectors are written back to it. Concurrent callers may compute the same
// vector twice, but only the first stored vector is ever returned.
func (s *Store) Embeddings(ctx context.Context, embedder embedding.Embedder, cache storage.Storage, logger *zap.Logger) ([][]float32, error) {
	model := embedder.Name()
	sl := s.slotsFor(model)

	var missing []int
	for i := range sl {
		if sl[i].Load() != nil {
			continue
		}
		if cache != nil {
			if vec, err := cache.GetEmbedding(model, s.records[i].Source); err == nil && vec != nil {
				sl[i].CompareAndSwap(nil, &vec)
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		logger.Debug("embedding examples",
			zap.String("model", model),
			zap.Int("missing", len(missing)),
			zap.Int("total", len(sl)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for start := 0; start < len(missing); start += embedChunk {
			chunk := missing[start:min(start+embedChunk, len(missing))]
			g.Go(func() error {
				texts := make([]string, len(chunk))
				for j, idx := range chunk {
					texts[j] = s.records[idx].Source
				}
				vecs, err := embedder.EmbedBatch(gctx, texts)
				if err != nil {
					return &EmbeddingUnavailableError{Model: model, Err: err}
				}
				if len(vecs) != len(texts) {
					return &EmbeddingUnavailableError{
						Model: model,
						Err:   fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts)),
					}
				}
				for j, idx := range chunk {
					vec := vecs[j]
					if !sl[idx].CompareAndSwap(nil, &vec) || cache == nil {
						continue
					}
					if err := cache.SaveEmbedding(model, texts[j], vec); err != nil {
						logger.Warn("failed to cache embedding", zap.String("model", model), zap.Error(err))
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(sl))
	for i := range sl {
		out[i] = *sl[i].Load()
	}
	return out, nil
}

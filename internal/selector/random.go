package selector

import (
	"context"

	"github.com/khanglvm/icl-simplify/internal/dataset"
)

// randomSelector draws k distinct examples uniformly without replacement.
type randomSelector struct {
	store *Store
	k     int
	seed  int64
}

func newRandomSelector(store *Store, opts Options) *randomSelector {
	return &randomSelector{store: store, k: opts.K, seed: opts.Seed}
}

func (r *randomSelector) Name() string { return Random }

// Select runs a partial Fisher-Yates shuffle with the query's generator.
func (r *randomSelector) Select(ctx context.Context, query dataset.QueryRecord) ([]Selected, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.k == 0 {
		return []Selected{}, nil
	}

	rng := QueryRand(r.seed, query.Source)
	n := r.store.Len()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	out := make([]Selected, r.k)
	for i := 0; i < r.k; i++ {
		j := i + rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
		out[i] = Selected{Record: r.store.Record(perm[i])}
	}
	return out, nil
}

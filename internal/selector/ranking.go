package selector

import (
	"cmp"
	"math"
	"slices"
)

// rank picks k indices of scores and orders them for the prompt.
//
// "max" keeps the k highest scores, "min" the k lowest. Equal scores are
// resolved in favour of the lowest index, both for membership and order.
func rank(scores []float64, k int, mode Mode, order Order) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}

	byScore := func(desc bool) func(a, b int) int {
		return func(a, b int) int {
			c := cmp.Compare(scores[a], scores[b])
			if c == 0 {
				return a - b
			}
			if desc {
				return -c
			}
			return c
		}
	}

	slices.SortStableFunc(idx, byScore(mode == ModeMax))
	picked := idx[:min(k, len(idx))]

	desc := mode == ModeMax
	switch order {
	case OrderAscending:
		desc = false
	case OrderDescending:
		desc = true
	}
	slices.SortStableFunc(picked, byScore(desc))
	return picked
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct float64
	var normA float64
	var normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

package embedding

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

// DefaultHashDims is the vector size of "hash" without explicit dimensions.
const DefaultHashDims = 512

// HashEmbedder is a deterministic bag-of-words embedder based on feature
// hashing. Unigrams and bigrams of lower-cased word tokens are hashed into a
// fixed number of signed buckets and the vector is L2-normalised. It needs no
// model and no network, so similarity selection works offline.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

// Embed generates an embedding for a single text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Name returns the embedder name.
func (e *HashEmbedder) Name() string {
	return "hash:" + strconv.Itoa(e.dims)
}

func (e *HashEmbedder) add(vec []float32, feature string) {
	h := murmur3.Sum32WithSeed([]byte(feature), 0x9747b28c)
	bucket := int(h % uint32(e.dims))
	// The top bit picks the sign so collisions tend to cancel out.
	if h&0x80000000 != 0 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewByName(t *testing.T) {
	tests := []struct {
		spec    string
		name    string
		wantErr bool
	}{
		{spec: "hash", name: "hash:512"},
		{spec: "hash:64", name: "hash:64"},
		{spec: "hash:zero", wantErr: true},
		{spec: "ollama:all-minilm", name: "ollama:all-minilm"},
		{spec: "sentence-transformers:all-distilroberta-v1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			e, err := New(tt.spec, Options{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, e.Name())
		})
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The feline is tiny.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the FELINE is tiny")
	require.NoError(t, err)

	assert.Len(t, a, 128)
	assert.Equal(t, a, b, "tokenisation should ignore case and punctuation")
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(DefaultHashDims)
	ctx := context.Background()

	vecs, err := e.EmbedBatch(ctx, []string{
		"the cat sat on the mat",
		"the cat sat on a mat",
		"stock prices fell sharply today",
	})
	require.NoError(t, err)

	near := dot(vecs[0], vecs[1])
	far := dot(vecs[0], vecs[2])
	assert.Greater(t, near, far)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	vec, err := NewHashEmbedder(8).Embed(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL+"/", "all-minilm")
	vecs, err := e.EmbedBatch(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, vecs)
}

func TestOllamaEmbedderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaEmbedder(server.URL, "missing").Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "status 404")
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

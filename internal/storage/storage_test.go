/*
Package storage provides tests for the storage layer.
*/
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store := NewStorageAt(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestInit verifies database initialization and schema creation.
func TestInit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	store := NewStorageAt(dbPath, nil)

	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file not created")
	}
	if !store.Enabled() {
		t.Error("expected storage to be enabled")
	}
}

// TestInitTwice verifies migrations are applied once.
func TestInitTwice(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 2; i++ {
		store := NewStorageAt(dbPath, nil)
		if err := store.Init(); err != nil {
			t.Fatalf("Init %d failed: %v", i, err)
		}
		store.Close()
	}
}

// TestEmbeddingRoundTrip verifies embeddings are stored per model and text.
func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStorage(t)

	vector := []float32{0.1, 0.2, 0.3}
	if err := store.SaveEmbedding("hash:8", "A big dog ran.", vector); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	got, err := store.GetEmbedding("hash:8", "A big dog ran.")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(got) != len(vector) {
		t.Fatalf("expected %d dims, got %d", len(vector), len(got))
	}
	for i := range vector {
		if got[i] != vector[i] {
			t.Errorf("dim %d: expected %v, got %v", i, vector[i], got[i])
		}
	}

	other, err := store.GetEmbedding("ollama:nomic-embed-text", "A big dog ran.")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if other != nil {
		t.Errorf("expected no embedding for another model, got %v", other)
	}
}

// TestEmbeddingWriteOnce verifies a cached vector is never replaced.
func TestEmbeddingWriteOnce(t *testing.T) {
	store := newTestStorage(t)

	store.SaveEmbedding("m", "text", []float32{1})
	store.SaveEmbedding("m", "text", []float32{2})

	got, _ := store.GetEmbedding("m", "text")
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("expected first vector to be kept, got %v", got)
	}
}

// TestEmbeddingStatsAndClear verifies cache inspection and clearing.
func TestEmbeddingStatsAndClear(t *testing.T) {
	store := newTestStorage(t)

	store.SaveEmbedding("a", "one", []float32{1})
	store.SaveEmbedding("a", "two", []float32{2})
	store.SaveEmbedding("b", "one", []float32{3})

	stats, err := store.EmbeddingStats()
	if err != nil {
		t.Fatalf("EmbeddingStats failed: %v", err)
	}
	if stats["a"] != 2 || stats["b"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}

	removed, err := store.ClearEmbeddings("a")
	if err != nil {
		t.Fatalf("ClearEmbeddings failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	removed, err = store.ClearEmbeddings("")
	if err != nil {
		t.Fatalf("ClearEmbeddings failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}

// TestRunHistory verifies run attempts are recorded and listed.
func TestRunHistory(t *testing.T) {
	store := newTestStorage(t)

	run := RunRecord{
		AttemptID:  "attempt-1",
		RunID:      "bloom/asset.test_asset.valid_p0_random_fs3_nr1_s489",
		OutputFile: "/tmp/out.jsonl",
	}
	if err := store.StartRun(run); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.FinishRun("attempt-1", RunOutcome{
		Status:  StatusFailed,
		Records: 4,
		Failed:  []int{2, 3},
		Message: "batch 1 failed",
	}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.Status != StatusFailed || got.Records != 4 {
		t.Errorf("unexpected run: %+v", got)
	}
	if len(got.Failed) != 2 || got.Failed[0] != 2 {
		t.Errorf("expected failed [2 3], got %v", got.Failed)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

// TestGracefulDegradation verifies disabled storage never fails.
func TestGracefulDegradation(t *testing.T) {
	store := &SQLiteStorage{enabled: false}

	if err := store.Init(); err != nil {
		t.Errorf("Init should not fail when disabled: %v", err)
	}
	if err := store.SaveEmbedding("m", "t", []float32{1}); err != nil {
		t.Errorf("SaveEmbedding should not fail when disabled: %v", err)
	}
	if v, err := store.GetEmbedding("m", "t"); err != nil || v != nil {
		t.Errorf("GetEmbedding should return nil when disabled, got %v, %v", v, err)
	}
	runs, err := store.ListRuns(5)
	if err != nil || len(runs) != 0 {
		t.Errorf("ListRuns should be empty when disabled, got %v, %v", runs, err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close should not fail when disabled: %v", err)
	}
}

// TestHashText verifies stable hashing.
func TestHashText(t *testing.T) {
	if HashText("a") != HashText("a") {
		t.Error("expected stable hash")
	}
	if HashText("a") == HashText("b") {
		t.Error("expected distinct hashes")
	}
	if len(HashText("a")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashText("a")))
	}
}

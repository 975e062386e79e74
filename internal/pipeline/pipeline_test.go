package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanglvm/icl-simplify/internal/config"
	"github.com/khanglvm/icl-simplify/internal/generation"
	"github.com/khanglvm/icl-simplify/internal/output"
	"github.com/khanglvm/icl-simplify/internal/selector"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

const examplesJSONL = `{"complex": "The cat perched on the mat.", "simple": ["The cat sat on the mat.", "A cat sat on the mat."]}
{"complex": "He departed in haste.", "simple": "He left quickly."}
{"complex": "The physician examined the patient.", "simple": "The doctor checked the patient."}
{"complex": "She purchased a vehicle.", "simple": "She bought a car."}
`

const inputsJSONL = `{"complex": "The committee deliberated at length.", "simple": "The committee talked for a long time."}
{"complex": "The infant slumbered peacefully."}
{"complex": "They commenced the ceremony."}
{"complex": "The edifice was demolished."}
{"complex": "Precipitation is anticipated tomorrow."}
`

func writeData(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.ModelNameOrPath = "echo"
	cfg.InputFile = writeData(t, dir, "asset.valid.jsonl", inputsJSONL)
	cfg.Examples = writeData(t, dir, "asset.test.jsonl", examplesJSONL)
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.FewShotN = 2
	cfg.BatchSize = 2
	cfg.NumReturnSequences = 2
	cfg.Seed = 489
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	history := storage.NewStorageAt(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, history.Init())
	defer history.Close()

	summary, err := Run(context.Background(), cfg, Deps{History: history, Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, cfg.OutputPath(), summary.OutputFile)
	assert.True(t, strings.HasSuffix(summary.OutputFile,
		filepath.Join("echo", "asset.valid_asset.test_p"+cfg.PromptSpec().ID+"_random_fs2_nr2_s489.jsonl")))

	n, err := output.Verify(summary.OutputFile, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	records := readRecords(t, summary.OutputFile)
	wantSources := []string{
		"The committee deliberated at length.",
		"The infant slumbered peacefully.",
		"They commenced the ceremony.",
		"The edifice was demolished.",
		"Precipitation is anticipated tomorrow.",
	}
	for i, rec := range records {
		assert.Equal(t, wantSources[i], rec.Source, "record %d out of order", i)
		assert.Equal(t, []string{"echo output 0", "echo output 1"}, rec.ModelOutput)
		assert.True(t, strings.HasSuffix(rec.InputPrompt, "Complex: "+rec.Source+"\nSimple:"))
		assert.Equal(t, 2, strings.Count(rec.InputPrompt, "Complex: ")-1, "two examples expected in prompt %d", i)
	}
	assert.Equal(t, []string{"The committee talked for a long time."}, records[0].References)

	manifest, err := output.ReadManifest(summary.OutputFile)
	require.NoError(t, err)
	assert.True(t, manifest.Complete)
	assert.Equal(t, summary.RunID, manifest.RunID)

	runs, err := history.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusCompleted, runs[0].Status)
	assert.Equal(t, 5, runs[0].Records)
}

func TestRunKeepsInputFields(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputFile = writeData(t, t.TempDir(), "ids.jsonl",
		`{"complex":"The feline is tiny.","simple":"The cat is small.","id":"q-17"}`+"\n")
	cfg.FewShotN = 1

	summary, err := Run(context.Background(), cfg, Deps{})
	require.NoError(t, err)

	data, err := os.ReadFile(summary.OutputFile)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))

	assert.Equal(t, "q-17", line["id"])
	assert.Equal(t, "The cat is small.", line["simple"])
	assert.Equal(t, "The feline is tiny.", line["source"])
	assert.Equal(t, []any{"echo output 0", "echo output 1"}, line["model_output"])
}

func TestRunIsReproducible(t *testing.T) {
	cfg := testConfig(t)

	first, err := Run(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	a, err := os.ReadFile(first.OutputFile)
	require.NoError(t, err)

	cfg.OutputDir = t.TempDir()
	cfg.Workers = 1
	cfg.BatchSize = 3
	second, err := Run(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	b, err := os.ReadFile(second.OutputFile)
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, string(a), string(b))
}

func TestPrepareDocumentedPrompt(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.ModelNameOrPath = "echo"
	cfg.Examples = writeData(t, dir, "ex.jsonl", `{"complex":"A big dog ran.","simple":"A large dog ran."}`+"\n")
	cfg.InputFile = writeData(t, dir, "in.jsonl", `{"complex":"The feline is tiny."}`+"\n")
	cfg.FewShotN = 1
	cfg.PromptPrefix = "Simplify:"
	cfg.PromptTemplate = "'{complex}' -> '{simple}'"
	cfg.PromptSuffix = "'{input}' ->"
	cfg.ExampleSeparator = "\n"

	session, err := Open(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	defer session.Close()

	prepared, err := session.Prepare(context.Background(), session.Queries())
	require.NoError(t, err)
	require.Len(t, prepared, 1)
	assert.Equal(t, "Simplify:\n'A big dog ran.' -> 'A large dog ran.'\n'The feline is tiny.' ->", prepared[0].Prompt)
}

func TestPrepareSimilarity(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExampleSelector = "similarity"
	cfg.ExampleSelectorMode = "min"
	cfg.ExampleSelectorSaveDir = t.TempDir()

	session, err := Open(context.Background(), cfg, Deps{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer session.Close()

	prepared, err := session.Prepare(context.Background(), session.Queries())
	require.NoError(t, err)
	for _, p := range prepared {
		require.Len(t, p.Examples, 2)
		assert.LessOrEqual(t, p.Examples[0].Score, p.Examples[1].Score, "min mode places the closest example last")
	}

	_, err = os.Stat(filepath.Join(cfg.ExampleSelectorSaveDir, storage.EmbeddingsFile))
	assert.NoError(t, err, "embedding cache not persisted")
}

func TestRunInsufficientExamples(t *testing.T) {
	cfg := testConfig(t)
	cfg.FewShotN = 5

	gen := &countingGenerator{}
	_, err := Run(context.Background(), cfg, Deps{Generator: gen})

	var insufficient *selector.InsufficientExamplesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 4, insufficient.Available)
	assert.Zero(t, gen.calls)

	_, statErr := os.Stat(cfg.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFailedBatch(t *testing.T) {
	cfg := testConfig(t)
	gen := &countingGenerator{failOn: "The infant"}

	summary, err := Run(context.Background(), cfg, Deps{Generator: gen})
	require.Error(t, err)
	assert.True(t, IsFailedRun(err))

	var batchErr *generation.GenerationBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 0, batchErr.Batch)

	// The file is written, with the failed batch marked.
	records := readRecords(t, summary.OutputFile)
	require.Len(t, records, 5)
	assert.NotEmpty(t, records[0].Error)
	assert.NotEmpty(t, records[1].Error)
	assert.Empty(t, records[2].Error)
	assert.Equal(t, []int{0, 1}, summary.Failed)

	manifest, err := output.ReadManifest(summary.OutputFile)
	require.NoError(t, err)
	assert.False(t, manifest.Complete)

	_, err = output.Verify(summary.OutputFile, 5)
	var incomplete *output.IncompleteError
	assert.ErrorAs(t, err, &incomplete)
}

func TestRunCancelledKeepsPreviousOutput(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.OutputPath()), 0755))
	require.NoError(t, os.WriteFile(cfg.OutputPath(), []byte("previous\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &countingGenerator{onCall: cancel}

	_, err := Run(ctx, cfg, Deps{Generator: gen})
	require.ErrorIs(t, err, context.Canceled)

	data, err := os.ReadFile(cfg.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(data))
	assert.Equal(t, 1, gen.calls, "no batch may start after cancellation")
}

// countingGenerator echoes prompts; it fails batches containing failOn.
type countingGenerator struct {
	failOn string
	onCall func()
	calls  int
}

func (g *countingGenerator) Generate(ctx context.Context, prompts []string, params generation.Params) ([][]string, error) {
	g.calls++
	if g.onCall != nil {
		g.onCall()
	}
	out := make([][]string, len(prompts))
	for i, p := range prompts {
		if g.failOn != "" && strings.Contains(p, g.failOn) {
			return nil, errors.New("CUDA out of memory")
		}
		for j := 0; j < params.NumReturnSequences; j++ {
			out[i] = append(out[i], p+" simple")
		}
	}
	return out, nil
}

func (g *countingGenerator) Name() string { return "counting" }

// billedGenerator reports 10 prompt and 3 completion tokens per call.
type billedGenerator struct {
	countingGenerator
}

func (g *billedGenerator) Usage() generation.Usage {
	return generation.Usage{
		PromptTokens:     int64(10 * g.calls),
		CompletionTokens: int64(3 * g.calls),
		TotalTokens:      int64(13 * g.calls),
	}
}

func TestRunReportsTokenUsage(t *testing.T) {
	cfg := testConfig(t)
	gen := &billedGenerator{}

	summary, err := Run(context.Background(), cfg, Deps{Generator: gen, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	// Five inputs in batches of two.
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, generation.Usage{PromptTokens: 30, CompletionTokens: 9, TotalTokens: 39}, summary.Usage)
}

package dataset

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

var simpleFields = Fields{Source: "complex", Target: "simple"}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLoadExamples(t *testing.T) {
	path := writeFile(t, "examples.jsonl", `{"complex": "A big dog ran.", "simple": "A large dog ran."}

{"complex": "It is raining heavily.", "simple": ["It rains a lot.", "Heavy rain."]}
`)

	records, err := LoadExamples(path, simpleFields)
	if err != nil {
		t.Fatalf("LoadExamples failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Source != "A big dog ran." || records[0].Target() != "A large dog ran." {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].Index != 1 {
		t.Errorf("expected index 1, got %d", records[1].Index)
	}
	if len(records[1].Targets) != 2 {
		t.Errorf("expected 2 references, got %d", len(records[1].Targets))
	}
}

func TestLoadExamplesMissingTarget(t *testing.T) {
	path := writeFile(t, "examples.jsonl", "{\"complex\": \"a\", \"simple\": \"b\"}\n{\"complex\": \"c\"}\n")

	_, err := LoadExamples(path, simpleFields)
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected LineError, got %v", err)
	}
	if lineErr.Line != 2 {
		t.Errorf("expected line 2, got %d", lineErr.Line)
	}
}

func TestLoadQueriesMixed(t *testing.T) {
	path := writeFile(t, "asset.test.jsonl", `{"complex": "The feline is tiny.", "simple": ["The cat is small."]}
A plain sentence.
`)

	queries, err := LoadQueries(path, simpleFields)
	if err != nil {
		t.Fatalf("LoadQueries failed: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].Source != "The feline is tiny." {
		t.Errorf("unexpected source: %q", queries[0].Source)
	}
	if len(queries[0].References) != 1 {
		t.Errorf("expected 1 reference, got %d", len(queries[0].References))
	}
	if queries[1].Source != "A plain sentence." || queries[1].Fields != nil {
		t.Errorf("unexpected plain query: %+v", queries[1])
	}
}

func TestLoadQueriesMissingFile(t *testing.T) {
	if _, err := LoadQueries(filepath.Join(t.TempDir(), "nope.jsonl"), simpleFields); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFlattenReferences(t *testing.T) {
	refs := []string{"r0", "r1", "r2"}

	t.Run("single reference", func(t *testing.T) {
		got := FlattenReferences([]string{"only"}, 1, " ", rand.New(rand.NewPCG(1, 2)))
		if got.Text != "only" || got.Short {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("single reference requested twice", func(t *testing.T) {
		got := FlattenReferences([]string{"only"}, 2, " ", rand.New(rand.NewPCG(1, 2)))
		if got.Text != "only" || !got.Short {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("enumerated", func(t *testing.T) {
		got := FlattenReferences(refs, 2, " ", rand.New(rand.NewPCG(1, 2)))
		if got.Short {
			t.Error("expected enough references")
		}
		if len(got.Text) < len("0: r0 1: r1") || got.Text[:3] != "0: " {
			t.Errorf("unexpected text: %q", got.Text)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a := FlattenReferences(refs, 1, " ", rand.New(rand.NewPCG(7, 7)))
		b := FlattenReferences(refs, 1, " ", rand.New(rand.NewPCG(7, 7)))
		if a != b {
			t.Errorf("expected identical picks, got %q and %q", a.Text, b.Text)
		}
	})

	t.Run("more requested than available", func(t *testing.T) {
		got := FlattenReferences(refs, 5, " ", rand.New(rand.NewPCG(1, 2)))
		if !got.Short {
			t.Error("expected short flag")
		}
	})
}

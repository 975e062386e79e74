package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFromJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run.json", `{
		"model_name_or_path": "bigscience/bloom-560m",
		"few_shot_n": 5,
		"do_sample": false,
		"num_beams": 4
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ModelNameOrPath != "bigscience/bloom-560m" || cfg.FewShotN != 5 || cfg.DoSample || cfg.NumBeams != 4 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Untouched options keep their defaults.
	if cfg.BatchSize != 4 || cfg.SourceField != "complex" {
		t.Errorf("defaults lost: batch_size=%d source_field=%q", cfg.BatchSize, cfg.SourceField)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run.yaml", `
model_name_or_path: facebook/opt-1.3b
example_selector: similarity
example_selector_mode: min
seed: 489
prompt_template: "{complex} => {simple}"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ExampleSelector != "similarity" || cfg.ExampleSelectorMode != "min" || cfg.Seed != 489 {
		t.Errorf("YAML values not applied: %+v", cfg)
	}
}

func TestLoadFromErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.json"))
		var notFound *ConfigNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected ConfigNotFoundError, got %v", err)
		}
	})

	t.Run("unknown option", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "run.json", `{"few_shot": 3}`)
		_, err := LoadFrom(path)
		var invalid *InvalidConfigError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidConfigError, got %v", err)
		}
		if invalid.Field != "few_shot" {
			t.Errorf("Field = %q, want %q", invalid.Field, "few_shot")
		}
		if !strings.Contains(err.Error(), "few_shot") {
			t.Errorf("error should name the unknown option, got: %v", err)
		}
	})

	t.Run("unknown YAML option", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "run.yml", "fewshot: 3\n")
		_, err := LoadFrom(path)
		var invalid *InvalidConfigError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidConfigError, got %v", err)
		}
		if invalid.Field != "fewshot" {
			t.Errorf("Field = %q, want %q", invalid.Field, "fewshot")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "run.json", `{"seed": `)
		_, err := LoadFrom(path)
		if err == nil || !strings.Contains(err.Error(), "JSON parse error") {
			t.Errorf("expected JSON parse error, got %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("root ignores file permissions")
		}
		path := writeFile(t, t.TempDir(), "run.json", `{}`)
		if err := os.Chmod(path, 0000); err != nil {
			t.Fatal(err)
		}
		_, err := LoadFrom(path)
		if err == nil || !strings.Contains(err.Error(), "chmod 644") {
			t.Errorf("error should suggest chmod fix, got: %v", err)
		}
	})
}

func TestApplyPromptJSON(t *testing.T) {
	dir := t.TempDir()
	promptPath := writeFile(t, dir, "p1.json", `{
		"prompt_prefix": "Rewrite the sentence in simple English.",
		"prompt_template": "Original: {complex}\\nSimplified: {simple}",
		"prompt_suffix": "Original: {input}\\nSimplified:"
	}`)

	cfg := Defaults()
	cfg.PromptJSON = promptPath
	cfg.PromptPrefix = "overridden"

	applied, err := cfg.ApplyPromptJSON()
	if err != nil {
		t.Fatalf("ApplyPromptJSON() error = %v", err)
	}
	if len(applied) != 3 {
		t.Errorf("expected 3 overridden keys, got %v", applied)
	}
	if cfg.PromptPrefix != "Rewrite the sentence in simple English." {
		t.Errorf("prompt_json must win over other sources, got %q", cfg.PromptPrefix)
	}
	if cfg.PromptTemplate != `Original: {complex}\nSimplified: {simple}` {
		t.Errorf("escapes are kept until Unescape, got %q", cfg.PromptTemplate)
	}
	cfg.Unescape()
	if cfg.PromptTemplate != "Original: {complex}\nSimplified: {simple}" {
		t.Errorf("unexpected template %q", cfg.PromptTemplate)
	}

	bad := writeFile(t, dir, "bad.json", `{"few_shot_n": "3"}`)
	cfg.PromptJSON = bad
	_, err = cfg.ApplyPromptJSON()
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("non-prompt keys must be rejected, got %v", err)
	}
	if invalid.Kind != KindPrompt || invalid.Field != "few_shot_n" {
		t.Errorf("unexpected error fields: %+v", invalid)
	}
}

func TestUnescape(t *testing.T) {
	cfg := Defaults()
	cfg.ExampleSeparator = `\n\n`
	cfg.PromptTemplate = `Complex: {complex}\nSimple: {simple}`
	cfg.RefDelimiter = `\t`
	cfg.Unescape()

	if cfg.ExampleSeparator != "\n\n" {
		t.Errorf("separator = %q", cfg.ExampleSeparator)
	}
	if cfg.PromptTemplate != "Complex: {complex}\nSimple: {simple}" {
		t.Errorf("template = %q", cfg.PromptTemplate)
	}
	if cfg.RefDelimiter != "\t" {
		t.Errorf("ref_delimiter = %q", cfg.RefDelimiter)
	}

	// Already-decoded values are left alone.
	before := *cfg
	cfg.Unescape()
	if *cfg != before {
		t.Error("Unescape is not idempotent")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"run.json", "run.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "configs", name)
			cfg := Defaults()
			cfg.ModelNameOrPath = "bigscience/bloom-560m"
			cfg.ExampleSeparator = "\n\n"

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			loaded, err := LoadFrom(path)
			if err != nil {
				t.Fatalf("LoadFrom() error = %v", err)
			}
			if *loaded != *cfg {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
			}

			// A second save keeps a backup of the first.
			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if _, err := os.Stat(path + ".bak"); err != nil {
				t.Errorf("backup not created: %v", err)
			}
		})
	}
}

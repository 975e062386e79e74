// Package runid derives the deterministic name of a run's output artifact.
//
// The name depends only on the configuration values that define an
// experiment, never on time, process or filesystem state:
//
//	{output_dir}/{model}/{dataset}_{examples}_p{prompt}_{selector}_fs{n}_nr{nrs}_s{seed}.jsonl
package runid

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/khanglvm/icl-simplify/internal/prompt"
)

// NoExamples is the examples token used for zero-shot runs without an
// examples file.
const NoExamples = "none"

// Identity holds every configuration value that names a run.
type Identity struct {
	Model        string
	InputFile    string
	ExamplesFile string
	PromptID     string
	Selector     string
	FewShotN     int
	NumReturn    int
	Seed         int64
}

// String returns the run token, i.e. the output file name without extension.
func (id Identity) String() string {
	return fmt.Sprintf("%s_%s_p%s_%s_fs%d_nr%d_s%d",
		Dataset(id.InputFile),
		examplesToken(id.ExamplesFile),
		id.PromptID,
		id.Selector,
		id.FewShotN,
		id.NumReturn,
		id.Seed,
	)
}

// FileName returns the output file name with ext (".jsonl", ".json", ".log").
func (id Identity) FileName(ext string) string {
	return id.String() + ext
}

// Path returns the output path under outputDir, grouped by model.
func (id Identity) Path(outputDir, ext string) string {
	return filepath.Join(outputDir, ModelDir(id.Model), id.FileName(ext))
}

// ModelDir returns the directory name for a model: the last element of a hub
// id or local checkpoint path.
func ModelDir(model string) string {
	model = strings.TrimRight(model, `/\`)
	if model == "" {
		return "model"
	}
	return filepath.Base(filepath.ToSlash(model))
}

// Dataset returns the dataset name of a records file: its base name without
// the .jsonl / .json / .txt extension.
func Dataset(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".jsonl", ".json", ".txt"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func examplesToken(path string) string {
	if path == "" {
		return NoExamples
	}
	return Dataset(path)
}

// PromptID returns the prompt token. A prompt loaded from prompt_json is named
// by its file ("prompts/p0.json" -> "0"); an inline prompt by a hash of its
// parts, so any edit yields a new name.
func PromptID(promptJSON string, spec prompt.Spec) string {
	if promptJSON != "" {
		stem := Dataset(promptJSON)
		if trimmed := strings.TrimPrefix(stem, "p"); trimmed != "" {
			return trimmed
		}
		return stem
	}
	h := murmur3.New32()
	for _, part := range []string{spec.Prefix, spec.Template, spec.Suffix, spec.Separator, string(spec.Format)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%08x", h.Sum32())
}

// SelectorToken names the selection strategy. Ranked strategies append the
// mode when it is "min" and the order when it is not automatic.
func SelectorToken(strategy, mode, order string) string {
	if strategy == "" {
		strategy = "random"
	}
	if strategy == "random" {
		return strategy
	}
	token := strategy
	if mode == "min" {
		token += "-min"
	}
	switch order {
	case "", "auto":
	case "ascending":
		token += "-asc"
	case "descending":
		token += "-desc"
	default:
		token += "-" + order
	}
	return token
}

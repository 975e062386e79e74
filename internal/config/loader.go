package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFrom reads a JSON or YAML config file (by extension) over the defaults.
// Unknown options are rejected.
func LoadFrom(path string) (*Config, error) {
	data, err := readFile(KindConfig, path, "Pass an existing JSON or YAML file, or configure the run with flags only")
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, &InvalidConfigError{
			Kind:    KindConfig,
			Path:    path,
			Field:   unknownField(err),
			Message: err.Error(),
			Hint:    "Option names are snake_case, e.g. few_shot_n; see 'icl-simplify run --help'",
		}
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("YAML parse error: %v", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("JSON parse error: %v", err)
		}
	}
	return nil
}

// promptKeys are the options a prompt_json file may set.
var promptKeys = map[string]func(*Config, string){
	"prompt_prefix":     func(c *Config, v string) { c.PromptPrefix = v },
	"prompt_template":   func(c *Config, v string) { c.PromptTemplate = v },
	"prompt_suffix":     func(c *Config, v string) { c.PromptSuffix = v },
	"prompt_format":     func(c *Config, v string) { c.PromptFormat = v },
	"example_separator": func(c *Config, v string) { c.ExampleSeparator = v },
	"source_field":      func(c *Config, v string) { c.SourceField = v },
	"target_field":      func(c *Config, v string) { c.TargetField = v },
}

// ApplyPromptJSON overrides the prompt options with the contents of
// prompt_json, if set. It returns the keys that were overridden.
func (c *Config) ApplyPromptJSON() ([]string, error) {
	if c.PromptJSON == "" {
		return nil, nil
	}
	data, err := readFile(KindPrompt, c.PromptJSON, "Check the prompt_json path")
	if err != nil {
		return nil, err
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, &InvalidConfigError{
			Kind:    KindPrompt,
			Path:    c.PromptJSON,
			Message: fmt.Sprintf("JSON parse error: %v", err),
			Hint:    "A prompt file is a flat object of string options",
		}
	}

	var applied []string
	for key, value := range values {
		set, ok := promptKeys[key]
		if !ok {
			return nil, &InvalidConfigError{
				Kind:    KindPrompt,
				Path:    c.PromptJSON,
				Field:   key,
				Message: "not a prompt option",
				Hint:    "Allowed: prompt_prefix, prompt_template, prompt_suffix, prompt_format, example_separator, source_field, target_field",
			}
		}
		set(c, value)
		applied = append(applied, key)
	}
	return applied, nil
}

// escapes turns the escape sequences typed on a command line into the
// characters they stand for.
var escapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t")

// Unescape replaces literal \n and \t in the prompt options and delimiters.
func (c *Config) Unescape() {
	for _, s := range []*string{
		&c.PromptPrefix,
		&c.PromptTemplate,
		&c.PromptSuffix,
		&c.ExampleSeparator,
		&c.RefDelimiter,
	} {
		*s = escapes.Replace(*s)
	}
}

func readFile(kind, path, hint string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{Kind: kind, Path: path, Hint: hint}
		}
		return nil, fmt.Errorf("failed to access %s file: %w", kind, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, &PermissionError{
				Kind:    kind,
				Path:    path,
				Op:      "read",
				Fix:     getReadPermissionFix(path),
				Details: getPermissionDetails(path),
			}
		}
		return nil, fmt.Errorf("failed to read %s file: %w", kind, err)
	}
	return data, nil
}

// getReadPermissionFix returns platform-specific fix command
func getReadPermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Edit permissions", path)
	default: // unix-like
		return fmt.Sprintf("Run: chmod 644 %s", path)
	}
}

// getPermissionDetails checks file ownership and permissions
func getPermissionDetails(path string) string {
	if runtime.GOOS == "windows" {
		return ""
	}

	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Current permissions: %04o", info.Mode().Perm())
}

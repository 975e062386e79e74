package config

import (
	"fmt"
	"regexp"
)

// Kinds of files a run configuration is read from.
const (
	KindConfig = "config"
	KindPrompt = "prompt"
)

// PermissionError is returned when a config or prompt file cannot be read or
// written.
type PermissionError struct {
	Kind    string
	Path    string
	Op      string // "read" or "write"
	Fix     string // Suggested fix command
	Details string
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied (cannot %s %s file): %s\n", e.Op, kindOrConfig(e.Kind), e.Path)
	if e.Details != "" {
		msg += e.Details + "\n"
	}
	msg += "💡 Fix: " + e.Fix
	return msg
}

// ConfigNotFoundError is returned for a missing config file or prompt_json.
type ConfigNotFoundError struct {
	Kind string
	Path string
	Hint string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("%s file not found: %s\n\n💡 %s", kindOrConfig(e.Kind), e.Path, e.Hint)
}

// InvalidConfigError is returned for a file that cannot be decoded. Field is
// set when a single option is to blame, e.g. an unknown key.
type InvalidConfigError struct {
	Kind    string
	Path    string
	Field   string
	Message string
	Hint    string
}

func (e *InvalidConfigError) Error() string {
	msg := fmt.Sprintf("invalid %s file: %s\n", kindOrConfig(e.Kind), e.Path)
	if e.Field != "" {
		msg += fmt.Sprintf("option %q: ", e.Field)
	}
	if e.Message != "" {
		msg += e.Message + "\n"
	}
	if e.Hint != "" {
		msg += "💡 " + e.Hint
	}
	return msg
}

// FieldError names the option whose value is invalid.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func kindOrConfig(kind string) string {
	if kind == "" {
		return KindConfig
	}
	return kind
}

// Unknown-key messages of encoding/json and yaml.v3.
var unknownFieldPatterns = []*regexp.Regexp{
	regexp.MustCompile(`unknown field "([^"]+)"`),
	regexp.MustCompile(`field (\S+) not found in type`),
}

// unknownField extracts the offending key from a strict decoding error.
func unknownField(err error) string {
	for _, re := range unknownFieldPatterns {
		if m := re.FindStringSubmatch(err.Error()); m != nil {
			return m[1]
		}
	}
	return ""
}

/*
Package dataset reads example and query collections from newline-delimited files.

Both collections are JSON Lines files whose records carry a source and a target
field (names are configurable). Query files may also be plain text, one source
sentence per line. A target may be a single string or a list of alternative
references.
*/
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// maxLineSize bounds a single input line.
const maxLineSize = 16 * 1024 * 1024

// ExampleRecord is one source/target pair of the reference collection.
// Its identity is Index, the position in the collection.
type ExampleRecord struct {
	Index  int
	Source string
	// Targets holds every reference for the source, in file order.
	Targets []string
}

// Target returns the first reference, or "" when there is none.
func (r ExampleRecord) Target() string {
	if len(r.Targets) == 0 {
		return ""
	}
	return r.Targets[0]
}

// QueryRecord is one input to be simplified.
type QueryRecord struct {
	Index  int
	Source string
	// References holds the target values when present (evaluation only).
	References []string
	// Fields keeps the raw record for JSONL inputs, nil for plain text.
	Fields map[string]json.RawMessage
}

// Fields names the source and target keys of a record.
type Fields struct {
	Source string
	Target string
}

// LineError reports a malformed record together with its location.
type LineError struct {
	Path    string
	Line    int
	Message string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
}

// LoadExamples reads the reference collection. Every record must contain both
// the source and the target field.
func LoadExamples(path string, fields Fields) ([]ExampleRecord, error) {
	var records []ExampleRecord
	err := scanLines(path, func(lineNo int, line []byte) error {
		raw, err := decodeObject(line)
		if err != nil {
			return &LineError{Path: path, Line: lineNo, Message: err.Error()}
		}
		source, err := stringField(raw, fields.Source)
		if err != nil {
			return &LineError{Path: path, Line: lineNo, Message: err.Error()}
		}
		targets, err := targetField(raw, fields.Target)
		if err != nil {
			return &LineError{Path: path, Line: lineNo, Message: err.Error()}
		}
		if len(targets) == 0 {
			return &LineError{Path: path, Line: lineNo, Message: fmt.Sprintf("missing field %q", fields.Target)}
		}
		records = append(records, ExampleRecord{
			Index:   len(records),
			Source:  source,
			Targets: targets,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LoadQueries reads the input collection. Lines that are JSON objects are
// decoded with fields; any other line is taken verbatim as the source text.
func LoadQueries(path string, fields Fields) ([]QueryRecord, error) {
	var records []QueryRecord
	err := scanLines(path, func(lineNo int, line []byte) error {
		q := QueryRecord{Index: len(records)}
		if bytes.HasPrefix(line, []byte("{")) {
			raw, err := decodeObject(line)
			if err != nil {
				return &LineError{Path: path, Line: lineNo, Message: err.Error()}
			}
			source, err := stringField(raw, fields.Source)
			if err != nil {
				return &LineError{Path: path, Line: lineNo, Message: err.Error()}
			}
			refs, err := targetField(raw, fields.Target)
			if err != nil {
				return &LineError{Path: path, Line: lineNo, Message: err.Error()}
			}
			q.Source = source
			q.References = refs
			q.Fields = raw
		} else {
			q.Source = string(line)
		}
		records = append(records, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// scanLines calls fn for every non-blank line of path with its 1-based number.
func scanLines(path string, fn func(lineNo int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func decodeObject(line []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON record: %v", err)
	}
	return raw, nil
}

func stringField(raw map[string]json.RawMessage, name string) (string, error) {
	value, ok := raw[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("field %q must be a string", name)
	}
	return strings.TrimSpace(s), nil
}

// targetField accepts a string or a list of strings. A missing field yields nil.
func targetField(raw map[string]json.RawMessage, name string) ([]string, error) {
	value, ok := raw[name]
	if !ok || string(value) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		return []string{strings.TrimSpace(single)}, nil
	}
	var many []string
	if err := json.Unmarshal(value, &many); err != nil {
		return nil, fmt.Errorf("field %q must be a string or a list of strings", name)
	}
	for i := range many {
		many[i] = strings.TrimSpace(many[i])
	}
	return many, nil
}

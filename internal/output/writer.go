/*
Package output persists generation results.

Records are appended to a temporary file next to the destination as they are
produced and the file is renamed onto its final name by Commit. A run that
dies before Commit leaves no file under the final name. Every committed file
has a sidecar manifest recording whether the run completed, and Verify checks
a file's record count against the number of inputs.
*/
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Stdout is the output_file value that streams records to standard output.
const Stdout = "stdout"

// Record is one output line: the query, the prompt it was given and the
// cleaned candidates, in generation order.
type Record struct {
	Source      string   `json:"source"`
	References  []string `json:"references,omitempty"`
	InputPrompt string   `json:"input_prompt"`
	ModelOutput []string `json:"model_output"`
	// Error is set when no output could be generated for the query.
	Error string `json:"error,omitempty"`
	// Extra holds the fields of the input record. They are written after the
	// fields above, in key order; a key the record already has is skipped.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON encodes the record followed by its Extra fields.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	data, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return data, err
	}

	var own map[string]json.RawMessage
	if err := json.Unmarshal(data, &own); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(data[:len(data)-1])
	for _, key := range slices.Sorted(maps.Keys(r.Extra)) {
		if _, ok := own[key]; ok {
			continue
		}
		value := r.Extra[key]
		if !json.Valid(value) {
			return nil, fmt.Errorf("input field %q is not valid JSON", key)
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Writer writes records as JSON lines.
type Writer struct {
	path string
	out  io.Writer
	buf  *bufio.Writer
	tmp  *os.File

	mu      sync.Mutex
	records int
	failed  []int
	done    bool
}

// Create opens a writer for path. An empty path or "stdout" writes to
// standard output; any other path is written through a temporary file in the
// same directory.
func Create(path string) (*Writer, error) {
	if path == "" || path == Stdout {
		return &Writer{path: Stdout, out: os.Stdout}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary output file: %w", err)
	}
	buf := bufio.NewWriter(tmp)
	return &Writer{path: path, out: buf, buf: buf, tmp: tmp}, nil
}

// Path returns the destination path, or "stdout".
func (w *Writer) Path() string { return w.path }

// Write appends one record. Records carrying an Error are counted as failed.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return fmt.Errorf("write to closed output %s", w.path)
	}
	if rec.ModelOutput == nil {
		rec.ModelOutput = []string{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", w.records, err)
	}
	line = append(line, '\n')
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("failed to write record %d: %w", w.records, err)
	}
	if rec.Error != "" {
		w.failed = append(w.failed, w.records)
	}
	w.records++
	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Failed returns the indices of records written with an error.
func (w *Writer) Failed() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.failed...)
}

// Commit flushes the records and moves them onto the destination path.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	if w.tmp == nil {
		return nil
	}

	if err := w.buf.Flush(); err != nil {
		w.discard()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// Abort discards everything written. It is a no-op after Commit.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return
	}
	w.done = true
	if w.tmp != nil {
		w.discard()
	}
}

func (w *Writer) discard() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manifest describes a committed output file. It is written next to the
// output as <stem>.json.
type Manifest struct {
	RunID      string          `json:"run_id"`
	AttemptID  string          `json:"attempt_id"`
	OutputFile string          `json:"output_file"`
	Expected   int             `json:"expected"`
	Records    int             `json:"records"`
	Failed     []int           `json:"failed"`
	Complete   bool            `json:"complete"`
	Config     json.RawMessage `json:"config,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// SidecarPath returns the path of a file next to outputPath with the same
// stem and extension ext.
func SidecarPath(outputPath, ext string) string {
	if filepath.Ext(outputPath) == ext {
		return outputPath + ext
	}
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ext
}

// WriteManifest writes m to the sidecar of its output file.
func WriteManifest(m Manifest) error {
	if m.Failed == nil {
		m.Failed = []int{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return AtomicWrite(SidecarPath(m.OutputFile, ".json"), data)
}

// ReadManifest reads the manifest of outputPath.
func ReadManifest(outputPath string) (*Manifest, error) {
	data, err := os.ReadFile(SidecarPath(outputPath, ".json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest for %s: %w", outputPath, err)
	}
	return &m, nil
}

// AtomicWrite writes data to a temp file in the same directory and renames it
// onto path.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// IncompleteError reports an output file that does not hold one successful
// record per input.
type IncompleteError struct {
	Path     string
	Records  int
	Expected int
	Failed   []int
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("incomplete output %s: %d of %d records", e.Path, e.Records, e.Expected)
	if len(e.Failed) > 0 {
		msg += fmt.Sprintf(", %d failed", len(e.Failed))
	}
	return msg
}

// Verify checks that path holds exactly expected records and that none of
// them failed. It returns the number of records found.
func Verify(path string, expected int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		records int
		failed  []int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return records, fmt.Errorf("%s: record %d: %w", path, records, err)
		}
		if rec.Error != "" {
			failed = append(failed, records)
		}
		records++
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if records != expected || len(failed) > 0 {
		return records, &IncompleteError{Path: path, Records: records, Expected: expected, Failed: failed}
	}
	return records, nil
}

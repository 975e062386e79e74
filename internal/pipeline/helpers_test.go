package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/khanglvm/icl-simplify/internal/output"
)

func readRecords(t *testing.T, path string) []output.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var records []output.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec output.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("invalid record %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	return records
}

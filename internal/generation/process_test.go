package generation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeExecCommand re-runs the test binary as a worker.
func fakeExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	return exec.Command(os.Args[0], cs...)
}

// TestHelperProcess is not a real test; it plays the model worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	mode := ""
	if len(args) > 2 {
		mode = args[2]
	}

	fmt.Fprintln(os.Stderr, "worker ready")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Prompts []string `json:"prompts"`
				Params  Params   `json:"params"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			os.Exit(2)
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case req.Method == "load" && mode == "fail-load":
			resp["error"] = map[string]any{"code": -32000, "message": "no such checkpoint"}
		case req.Method == "load":
			resp["result"] = map[string]any{}
		case mode == "crash":
			os.Exit(3)
		case mode == "fail-generate" && req.Params.Prompts[0] == "bad":
			resp["error"] = map[string]any{"code": -32001, "message": "CUDA out of memory"}
		default:
			outputs := make([][]string, len(req.Params.Prompts))
			for i, p := range req.Params.Prompts {
				for j := 0; j < req.Params.Params.NumReturnSequences; j++ {
					outputs[i] = append(outputs[i], fmt.Sprintf("%s out %d", p, j))
				}
			}
			resp["result"] = map[string]any{"outputs": outputs}
		}
		line, _ := json.Marshal(resp)
		fmt.Println(string(line))
	}
	os.Exit(0)
}

func newTestProcessGenerator(t *testing.T, mode string) *ProcessGenerator {
	t.Helper()
	execCommand = fakeExecCommand
	t.Cleanup(func() { execCommand = exec.Command })

	g, err := NewProcessGenerator(ProcessOptions{
		Command: "python worker.py " + mode,
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Model:   "bigscience/bloom-560m",
		Timeout: 10 * time.Second,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestProcessGeneratorLoadsOnce(t *testing.T) {
	g := newTestProcessGenerator(t, "ok")
	ctx := context.Background()

	out, err := g.Generate(ctx, []string{"a", "b"}, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a out 0", "a out 1"}, {"b out 0", "b out 1"}}, out)

	_, err = g.Generate(ctx, []string{"c"}, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, g.loads)

	require.NoError(t, g.Close())
}

func TestProcessGeneratorWorkerError(t *testing.T) {
	g := newTestProcessGenerator(t, "fail-generate")
	ctx := context.Background()

	_, err := g.Generate(ctx, []string{"bad"}, defaultParams())
	assert.ErrorContains(t, err, "CUDA out of memory")

	// A reported error leaves the worker usable.
	out, err := g.Generate(ctx, []string{"good"}, defaultParams())
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, g.loads)
}

func TestProcessGeneratorLoadFailure(t *testing.T) {
	g := newTestProcessGenerator(t, "fail-load")

	_, err := g.Generate(context.Background(), []string{"x"}, defaultParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such checkpoint")

	// The worker is not respawned after a failed load.
	_, err2 := g.Generate(context.Background(), []string{"x"}, defaultParams())
	assert.Equal(t, err, err2)
	assert.Zero(t, g.loads)
}

func TestProcessGeneratorCrash(t *testing.T) {
	g := newTestProcessGenerator(t, "crash")

	_, err := g.Generate(context.Background(), []string{"x"}, defaultParams())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to read response"), err.Error())
	assert.Nil(t, g.proc)
}

func TestProcessGeneratorEmptyCommand(t *testing.T) {
	_, err := NewProcessGenerator(ProcessOptions{Command: "  "})
	assert.Error(t, err)
}

package generation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWorkerTimeout bounds a single worker call. Loading large checkpoints
// can take minutes.
const DefaultWorkerTimeout = 30 * time.Minute

// ProcessOptions configures a model worker process.
type ProcessOptions struct {
	// Command is the worker command line, split on whitespace.
	Command string
	Env     map[string]string
	Model   string
	// Load is passed verbatim as the parameters of the "load" call
	// (device placement, quantization, offloading).
	Load    map[string]any
	Timeout time.Duration
	Logger  *zap.Logger
}

// ProcessGenerator drives a model worker spawned as a child process. Requests
// and responses are JSON-RPC 2.0 objects, one per line, on the worker's stdin
// and stdout:
//
//	{"jsonrpc":"2.0","id":1,"method":"load","params":{"model":"...",...}}
//	{"jsonrpc":"2.0","id":2,"method":"generate","params":{"prompts":[...],"params":{...}}}
//	-> {"jsonrpc":"2.0","id":2,"result":{"outputs":[["..."],...]}}
//
// The worker holds a single model and is not safe for concurrent use; the
// orchestrator serializes calls.
type ProcessGenerator struct {
	opts ProcessOptions

	mu    sync.Mutex
	proc  *workerProcess
	dead  error
	loads int
}

// workerProcess represents a running worker.
type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	reqID  int64
	cancel context.CancelFunc

	waitOnce sync.Once
	exited   chan error
}

// NewProcessGenerator creates a process backend. The worker is started on
// the first Generate call.
func NewProcessGenerator(opts ProcessOptions) (*ProcessGenerator, error) {
	if len(strings.Fields(opts.Command)) == 0 {
		return nil, fmt.Errorf("process backend: empty generation_command")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWorkerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Logger = opts.Logger.Named("worker")
	return &ProcessGenerator{opts: opts}, nil
}

// Name returns the backend name.
func (g *ProcessGenerator) Name() string {
	return "process:" + g.opts.Model
}

// Generate sends the batch to the worker.
func (g *ProcessGenerator) Generate(ctx context.Context, prompts []string, params Params) ([][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	proc, err := g.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		Outputs [][]string `json:"outputs"`
	}
	if err := g.call(ctx, proc, "generate", map[string]any{
		"prompts": prompts,
		"params":  params,
	}, &result); err != nil {
		return nil, err
	}
	return result.Outputs, nil
}

// ensureStarted spawns the worker and loads the model if needed.
func (g *ProcessGenerator) ensureStarted(ctx context.Context) (*workerProcess, error) {
	if g.proc != nil {
		return g.proc, nil
	}
	if g.dead != nil {
		return nil, g.dead
	}

	proc, err := g.spawn()
	if err != nil {
		return nil, err
	}

	load := map[string]any{"model": g.opts.Model}
	for k, v := range g.opts.Load {
		load[k] = v
	}
	g.opts.Logger.Info("loading model in worker", zap.String("model", g.opts.Model))
	if err := g.call(ctx, proc, "load", load, nil); err != nil {
		err = fmt.Errorf("worker failed to load model %q: %w", g.opts.Model, err)
		g.markDead(proc, err)
		return nil, err
	}
	g.loads++
	g.proc = proc
	return proc, nil
}

// execCommand is a variable that allows tests to mock exec.Command
var execCommand = exec.Command

// spawn starts a new worker process.
func (g *ProcessGenerator) spawn() (*workerProcess, error) {
	fields := strings.Fields(g.opts.Command)
	cmd := execCommand(fields[0], fields[1:]...)

	cmd.Env = os.Environ()
	for key, value := range g.opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	// stderr must be drained or a chatty worker blocks once the pipe buffer
	// (~64KB) is full.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := g.opts.Logger
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Debug("worker stderr", zap.String("line", scanner.Text()))
		}
	}()

	return &workerProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		cancel: cancel,
	}, nil
}

// call sends a JSON-RPC request and decodes the result into out (if non-nil).
// A timeout or a broken pipe kills the worker; later calls fail fast.
func (g *ProcessGenerator) call(ctx context.Context, proc *workerProcess, method string, params any, out any) error {
	proc.reqID++
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      proc.reqID,
		"method":  method,
		"params":  params,
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return err
	}
	reqBytes = append(reqBytes, '\n')

	if _, err := proc.stdin.Write(reqBytes); err != nil {
		g.markDead(proc, fmt.Errorf("failed to send request: %w", err))
		return g.dead
	}

	responseChan := make(chan []byte, 1)
	errorChan := make(chan error, 1)
	go func() {
		line, err := proc.stdout.ReadBytes('\n')
		if err != nil {
			errorChan <- fmt.Errorf("failed to read response: %w", err)
			return
		}
		responseChan <- line
	}()

	select {
	case line := <-responseChan:
		var resp struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			g.markDead(proc, fmt.Errorf("failed to parse response: %w", err))
			return g.dead
		}
		if resp.ID != proc.reqID {
			g.markDead(proc, fmt.Errorf("response id %d does not match request id %d", resp.ID, proc.reqID))
			return g.dead
		}
		if resp.Error != nil {
			return fmt.Errorf("worker error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil

	case err := <-errorChan:
		g.markDead(proc, err)
		return g.dead

	case <-ctx.Done():
		g.markDead(proc, ctx.Err())
		return ctx.Err()

	case <-time.After(g.opts.Timeout):
		g.markDead(proc, fmt.Errorf("timeout after %v waiting for worker %s response", g.opts.Timeout, method))
		return g.dead
	}
}

// markDead kills a worker whose stream can no longer be trusted.
func (g *ProcessGenerator) markDead(proc *workerProcess, err error) {
	proc.kill()
	if g.proc == proc {
		g.proc = nil
	}
	g.dead = err
}

// Close terminates the worker: stdin is closed first, then the process is
// killed if it has not exited after 2s.
func (g *ProcessGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	proc := g.proc
	g.proc = nil
	if proc == nil {
		return nil
	}

	if err := proc.stdin.Close(); err != nil {
		g.opts.Logger.Warn("failed to close worker stdin", zap.Error(err))
	}

	done := proc.wait()

	select {
	case err := <-done:
		proc.cancel()
		if err != nil && !strings.Contains(err.Error(), "signal: killed") {
			return fmt.Errorf("worker exited: %w", err)
		}
	case <-time.After(2 * time.Second):
		g.opts.Logger.Warn("worker did not exit gracefully, force killing")
		proc.kill()
		<-done
	}
	return nil
}

// wait reaps the process once and reports its exit status.
func (proc *workerProcess) wait() <-chan error {
	proc.waitOnce.Do(func() {
		proc.exited = make(chan error, 1)
		go func() {
			proc.exited <- proc.cmd.Wait()
		}()
	})
	return proc.exited
}

// kill terminates the process and stops the stderr goroutine.
func (proc *workerProcess) kill() {
	if proc.cancel != nil {
		proc.cancel()
	}
	if proc.cmd != nil && proc.cmd.Process != nil {
		proc.cmd.Process.Kill()
		proc.wait()
	}
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Generator is the narrow contract of a language model backend.
type Generator interface {
	// Generate returns NumReturnSequences candidates for every prompt, in
	// prompt order. A backend either answers the whole batch or fails it.
	Generate(ctx context.Context, prompts []string, params Params) ([][]string, error)

	// Name identifies the backend and model in logs.
	Name() string
}

// ConcurrentGenerator is implemented by backends that accept overlapping
// Generate calls. Concurrency is the number of batches that may be in flight.
type ConcurrentGenerator interface {
	Generator
	Concurrency() int
}

// Usage is the token count billed by an API backend.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// UsageReporter is implemented by backends that report token usage. Usage
// accumulates over every Generate call made so far.
type UsageReporter interface {
	Usage() Usage
}

type usageCounter struct {
	prompt     atomic.Int64
	completion atomic.Int64
	total      atomic.Int64
}

// add records one response. A zero total is derived from the other counts.
func (u *usageCounter) add(prompt, completion, total int64) {
	if total == 0 {
		total = prompt + completion
	}
	u.prompt.Add(prompt)
	u.completion.Add(completion)
	u.total.Add(total)
}

func (u *usageCounter) Usage() Usage {
	return Usage{
		PromptTokens:     u.prompt.Load(),
		CompletionTokens: u.completion.Load(),
		TotalTokens:      u.total.Load(),
	}
}

// GenerationBatchError reports a failed batch. Every prompt of the batch is
// attributed the same error; no outputs are substituted.
type GenerationBatchError struct {
	Batch int
	// Start and End delimit the prompt indices [Start, End) of the batch.
	Start int
	End   int
	Err   error
}

func (e *GenerationBatchError) Error() string {
	if e.Cancelled() {
		return fmt.Sprintf("batch %d (inputs %d-%d) not generated: %v", e.Batch, e.Start, e.End-1, e.Err)
	}
	return fmt.Sprintf("batch %d (inputs %d-%d) failed: %v", e.Batch, e.Start, e.End-1, e.Err)
}

func (e *GenerationBatchError) Unwrap() error {
	return e.Err
}

// Cancelled reports whether the batch was skipped because the run was
// cancelled rather than failed by the backend.
func (e *GenerationBatchError) Cancelled() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// checkShape verifies a backend answer against the batch it was asked for.
func checkShape(outputs [][]string, prompts []string, params Params) error {
	if len(outputs) != len(prompts) {
		return fmt.Errorf("backend returned %d results for %d prompts", len(outputs), len(prompts))
	}
	for i, candidates := range outputs {
		if len(candidates) != params.NumReturnSequences {
			return fmt.Errorf("backend returned %d candidates for prompt %d, expected %d",
				len(candidates), i, params.NumReturnSequences)
		}
	}
	return nil
}

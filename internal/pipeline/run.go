package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/config"
	"github.com/khanglvm/icl-simplify/internal/generation"
	"github.com/khanglvm/icl-simplify/internal/output"
	"github.com/khanglvm/icl-simplify/internal/prompt"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// Summary describes a finished run.
type Summary struct {
	RunID      string
	AttemptID  string
	OutputFile string
	Expected   int
	Records    int
	Failed     []int
	// Truncated counts candidates in which no example separator was found.
	Truncated int
	Duration  time.Duration
	// Usage is the token count reported by an API backend, if any.
	Usage generation.Usage
}

// RunFailedError reports a run that wrote its output but could not generate
// outputs for some inputs.
type RunFailedError struct {
	OutputFile string
	Failed     []int
	Expected   int
	Err        error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("generation failed for %d of %d inputs (records marked with \"error\" in %s): %v",
		len(e.Failed), e.Expected, e.OutputFile, e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }

// Run executes the whole run described by cfg.
//
// Records are committed to the output file when every batch has been
// attempted. Failed batches are written as records with an "error" field and
// make Run return a *RunFailedError. A cancelled run, or one whose output
// cannot be written, leaves any earlier output file untouched.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Summary, error) {
	started := time.Now()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
		deps.Logger = logger
	}

	session, err := Open(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	prepared, err := session.Prepare(ctx, session.Queries())
	if err != nil {
		return nil, err
	}

	gen := deps.Generator
	if gen == nil {
		gen, err = generation.NewGenerator(ctx, backendOptions(cfg, logger))
		if err != nil {
			return nil, err
		}
		if c, ok := gen.(io.Closer); ok {
			defer c.Close()
		}
	}

	orch, err := generation.NewOrchestrator(gen, cfg.DecodingParams(), cfg.BatchSize,
		generation.WithLogger(logger),
		generation.WithRateLimit(cfg.RequestsPerMinute))
	if err != nil {
		return nil, err
	}

	id := cfg.Identity()
	summary := &Summary{
		RunID:      id.String(),
		AttemptID:  uuid.NewString(),
		OutputFile: cfg.OutputPath(),
		Expected:   len(prepared),
	}

	writer, err := output.Create(summary.OutputFile)
	if err != nil {
		return nil, err
	}

	history := deps.History
	if history != nil {
		if err := history.StartRun(storage.RunRecord{
			AttemptID:  summary.AttemptID,
			RunID:      summary.RunID,
			OutputFile: summary.OutputFile,
			Status:     storage.StatusRunning,
			StartedAt:  started,
		}); err != nil {
			logger.Warn("failed to record run start", zap.Error(err))
		}
	}
	finish := func(status string, message string) {
		if history == nil {
			return
		}
		if err := history.FinishRun(summary.AttemptID, storage.RunOutcome{
			Status:  status,
			Records: summary.Records,
			Failed:  summary.Failed,
			Message: message,
		}); err != nil {
			logger.Warn("failed to record run outcome", zap.Error(err))
		}
	}

	logger.Info("starting generation",
		zap.String("run_id", summary.RunID),
		zap.String("backend", gen.Name()),
		zap.String("output_file", summary.OutputFile),
		zap.Int("inputs", len(prepared)))

	prompts := make([]string, len(prepared))
	for i, p := range prepared {
		prompts[i] = p.Prompt
	}

	var writeErr error
	genErr := orch.Stream(ctx, prompts, func(b generation.Batch) error {
		for j, res := range b.Results {
			p := prepared[b.Start+j]
			rec := output.Record{
				Source:      p.Query.Source,
				References:  p.Query.References,
				InputPrompt: p.Prompt,
				Extra:       p.Query.Fields,
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
			} else {
				rec.ModelOutput = make([]string, len(res.Candidates))
				for k, candidate := range res.Candidates {
					text, truncated := prompt.Cleanup(p.Prompt, candidate, cfg.ExampleSeparator)
					if truncated {
						summary.Truncated++
					}
					rec.ModelOutput[k] = text
				}
			}
			if err := writer.Write(rec); err != nil {
				writeErr = err
				return err
			}
		}
		logger.Debug("batch written", zap.Int("batch", b.Index), zap.Int("records", writer.Records()))
		return nil
	})

	summary.Records = writer.Records()
	summary.Failed = writer.Failed()
	summary.Duration = time.Since(started)
	if reporter, ok := gen.(generation.UsageReporter); ok {
		summary.Usage = reporter.Usage()
		if summary.Usage.TotalTokens > 0 {
			logger.Info("token usage",
				zap.String("backend", gen.Name()),
				zap.Int64("prompt_tokens", summary.Usage.PromptTokens),
				zap.Int64("completion_tokens", summary.Usage.CompletionTokens),
				zap.Int64("total_tokens", summary.Usage.TotalTokens))
		}
	}

	if writeErr != nil || ctx.Err() != nil {
		writer.Abort()
		cause := writeErr
		if cause == nil {
			cause = ctx.Err()
		}
		finish(storage.StatusFailed, cause.Error())
		return summary, cause
	}

	if err := writer.Commit(); err != nil {
		finish(storage.StatusFailed, err.Error())
		return summary, err
	}
	if summary.OutputFile != output.Stdout {
		if err := writeManifest(cfg, summary, started); err != nil {
			logger.Warn("failed to write manifest", zap.Error(err))
		}
	}

	if summary.Truncated > 0 {
		logger.Info("outputs without example separator (answer ended or max_new_tokens reached)",
			zap.Int("candidates", summary.Truncated))
	}

	if genErr != nil {
		failed := &RunFailedError{
			OutputFile: summary.OutputFile,
			Failed:     summary.Failed,
			Expected:   summary.Expected,
			Err:        genErr,
		}
		finish(storage.StatusFailed, failed.Error())
		return summary, failed
	}

	finish(storage.StatusCompleted, "")
	logger.Info("finished inference",
		zap.String("output_file", summary.OutputFile),
		zap.Int("records", summary.Records),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func writeManifest(cfg *config.Config, summary *Summary, started time.Time) error {
	raw, err := cfg.JSON()
	if err != nil {
		return err
	}
	return output.WriteManifest(output.Manifest{
		RunID:      summary.RunID,
		AttemptID:  summary.AttemptID,
		OutputFile: summary.OutputFile,
		Expected:   summary.Expected,
		Records:    summary.Records,
		Failed:     summary.Failed,
		Complete:   summary.Records == summary.Expected && len(summary.Failed) == 0,
		Config:     raw,
		StartedAt:  started,
		FinishedAt: started.Add(summary.Duration),
	})
}

func backendOptions(cfg *config.Config, logger *zap.Logger) generation.BackendOptions {
	return generation.BackendOptions{
		Model:          cfg.ModelNameOrPath,
		Command:        cfg.GenerationCommand,
		Endpoint:       cfg.GenerationEndpoint,
		APIKeyEnv:      cfg.APIKeyEnv,
		TimeoutSeconds: cfg.RequestTimeoutSeconds,
		MaxConcurrency: cfg.MaxConcurrency,
		Load:           cfg.LoadOptions(),
		Logger:         logger,
	}
}

// IsFailedRun reports whether err is a completed run with failed inputs.
func IsFailedRun(err error) bool {
	var failed *RunFailedError
	return errors.As(err, &failed)
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Result holds the candidates generated for one prompt, or the error of the
// batch the prompt belonged to.
type Result struct {
	Candidates []string
	Err        error
}

// Batch is a contiguous, completed slice of results.
type Batch struct {
	Index   int
	Start   int
	Results []Result
}

// Orchestrator batches prompts and drives a Generator with fixed decoding
// parameters. It holds no per-run state and may be reused.
type Orchestrator struct {
	gen       Generator
	params    Params
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger

	// mu serializes calls into backends that are not safe for concurrent use.
	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRateLimit caps backend calls at perMinute requests per minute.
// Zero or less disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(o *Orchestrator) {
		if perMinute > 0 {
			o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// NewOrchestrator validates params and returns an orchestrator for gen.
func NewOrchestrator(gen Generator, params Params, batchSize int, opts ...Option) (*Orchestrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if batchSize < 1 {
		return nil, &InvalidDecodingConfigError{
			Field:   "batch_size",
			Message: fmt.Sprintf("must be >= 1, got %d", batchSize),
		}
	}

	o := &Orchestrator{
		gen:       gen,
		params:    params,
		batchSize: batchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("generation")
	return o, nil
}

// Params returns the decoding parameters.
func (o *Orchestrator) Params() Params {
	return o.params
}

// Generate runs every prompt and returns one result per prompt, in order.
// The error joins every failed batch; results of successful batches are kept.
func (o *Orchestrator) Generate(ctx context.Context, prompts []string) ([]Result, error) {
	results := make([]Result, 0, len(prompts))
	err := o.Stream(ctx, prompts, func(b Batch) error {
		results = append(results, b.Results...)
		return nil
	})
	return results, err
}

// Stream runs every prompt and calls emit once per batch in batch order,
// from the calling goroutine. Failed and cancelled batches are emitted too,
// with every result carrying the batch error.
//
// After ctx is cancelled no new batch is issued; batches already in flight
// are allowed to finish. The returned error joins all batch errors, or is the
// first error returned by emit.
func (o *Orchestrator) Stream(ctx context.Context, prompts []string, emit func(Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numBatches := (len(prompts) + o.batchSize - 1) / o.batchSize
	done := make([]chan Batch, numBatches)
	for i := range done {
		done[i] = make(chan Batch, 1)
	}

	concurrency := 1
	if cg, ok := o.gen.(ConcurrentGenerator); ok && cg.Concurrency() > 1 {
		concurrency = cg.Concurrency()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.dispatch(ctx, prompts, done, concurrency, &wg)
	}()

	var batchErrs []error
	var emitErr error
	for i := range done {
		b := <-done[i]
		for _, r := range b.Results {
			if r.Err != nil {
				batchErrs = append(batchErrs, r.Err)
				break
			}
		}
		if emitErr == nil {
			if err := emit(b); err != nil {
				emitErr = err
				cancel()
			}
		}
	}
	wg.Wait()

	if emitErr != nil {
		return emitErr
	}
	return errors.Join(batchErrs...)
}

// dispatch issues batches in order with at most concurrency in flight.
func (o *Orchestrator) dispatch(ctx context.Context, prompts []string, done []chan Batch, concurrency int, wg *sync.WaitGroup) {
	sem := make(chan struct{}, concurrency)

	for i := range done {
		start := i * o.batchSize
		end := min(start+o.batchSize, len(prompts))

		if err := o.acquire(ctx, sem); err != nil {
			done[i] <- o.failed(i, start, end, err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			done[i] <- o.run(ctx, i, prompts[start:end], start)
		}()
	}
}

// acquire waits for a free slot and the rate limiter. It fails once ctx is
// done so that no new batch starts after cancellation.
func (o *Orchestrator) acquire(ctx context.Context, sem chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			<-sem
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		<-sem
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, index int, prompts []string, start int) Batch {
	end := start + len(prompts)
	began := time.Now()
	o.logger.Debug("generating batch",
		zap.Int("batch", index),
		zap.Int("start", start),
		zap.Int("size", len(prompts)))

	outputs, err := o.call(ctx, prompts)
	if err == nil {
		err = checkShape(outputs, prompts, o.params)
	}
	if err != nil {
		o.logger.Warn("batch failed",
			zap.Int("batch", index),
			zap.Int("start", start),
			zap.Int("end", end),
			zap.String("backend", o.gen.Name()),
			zap.Error(err))
		return o.failed(index, start, end, err)
	}

	results := make([]Result, len(outputs))
	for j, candidates := range outputs {
		results[j] = Result{Candidates: candidates}
	}
	o.logger.Debug("batch done",
		zap.Int("batch", index),
		zap.Duration("elapsed", time.Since(began)))
	return Batch{Index: index, Start: start, Results: results}
}

func (o *Orchestrator) call(ctx context.Context, prompts []string) ([][]string, error) {
	if _, ok := o.gen.(ConcurrentGenerator); !ok {
		o.mu.Lock()
		defer o.mu.Unlock()
	}
	return o.gen.Generate(ctx, prompts, o.params)
}

func (o *Orchestrator) failed(index, start, end int, err error) Batch {
	batchErr := &GenerationBatchError{Batch: index, Start: start, End: end, Err: err}
	results := make([]Result, end-start)
	for j := range results {
		results[j] = Result{Err: batchErr}
	}
	return Batch{Index: index, Start: start, Results: results}
}

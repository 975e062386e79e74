/*
Package pipeline runs few-shot simplification end to end.

A Session loads the query and example collections, builds the example
selector and renders prompts. Run drives a Session through generation and
writes one output record per query, in input order.
*/
package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/icl-simplify/internal/config"
	"github.com/khanglvm/icl-simplify/internal/dataset"
	"github.com/khanglvm/icl-simplify/internal/embedding"
	"github.com/khanglvm/icl-simplify/internal/generation"
	"github.com/khanglvm/icl-simplify/internal/prompt"
	"github.com/khanglvm/icl-simplify/internal/selector"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// Deps are the collaborators of a run. Zero values are built from the
// configuration.
type Deps struct {
	Generator generation.Generator
	Embedder  embedding.Embedder
	// History records run attempts; nil disables run history.
	History storage.Storage
	Logger  *zap.Logger
}

// Prepared is the prompt of one query and the examples it was built from.
type Prepared struct {
	Query    dataset.QueryRecord
	Examples []selector.Selected
	Prompt   string
}

// Session holds the read-only state shared by every query of a run.
type Session struct {
	cfg      *config.Config
	spec     prompt.Spec
	queries  []dataset.QueryRecord
	store    *selector.Store
	selector selector.Selector
	logger   *zap.Logger

	closers []io.Closer
}

type preparer interface {
	Prepare(ctx context.Context) error
}

// Open validates cfg, loads the data and builds the selector. Every
// configuration or structural error is reported here, before any generation.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fields := dataset.Fields{Source: cfg.SourceField, Target: cfg.TargetField}
	queries, err := dataset.LoadQueries(cfg.InputFile, fields)
	if err != nil {
		return nil, fmt.Errorf("input_file: %w", err)
	}
	var examples []dataset.ExampleRecord
	if cfg.FewShotN > 0 {
		examples, err = dataset.LoadExamples(cfg.Examples, fields)
		if err != nil {
			return nil, fmt.Errorf("examples: %w", err)
		}
	}
	logger.Info("loaded data",
		zap.Int("queries", len(queries)),
		zap.Int("examples", len(examples)))

	s := &Session{
		cfg:     cfg,
		spec:    cfg.PromptSpec(),
		queries: queries,
		store:   selector.NewStore(examples),
		logger:  logger,
	}
	if err := s.buildSelector(ctx, deps); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) buildSelector(ctx context.Context, deps Deps) error {
	cfg := s.cfg
	opts := selector.Options{
		Strategy: cfg.ExampleSelector,
		K:        cfg.FewShotN,
		Seed:     cfg.Seed,
		Mode:     selector.Mode(cfg.ExampleSelectorMode),
		Order:    selector.Order(cfg.ExampleSelectorOrder),
		Logger:   s.logger,
	}

	if cfg.ExampleSelector == selector.Similarity && cfg.FewShotN > 0 {
		embedder := deps.Embedder
		if embedder == nil {
			var err error
			embedder, err = embedding.New(cfg.ExampleSelectorModelName, embedding.Options{
				OllamaEndpoint: cfg.EmbeddingEndpoint,
			})
			if err != nil {
				return &selector.EmbeddingUnavailableError{Model: cfg.ExampleSelectorModelName, Err: err}
			}
		}
		opts.Embedder = embedder

		if cfg.ExampleSelectorSaveDir != "" {
			cache := storage.NewEmbeddingStorage(cfg.ExampleSelectorSaveDir, s.logger)
			if err := cache.Init(); err != nil {
				s.logger.Warn("embedding cache unavailable", zap.Error(err))
			}
			s.closers = append(s.closers, cache)
			opts.Cache = cache
		}
	}

	sel, err := selector.New(ctx, s.store, opts)
	if err != nil {
		return err
	}
	if c, ok := sel.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if p, ok := sel.(preparer); ok && cfg.FewShotN > 0 {
		if err := p.Prepare(ctx); err != nil {
			return err
		}
	}
	s.selector = sel
	s.logger.Debug("selector ready", zap.String("strategy", sel.Name()), zap.Int("k", cfg.FewShotN))
	return nil
}

// Queries returns the loaded queries in input order.
func (s *Session) Queries() []dataset.QueryRecord { return s.queries }

// Prepare selects examples and renders the prompt of each query. Queries are
// processed in parallel; the result is in input order.
func (s *Session) Prepare(ctx context.Context, queries []dataset.QueryRecord) ([]Prepared, error) {
	out := make([]Prepared, len(queries))
	var short atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i, q := range queries {
		g.Go(func() error {
			selected, err := s.selector.Select(ctx, q)
			if err != nil {
				return fmt.Errorf("input %d: %w", q.Index, err)
			}

			rng := selector.QueryRand(s.cfg.Seed, "refs\x00"+q.Source)
			examples := make([]prompt.Example, len(selected))
			for j, sel := range selected {
				flat := dataset.FlattenReferences(sel.Record.Targets, s.cfg.NRefs, s.cfg.RefDelimiter, rng)
				if flat.Short {
					short.Add(1)
				}
				examples[j] = prompt.Example{Source: sel.Record.Source, Target: flat.Text}
			}

			out[i] = Prepared{
				Query:    q,
				Examples: selected,
				Prompt:   prompt.Assemble(s.spec, examples, q.Source),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if n := short.Load(); n > 0 {
		s.logger.Warn("fewer references available than requested",
			zap.Int("n_refs", s.cfg.NRefs),
			zap.Int64("examples", n))
	}
	return out, nil
}

// Close releases the selector index and the embedding cache.
func (s *Session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

package generation

import (
	"context"
	"fmt"
)

// EchoGenerator answers every prompt with the prompt itself followed by a
// numbered placeholder continuation. It loads no model and is used for dry
// runs and tests of the surrounding pipeline.
type EchoGenerator struct {
	model string
}

// NewEchoGenerator creates an echo backend reporting model as its name.
func NewEchoGenerator(model string) *EchoGenerator {
	return &EchoGenerator{model: model}
}

// Generate returns NumReturnSequences continuations per prompt.
func (e *EchoGenerator) Generate(ctx context.Context, prompts []string, params Params) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]string, len(prompts))
	for i, p := range prompts {
		out[i] = make([]string, params.NumReturnSequences)
		for j := range out[i] {
			out[i][j] = fmt.Sprintf("%s %s output %d", p, e.model, j)
		}
	}
	return out, nil
}

// Name returns the backend name.
func (e *EchoGenerator) Name() string {
	return "echo:" + e.model
}

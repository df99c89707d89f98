// Package mockmodel is a deterministic demo Model used by `serve` out
// of the box. It tokenizes its
// prompt on whitespace and emits each word back as one token with a
// small delay, so a fresh checkout has something real to exercise the
// scheduler, streams, and metrics against without a GPU or model
// weights. Nothing here is grounded on production model-serving code;
// it exists purely to give the pluggable Model interface a concrete,
// inspectable implementation.
package mockmodel

import (
	"context"
	"strings"
	"time"

	"github.com/infermesh/infermesh/server"
)

// Echo implements server.Model by echoing its prompt back word by word.
type Echo struct {
	TokenDelay time.Duration
}

// Loader is a server.LoaderFunc that constructs an Echo model.
func Loader(_ context.Context, cfg server.ModelConfig) (server.Model, error) {
	delay := 10 * time.Millisecond
	if v, ok := cfg.Metadata["token_delay_ms"]; ok {
		if d, err := time.ParseDuration(v + "ms"); err == nil {
			delay = d
		}
	}
	return &Echo{TokenDelay: delay}, nil
}

// Generate tokenizes each prompt on whitespace and emits the words as
// tokens, respecting ctx cancellation between tokens.
func (e *Echo) Generate(ctx context.Context, prompts []server.GenerateInput, emit func(int, server.StreamToken)) error {
	for i, in := range prompts {
		words := strings.Fields(in.Prompt)
		if len(words) == 0 {
			words = []string{"(empty)"}
		}

		limit := len(words)
		if in.MaxTokens > 0 && in.MaxTokens < limit {
			limit = in.MaxTokens
		}

		for j := 0; j < limit; j++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.TokenDelay):
			}

			emit(i, server.StreamToken{
				Token:   words[j],
				TokenID: j,
				End:     j == limit-1,
			})
		}
	}
	return nil
}

// HealthCheck always reports healthy; Echo has no external dependency
// to fail against.
func (e *Echo) HealthCheck(context.Context) bool {
	return true
}

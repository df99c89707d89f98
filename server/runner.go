// runner.go - Inference Runner
//
// Pro Model-Name laeuft eine Runner-Goroutine, die next_batch()
// blockierend aufruft, die aktive Modellversion aus der Registry
// aufloest und Generate() aufruft. Tokens werden anhand des
// Batch-Index an den ursprungs-TokenStream verteilt. Pro-Request
// max_tokens und Timeout werden am Fan-out-Punkt durchgesetzt, nicht
// im Model selbst, damit jedes Model diese Semantik kostenlos erbt.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner drives one model name's batch loop until its context is
// cancelled.
type Runner struct {
	modelName string
	registry  *ModelRegistry
	scheduler *BatchScheduler
	metrics   *MetricsCollector
}

// NewRunner constructs a runner bound to one model name.
func NewRunner(modelName string, registry *ModelRegistry, scheduler *BatchScheduler, metrics *MetricsCollector) *Runner {
	return &Runner{modelName: modelName, registry: registry, scheduler: scheduler, metrics: metrics}
}

// Run blocks, repeatedly pulling and serving batches, until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch := r.scheduler.NextBatch(ctx, r.modelName)
		if len(batch) == 0 {
			continue
		}

		r.serveBatch(ctx, batch)
	}
}

// RunnerPool keeps exactly one live Runner goroutine per model name.
// Ensure is idempotent, so the composition root and the model-load
// handler can both call it without coordination.
type RunnerPool struct {
	registry  *ModelRegistry
	scheduler *BatchScheduler
	metrics   *MetricsCollector

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	group   *errgroup.Group
	ctx     context.Context
}

// NewRunnerPool constructs a pool whose runners all descend from ctx.
func NewRunnerPool(ctx context.Context, registry *ModelRegistry, scheduler *BatchScheduler, metrics *MetricsCollector) *RunnerPool {
	g, gctx := errgroup.WithContext(ctx)
	return &RunnerPool{
		registry:  registry,
		scheduler: scheduler,
		metrics:   metrics,
		cancels:   make(map[string]context.CancelFunc),
		group:     g,
		ctx:       gctx,
	}
}

// Ensure starts a runner for name if none is live yet.
func (p *RunnerPool) Ensure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cancels[name]; ok {
		return
	}

	rctx, cancel := context.WithCancel(p.ctx)
	p.cancels[name] = cancel

	r := NewRunner(name, p.registry, p.scheduler, p.metrics)
	p.group.Go(func() error {
		defer p.remove(name)
		if err := r.Run(rctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// Stop cancels name's runner, if live.
func (p *RunnerPool) Stop(name string) {
	p.mu.Lock()
	cancel, ok := p.cancels[name]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every runner and waits for the pool to wind down.
func (p *RunnerPool) StopAll() error {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()
	return p.group.Wait()
}

func (p *RunnerPool) remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, name)
}

func (r *Runner) serveBatch(ctx context.Context, batch []*Slot) {
	lm, err := r.registry.Lookup(r.modelName)
	if err != nil {
		for _, s := range batch {
			s.Stream.Close(CloseInferenceErr, err.Error())
		}
		return
	}
	defer r.registry.Release(lm)

	lm.Requests.Add(int64(len(batch)))

	closed := make([]bool, len(batch))
	emitted := make([]int, len(batch))
	startedAt := time.Now()

	deadlines := make([]time.Time, len(batch))
	for i, s := range batch {
		deadlines[i] = requestDeadline(s, startedAt)
	}

	inputs := make([]GenerateInput, len(batch))
	for i, s := range batch {
		inputs[i] = s.Input
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// finish records exactly one completed-request outcome per slot, no
	// matter which termination path got there first.
	finish := func(idx int, isErr bool) {
		if closed[idx] {
			return
		}
		closed[idx] = true
		if r.metrics != nil {
			r.metrics.Record(r.modelName, RequestOutcome{
				Latency: time.Since(batch[idx].EnqueuedAt),
				Tokens:  emitted[idx],
				Err:     isErr,
			})
		}
	}

	emit := func(idx int, tok StreamToken) {
		if idx < 0 || idx >= len(batch) || closed[idx] {
			return
		}
		s := batch[idx]

		if time.Now().After(deadlines[idx]) {
			s.Stream.Close(CloseTimeout, "")
			finish(idx, false)
			return
		}
		if s.ctx != nil && s.ctx.Err() != nil {
			s.Stream.Close(CloseCancelled, "")
			finish(idx, false)
			return
		}

		if s.Stream.Push(tok) == PushClosed {
			// slow consumer or an external close; tokens already
			// delivered stay delivered, the rest are discarded.
			finish(idx, false)
			return
		}

		emitted[idx]++
		lm.Tokens.Add(1)
		if tok.End || (s.Input.MaxTokens > 0 && emitted[idx] >= s.Input.MaxTokens) {
			s.Stream.Close(CloseEndOfStream, "")
			finish(idx, false)
		}
	}

	if err := lm.Handle.Generate(genCtx, inputs, emit); err != nil {
		lm.Errors.Add(1)
		slog.Error("inference error", "model", r.modelName, "error", err)
		for i, s := range batch {
			if !closed[i] {
				s.Stream.Close(CloseInferenceErr, err.Error())
				finish(i, true)
			}
		}
		return
	}

	for i, s := range batch {
		if !closed[i] {
			s.Stream.Close(CloseEndOfStream, "")
			finish(i, false)
		}
	}
}

func requestDeadline(s *Slot, startedAt time.Time) time.Time {
	if !s.Deadline.IsZero() {
		return s.Deadline
	}
	return startedAt.Add(time.Hour) // effectively unbounded when no per-request deadline was set
}

package pipeline

import (
	"context"

	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/flow"
)

type applyResult[Out any] struct {
	outs []Out
	err  error
}

// apply runs fn once per input record, with unlimited dispatch parallelism
// bounded only by the executor's resource budget, and emits the outputs in
// input order. fn may emit zero records (nothing to pass on) or several
// (a record that splits, like a percolator run producing a target and a
// decoy table). The whole stage is one named executor branch; the first fn
// error fails it, and the remaining input is drained without emission so
// upstream producers never block.
func apply[In, Out any](ex *exec.Executor, name string, in *flow.Channel[In], fn func(ctx context.Context, rec In) ([]Out, error)) *flow.Channel[Out] {
	src := in.Subscribe()
	out := flow.NewChannel[Out](name)
	slots := make(chan chan applyResult[Out], 64)

	go func() {
		defer close(slots)
		for rec := range src {
			slot := make(chan applyResult[Out], 1)
			slots <- slot
			go func(rec In) {
				outs, err := fn(ex.Context(), rec)
				slot <- applyResult[Out]{outs: outs, err: err}
			}(rec)
		}
	}()

	ex.Go(name, func(ctx context.Context) error {
		defer out.Close()
		var firstErr error
		for slot := range slots {
			res := <-slot
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			if firstErr != nil {
				continue
			}
			for _, rec := range res.outs {
				out.Emit(rec)
			}
		}
		return firstErr
	})
	return out
}

// pinValue forwards the last record of a channel into a value channel.
// When the source closes empty (an upstream failure drained it) the zero
// value is published instead, so consumers blocked on Get always unblock.
func pinValue[T any](in *flow.Channel[T], v *flow.Value[T]) {
	src := in.Subscribe()
	go func() {
		var last T
		for rec := range src {
			last = rec
		}
		v.Set(last)
	}()
}

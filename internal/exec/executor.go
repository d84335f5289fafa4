package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/ctxlog"
	"github.com/vk/quantflow/internal/task"
)

// Executor runs the pipeline's task invocations. Each dataflow branch is
// a tracked goroutine; the first non-tolerated failure cancels the run
// context, which stops queued admissions and kills running tools, while
// every branch's error is kept for root-cause reporting.
type Executor struct {
	cfg      *config.Run
	runner   task.Runner
	budget   *Budget
	warnings *Warnings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures []failure

	toolRuns  atomic.Int64
	cacheHits atomic.Int64
}

type failure struct {
	name string
	err  error
}

// New creates an executor bound to a run context derived from ctx.
func New(ctx context.Context, cfg *config.Run, runner task.Runner, budget *Budget, warnings *Warnings) *Executor {
	runCtx, cancel := context.WithCancel(ctx)
	return &Executor{
		cfg:      cfg,
		runner:   runner,
		budget:   budget,
		warnings: warnings,
		ctx:      runCtx,
		cancel:   cancel,
	}
}

// Context returns the run context all branches execute under.
func (e *Executor) Context() context.Context { return e.ctx }

// Config returns the immutable run configuration.
func (e *Executor) Config() *config.Run { return e.cfg }

// Warnings returns the central warning collector.
func (e *Executor) Warnings() *Warnings { return e.warnings }

// Go runs one named branch on a tracked goroutine. A returned error
// fails the run and cancels the siblings.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.ctx); err != nil {
			e.Fail(name, err)
		}
	}()
}

// Fail records a branch failure and cancels the run.
func (e *Executor) Fail(name string, err error) {
	logger := ctxlog.FromContext(e.ctx)
	logger.Error("Branch failed.", "branch", name, "error", err)
	e.mu.Lock()
	e.failures = append(e.failures, failure{name: name, err: err})
	e.mu.Unlock()
	e.cancel()
}

// Invoke executes one resolved invocation of a node, honoring the when
// predicate, the resource budget and the tolerated flag. The boolean
// reports whether outputs were produced: a skipped or tolerated-failed
// node yields (nil, false, nil) and downstream must accept absence.
func (e *Executor) Invoke(ctx context.Context, inv *task.Invocation) (*task.Result, bool, error) {
	logger := ctxlog.FromContext(ctx).With("node", inv.Node.Name)

	if !inv.Node.Enabled(e.cfg) {
		logger.Debug("Node disabled by configuration, skipping.")
		return nil, false, nil
	}

	if err := e.budget.Acquire(ctx, inv.Node.Resources); err != nil {
		return nil, false, err
	}
	defer e.budget.Release(inv.Node.Resources)

	logger.Info("▶️ Running node")
	res, err := e.runner.Run(ctx, inv)
	if err != nil {
		if inv.Node.Tolerated {
			logger.Warn("Tolerated node failed.", "error", err)
			e.warnings.Add(inv.Node.Name, inv.Params["set"], err.Error())
			return nil, false, nil
		}
		return nil, false, err
	}

	if res.FromCache {
		e.cacheHits.Add(1)
		logger.Info("♻️ Node replayed from cache")
	} else {
		e.toolRuns.Add(1)
		logger.Info("✅ Node finished")
	}
	return res, true, nil
}

// Wait blocks until every branch finishes and aggregates the failures.
// Cancellation errors are symptoms, not causes; the first real error
// wins as root cause, mirroring what the run should report.
func (e *Executor) Wait() error {
	e.wg.Wait()
	e.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	var failed []string
	var rootCause error
	for _, f := range e.failures {
		if errors.Is(f.err, context.Canceled) {
			continue
		}
		failed = append(failed, f.name)
		if rootCause == nil {
			rootCause = f.err
		}
	}
	if rootCause != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	if len(e.failures) > 0 {
		return fmt.Errorf("execution canceled: %w", e.failures[0].err)
	}
	return nil
}

// ToolRuns reports how many invocations actually ran a tool (cache
// misses). A fully resumed run reports zero.
func (e *Executor) ToolRuns() int64 { return e.toolRuns.Load() }

// CacheHits reports how many invocations were replayed from the store.
func (e *Executor) CacheHits() int64 { return e.cacheHits.Load() }

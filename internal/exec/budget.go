// Package exec schedules task invocations: it admits them against a
// global resource budget, runs them on independent goroutines, cancels
// siblings on the first non-tolerated failure and collects non-fatal
// warnings for the QC report.
package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/quantflow/internal/task"
)

// Budget is the global CPU/memory quota invocations are admitted
// against. A request that cannot currently be satisfied waits; a request
// that can never be satisfied is rejected outright.
type Budget struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxCPUs  int
	maxMemMB int
	cpus     int
	memMB    int
}

// NewBudget creates a budget with the given totals.
func NewBudget(cpus, memMB int) *Budget {
	b := &Budget{maxCPUs: cpus, maxMemMB: memMB, cpus: cpus, memMB: memMB}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire blocks until the request fits or the context is canceled.
func (b *Budget) Acquire(ctx context.Context, r task.Resources) error {
	if r.CPUs > b.maxCPUs || r.MemMB > b.maxMemMB {
		return fmt.Errorf("exec: resource request (%d cpus, %d MB) exceeds budget (%d cpus, %d MB)",
			r.CPUs, r.MemMB, b.maxCPUs, b.maxMemMB)
	}

	// Wake waiters when the context dies so they can observe the error.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for r.CPUs > b.cpus || r.MemMB > b.memMB {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	b.cpus -= r.CPUs
	b.memMB -= r.MemMB
	return nil
}

// Release returns resources to the budget and wakes waiting admissions.
func (b *Budget) Release(r task.Resources) {
	b.mu.Lock()
	b.cpus += r.CPUs
	b.memMB += r.MemMB
	b.cond.Broadcast()
	b.mu.Unlock()
}

package task

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/quantflow/internal/cache"
	"github.com/vk/quantflow/internal/ctxlog"
)

// CachedRunner wraps a Runner with the content-addressed store. It
// computes the invocation signature, replays committed outputs on a hit
// and commits fresh outputs on a miss. The per-signature lock means two
// concurrent invocations with the same signature cannot race a commit.
type CachedRunner struct {
	Inner    Runner
	Store    *cache.Store
	WorkRoot string
}

// Run resolves the invocation through the cache. The signature is built
// from the script template, not the rendered command: input files are
// keyed by binding name and content, so a resumed run hits the cache even
// though its intermediate files live at different paths.
func (r *CachedRunner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("node", inv.Node.Name)

	// Render early so placeholder problems fail before any store traffic.
	if _, err := RenderCommand(inv); err != nil {
		return nil, err
	}

	// The node name is folded into the script field so distinct nodes
	// sharing a command template cannot alias each other's entries.
	sig, err := cache.ComputeSignature(inv.Node.Name+"\n"+inv.Node.Script, inv.Params, inv.FlatInputs())
	if err != nil {
		return nil, err
	}

	unlock := r.Store.Lock(sig)
	defer unlock()

	entry, hit, err := r.Store.Lookup(sig)
	if err != nil {
		return nil, err
	}
	if hit {
		restoreDir := filepath.Join(r.WorkRoot, "restored", string(sig[:12]))
		outputs, err := r.Store.Restore(entry, restoreDir)
		if err != nil {
			return nil, fmt.Errorf("task: replaying cached node %s: %w", inv.Node.Name, err)
		}
		logger.Debug("Cache hit, outputs replayed.", "signature", sig.String()[:12])
		return &Result{Outputs: outputs, FromCache: true}, nil
	}

	logger.Debug("Cache miss, invoking tool.", "signature", sig.String()[:12])
	res, err := r.Inner.Run(ctx, inv)
	if err != nil {
		return res, err
	}
	if _, err := r.Store.Commit(sig, inv.Node.Name, res.Outputs); err != nil {
		return res, err
	}
	return res, nil
}

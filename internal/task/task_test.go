package task

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/quantflow/internal/cache"
	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/ctxlog"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestRenderCommand(t *testing.T) {
	node := &Node{
		Name:   "psmFilter",
		Script: "msstitch conffilt -i {in:psms} -o {out:filtered} --confcol {p:col}",
	}
	inv := &Invocation{
		Node:    node,
		Inputs:  map[string]string{"psms": "/work/psms.tsv"},
		Outputs: map[string]string{"filtered": "filtered.tsv"},
		Params:  map[string]string{"col": "qvalue"},
	}

	cmd, err := RenderCommand(inv)
	require.NoError(t, err)
	assert.Equal(t, "msstitch conffilt -i /work/psms.tsv -o filtered.tsv --confcol qvalue", cmd)
}

func TestRenderCommandListBinding(t *testing.T) {
	node := &Node{Name: "merge", Script: "msstitch merge -i {ins:tables} -o {out:merged}"}
	inv := &Invocation{
		Node:       node,
		InputLists: map[string][]string{"tables": {"a.tsv", "b.tsv"}},
		Outputs:    map[string]string{"merged": "merged.tsv"},
	}

	cmd, err := RenderCommand(inv)
	require.NoError(t, err)
	assert.Equal(t, "msstitch merge -i a.tsv b.tsv -o merged.tsv", cmd)

	flat := inv.FlatInputs()
	assert.Equal(t, "a.tsv", flat["tables[0]"])
	assert.Equal(t, "b.tsv", flat["tables[1]"])
}

func TestRenderCommandUnresolvedPlaceholder(t *testing.T) {
	node := &Node{Name: "broken", Script: "tool {in:missing} {p:alsomissing}"}
	_, err := RenderCommand(&Invocation{Node: node})
	require.Error(t, err)
	assert.ErrorContains(t, err, "{in:missing}")
	assert.ErrorContains(t, err, "{p:alsomissing}")
}

func TestNodeEnabled(t *testing.T) {
	always := &Node{Name: "always"}
	assert.True(t, always.Enabled(&config.Run{}))

	gated := &Node{Name: "genes", When: func(c *config.Run) bool { return c.Genes }}
	assert.False(t, gated.Enabled(&config.Run{}))
	assert.True(t, gated.Enabled(&config.Run{Genes: true}))
}

func TestShellRunnerProducesDeclaredOutputs(t *testing.T) {
	ctx := testCtx(t)
	runner := &ShellRunner{WorkRoot: t.TempDir()}

	node := &Node{Name: "copy", Script: "cp {in:src} {out:dst}"}
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "src.tsv")
	require.NoError(t, os.WriteFile(src, []byte("Peptide\nAAAK\n"), 0o644))

	res, err := runner.Run(ctx, &Invocation{
		Node:    node,
		Inputs:  map[string]string{"src": src},
		Outputs: map[string]string{"dst": "dst.tsv"},
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	got, err := os.ReadFile(res.Outputs["dst"])
	require.NoError(t, err)
	assert.Equal(t, "Peptide\nAAAK\n", string(got))
}

func TestShellRunnerNonZeroExit(t *testing.T) {
	ctx := testCtx(t)
	runner := &ShellRunner{WorkRoot: t.TempDir()}

	node := &Node{Name: "fails", Script: "echo boom >&2; exit 3"}
	res, err := runner.Run(ctx, &Invocation{Node: node})
	require.Error(t, err)
	assert.ErrorContains(t, err, "exited 3")
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.StderrTail, "boom")
}

func TestShellRunnerMissingDeclaredOutput(t *testing.T) {
	ctx := testCtx(t)
	runner := &ShellRunner{WorkRoot: t.TempDir()}

	node := &Node{Name: "lazy", Script: "true"}
	_, err := runner.Run(ctx, &Invocation{
		Node:    node,
		Outputs: map[string]string{"table": "never-written.tsv"},
	})
	assert.ErrorContains(t, err, "did not produce declared output")
}

func TestCachedRunnerReplaysBitForBit(t *testing.T) {
	ctx := testCtx(t)
	work := t.TempDir()
	store, err := cache.NewStore(filepath.Join(work, "cache"))
	require.NoError(t, err)

	runner := &CachedRunner{
		Inner:    &ShellRunner{WorkRoot: work},
		Store:    store,
		WorkRoot: work,
	}

	src := filepath.Join(work, "in.tsv")
	require.NoError(t, os.WriteFile(src, []byte("A\t1\n"), 0o644))

	node := &Node{Name: "stamp", Script: "cat {in:src} > {out:dst}; echo done >> {out:dst}"}
	inv := &Invocation{
		Node:    node,
		Inputs:  map[string]string{"src": src},
		Outputs: map[string]string{"dst": "out.tsv"},
	}

	first, err := runner.Run(ctx, inv)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	firstBytes, err := os.ReadFile(first.Outputs["dst"])
	require.NoError(t, err)

	second, err := runner.Run(ctx, inv)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	secondBytes, err := os.ReadFile(second.Outputs["dst"])
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestCachedRunnerInvalidatesOnInputChange(t *testing.T) {
	ctx := testCtx(t)
	work := t.TempDir()
	store, err := cache.NewStore(filepath.Join(work, "cache"))
	require.NoError(t, err)

	runner := &CachedRunner{
		Inner:    &ShellRunner{WorkRoot: work},
		Store:    store,
		WorkRoot: work,
	}

	src := filepath.Join(work, "in.tsv")
	require.NoError(t, os.WriteFile(src, []byte("A\t1\n"), 0o644))

	node := &Node{Name: "copy", Script: "cp {in:src} {out:dst}"}
	inv := &Invocation{
		Node:    node,
		Inputs:  map[string]string{"src": src},
		Outputs: map[string]string{"dst": "out.tsv"},
	}

	first, err := runner.Run(ctx, inv)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// Changed content must be a miss, never a stale reuse.
	require.NoError(t, os.WriteFile(src, []byte("A\t2\n"), 0o644))
	second, err := runner.Run(ctx, inv)
	require.NoError(t, err)
	assert.False(t, second.FromCache)

	got, err := os.ReadFile(second.Outputs["dst"])
	require.NoError(t, err)
	assert.Equal(t, "A\t2\n", string(got))
}

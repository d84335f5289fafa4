package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vk/quantflow/internal/cache"
	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/ctxlog"
	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/fdr"
	"github.com/vk/quantflow/internal/task"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return ctxlog.WithLogger(context.Background(), logger)
}

// fakeTable carries every column the downstream inspections look for,
// with enough variance to keep the primary score column.
const fakeTable = "Accession\tsvm-score\tMSGFScore\tPSM q-value\tpeptide q-value\n" +
	"P1\t3.2\t101.0\t0.001\t0.001\n" +
	"P2\t1.1\t88.5\t0.004\t0.002\n"

// fakeRunner satisfies every invocation by writing its declared outputs,
// with optional per-node content overrides.
type fakeRunner struct {
	root     string
	contents map[string]string

	mu   sync.Mutex
	runs map[string]int
}

func newFakeRunner(t *testing.T) *fakeRunner {
	t.Helper()
	return &fakeRunner{
		root:     t.TempDir(),
		contents: make(map[string]string),
		runs:     make(map[string]int),
	}
}

func (r *fakeRunner) Run(ctx context.Context, inv *task.Invocation) (*task.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.runs[inv.Node.Name]++
	r.mu.Unlock()

	dir, err := os.MkdirTemp(r.root, inv.Node.Name+"-")
	if err != nil {
		return nil, err
	}
	content := fakeTable
	if c, ok := r.contents[inv.Node.Name]; ok {
		content = c
	}
	outputs := make(map[string]string, len(inv.Outputs))
	for binding, name := range inv.Outputs {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		outputs[binding] = path
	}
	return &task.Result{Outputs: outputs}, nil
}

func (r *fakeRunner) count(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[node]
}

// testRun builds a two-set, quant-off configuration with real input files
// on disk.
func testRun(t *testing.T) *config.Run {
	t.Helper()
	dir := t.TempDir()
	mk := func(name string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name+" data\n"), 0o644))
		return path
	}
	return &config.Run{
		OutDir:      filepath.Join(dir, "results"),
		Instrument:  config.InstrumentQE,
		NoQuant:     true,
		PSMConfLvl:  0.01,
		PepConfLvl:  0.01,
		TargetFasta: mk("target.fa"),
		DecoyFasta:  mk("decoy.fa"),
		Sets: []config.SampleSet{
			{Name: "setA", Mzmls: []string{mk("a1.mzML"), mk("a2.mzML")}},
			{Name: "setB", Mzmls: []string{mk("b1.mzML")}},
		},
	}
}

func newExecutor(t *testing.T, cfg *config.Run, runner task.Runner) *exec.Executor {
	t.Helper()
	return exec.New(testCtx(t), cfg, runner, exec.NewBudget(16, 32768), &exec.Warnings{})
}

func TestBuildTopologyFollowsConfiguration(t *testing.T) {
	t.Run("quant off, protein only", func(t *testing.T) {
		cfg := testRun(t)
		p, err := Build(newExecutor(t, cfg, newFakeRunner(t)))
		require.NoError(t, err)

		topo := p.Topology()
		for _, name := range []string{"source", "createSearchDB", "msgfSearch", "percolator",
			"psmConfFilter", "peptideTable", "peptideMerge", "proteinTable", "proteinFdr", "proteinMerge"} {
			assert.True(t, topo.Has(name), "expected node %s", name)
		}
		for _, name := range []string{"psmQuantMerge", "buildQuantLookup", "ms1Quant", "isobaricQuant",
			"isoRatios", "deltapiAnnotate", "geneTable", "symbolTable", "proteinNormalize", "proteinDeqms"} {
			assert.False(t, topo.Has(name), "unexpected node %s", name)
		}

		deps, err := topo.Dependencies("percolator")
		require.NoError(t, err)
		assert.Equal(t, []string{"msgfSearch"}, deps)

		_, err = p.Run()
		require.NoError(t, err)
	})

	t.Run("all branches on", func(t *testing.T) {
		cfg := testRun(t)
		cfg.NoQuant = false
		cfg.Isobaric = config.PlexTMT10
		cfg.Denoms = map[string][]string{"setA": {"126"}, "setB": {"126"}}
		cfg.Fractions = true
		cfg.Sets[0].Plates = []string{"p1"}
		cfg.Sets[1].Plates = []string{"p1"}
		cfg.Genes = true
		cfg.Symbols = true
		cfg.Normalize = true
		cfg.Deqms = true

		p, err := Build(newExecutor(t, cfg, newFakeRunner(t)))
		require.NoError(t, err)

		topo := p.Topology()
		for _, name := range []string{"isobaricQuant", "buildQuantLookup", "psmQuantMerge",
			"deltapiAnnotate", "isoRatios", "geneTable", "geneFdr", "geneMerge",
			"symbolTable", "symbolFdr", "symbolMerge",
			"proteinNormalize", "proteinDeqms", "geneNormalize", "geneDeqms"} {
			assert.True(t, topo.Has(name), "expected node %s", name)
		}
		assert.False(t, topo.Has("ms1Quant"))
		assert.NoError(t, topo.DetectCycles())

		_, err = p.Run()
		require.NoError(t, err)
	})
}

func TestRunPublishesDeliverables(t *testing.T) {
	cfg := testRun(t)
	runner := newFakeRunner(t)

	p, err := Build(newExecutor(t, cfg, runner))
	require.NoError(t, err)
	sum, err := p.Run()
	require.NoError(t, err)

	assert.Equal(t, []string{"noplates"}, sum.Partitions)
	assert.Empty(t, sum.Warnings)

	published := make(map[string]bool, len(sum.Published))
	for _, path := range sum.Published {
		published[filepath.Base(path)] = true
	}
	for _, name := range []string{
		"setA_target_psmtable.txt", "setA_decoy_psmtable.txt",
		"setB_target_psmtable.txt", "setB_decoy_psmtable.txt",
		"peptides_table.txt", "proteins_table.txt", "versions.txt", "qc.yaml",
	} {
		assert.True(t, published[name], "expected published file %s", name)
	}
	assert.False(t, published["genes_table.txt"])
	assert.False(t, published["symbols_table.txt"])

	got, err := os.ReadFile(filepath.Join(cfg.OutDir, "proteins_table.txt"))
	require.NoError(t, err)
	assert.Equal(t, fakeTable, string(got))

	// One search per mzML, one percolator per set, table stages per set
	// and arm.
	assert.Equal(t, 3, runner.count("msgfSearch"))
	assert.Equal(t, 2, runner.count("percolator"))
	assert.Equal(t, 4, runner.count("psmConfFilter"))
	assert.Equal(t, 4, runner.count("proteinTable"))
	assert.Equal(t, 2, runner.count("proteinFdr"))
	assert.Equal(t, 0, runner.count("psmQuantMerge"))

	var qc struct {
		Partitions []string `yaml:"partitions"`
		ToolRuns   int64    `yaml:"tool_runs"`
	}
	data, err := os.ReadFile(filepath.Join(cfg.OutDir, "qc.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &qc))
	assert.Equal(t, sum.Partitions, qc.Partitions)
	assert.Equal(t, sum.ToolRuns, qc.ToolRuns)
}

func TestRunFailsOnMissingDenominators(t *testing.T) {
	cfg := testRun(t)
	cfg.NoQuant = false
	cfg.Isobaric = config.PlexTMT10
	cfg.Denoms = map[string][]string{"setA": {"126", "127N"}}

	p, err := Build(newExecutor(t, cfg, newFakeRunner(t)))
	require.NoError(t, err)
	_, err = p.Run()
	require.Error(t, err)

	var denomErr *MissingDenominatorError
	require.ErrorAs(t, err, &denomErr)
	assert.Equal(t, "setB", denomErr.Set)
	assert.ErrorContains(t, err, "setB")
}

func TestRunAbortsWhenThresholdEmptiesSet(t *testing.T) {
	cfg := testRun(t)
	runner := newFakeRunner(t)
	runner.contents["psmConfFilter"] = "Accession\tsvm-score\tMSGFScore\tPSM q-value\tpeptide q-value\n"

	p, err := Build(newExecutor(t, cfg, runner))
	require.NoError(t, err)
	_, err = p.Run()
	require.Error(t, err)

	var emptyErr *fdr.ThresholdEmptyError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, 0.01, emptyErr.PSMConfLvl)
	assert.ErrorContains(t, err, "psmconflvl")
}

func TestResumedRunReplaysEverything(t *testing.T) {
	cfg := testRun(t)
	work := t.TempDir()
	store, err := cache.NewStore(filepath.Join(work, "cache"))
	require.NoError(t, err)

	runOnce := func() *Summary {
		runner := &task.CachedRunner{
			Inner:    newFakeRunner(t),
			Store:    store,
			WorkRoot: work,
		}
		p, err := Build(newExecutor(t, cfg, runner))
		require.NoError(t, err)
		sum, err := p.Run()
		require.NoError(t, err)
		return sum
	}

	first := runOnce()
	assert.Positive(t, first.ToolRuns)
	assert.Zero(t, first.CacheHits)

	second := runOnce()
	assert.Zero(t, second.ToolRuns)
	assert.Equal(t, first.ToolRuns, second.CacheHits)
}

func TestChangedInputInvalidatesOnlyDependents(t *testing.T) {
	cfg := testRun(t)
	work := t.TempDir()
	store, err := cache.NewStore(filepath.Join(work, "cache"))
	require.NoError(t, err)

	runOnce := func() *Summary {
		runner := &task.CachedRunner{
			Inner:    newFakeRunner(t),
			Store:    store,
			WorkRoot: work,
		}
		p, err := Build(newExecutor(t, cfg, runner))
		require.NoError(t, err)
		sum, err := p.Run()
		require.NoError(t, err)
		return sum
	}

	runOnce()

	// Rewriting one mzML re-runs only its search; the tool writes the
	// same table either way, so everything downstream stays a hit.
	require.NoError(t, os.WriteFile(cfg.Sets[1].Mzmls[0], []byte("b1.mzML changed\n"), 0o644))
	second := runOnce()
	assert.Equal(t, int64(1), second.ToolRuns)
}

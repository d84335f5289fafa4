package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vk/quantflow/internal/ctxlog"
	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/fdr"
)

// Summary is what a finished run reports: the published deliverables, the
// set/plate partitions, the collected warnings and the cache statistics.
type Summary struct {
	Published    []string
	Partitions   []string
	Warnings     []exec.Warning
	ToolRuns     int64
	CacheHits    int64
	VersionsFile string
}

var accTableNames = map[fdr.AccessionType]string{
	fdr.AccProtein: "proteins_table.txt",
	fdr.AccGene:    "genes_table.txt",
	fdr.AccSymbol:  "symbols_table.txt",
}

// Run starts the source feeders, drives the graph to completion and
// publishes the deliverables into the output directory.
func (p *Pipeline) Run() (*Summary, error) {
	logger := ctxlog.FromContext(p.ex.Context())
	logger.Info("🚀 Pipeline started", "nodes", len(p.topo.Nodes()), "partitions", len(p.partitions))

	for _, feed := range p.feeders {
		go feed()
	}

	// Sinks unblock when their channels close, which happens whether the
	// branches succeed or fail; the executor error is checked after.
	psms := p.psmSink.Wait()
	peptides := p.pepSink.Wait()
	accTables := make(map[fdr.AccessionType][]string, len(p.accSinks))
	for acc, sink := range p.accSinks {
		accTables[acc] = sink.Wait()
	}
	versions := p.versions.Get()

	if err := p.ex.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{
		Partitions: p.partitions,
		Warnings:   p.ex.Warnings().Items(),
		ToolRuns:   p.ex.ToolRuns(),
		CacheHits:  p.ex.CacheHits(),
	}
	if err := p.publish(sum, psms, peptides, accTables, versions); err != nil {
		return nil, err
	}

	logger.Info("🏁 Pipeline finished",
		"published", len(sum.Published),
		"toolRuns", sum.ToolRuns,
		"cacheHits", sum.CacheHits,
		"warnings", len(sum.Warnings))
	return sum, nil
}

func (p *Pipeline) publish(sum *Summary, psms []SetArmTable, peptides []string, accTables map[fdr.AccessionType][]string, versions string) error {
	outDir := p.cfg.OutDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: creating output directory: %w", err)
	}

	for _, t := range psms {
		name := fmt.Sprintf("%s_%s_psmtable.txt", t.Set, t.Arm)
		if err := p.publishFile(sum, outDir, name, t.Path); err != nil {
			return err
		}
	}
	for _, path := range peptides {
		if err := p.publishFile(sum, outDir, "peptides_table.txt", path); err != nil {
			return err
		}
	}
	for acc, paths := range accTables {
		for _, path := range paths {
			if err := p.publishFile(sum, outDir, accTableNames[acc], path); err != nil {
				return err
			}
		}
	}
	if versions != "" {
		if err := p.publishFile(sum, outDir, "versions.txt", versions); err != nil {
			return err
		}
		sum.VersionsFile = filepath.Join(outDir, "versions.txt")
	}
	return p.writeQC(sum, outDir)
}

func (p *Pipeline) publishFile(sum *Summary, outDir, name, src string) error {
	dst := filepath.Join(outDir, name)
	if err := copyFile(dst, src); err != nil {
		return fmt.Errorf("pipeline: publishing %s: %w", name, err)
	}
	sum.Published = append(sum.Published, dst)
	return nil
}

type qcWarning struct {
	Node    string `yaml:"node"`
	Set     string `yaml:"set,omitempty"`
	Message string `yaml:"message"`
}

type qcDocument struct {
	Partitions []string    `yaml:"partitions"`
	ToolRuns   int64       `yaml:"tool_runs"`
	CacheHits  int64       `yaml:"cache_hits"`
	Warnings   []qcWarning `yaml:"warnings"`
}

// writeQC emits the QC report: the run's partitions, the cache statistics
// and every warning collected during execution.
func (p *Pipeline) writeQC(sum *Summary, outDir string) error {
	doc := qcDocument{
		Partitions: sum.Partitions,
		ToolRuns:   sum.ToolRuns,
		CacheHits:  sum.CacheHits,
		Warnings:   make([]qcWarning, 0, len(sum.Warnings)),
	}
	for _, w := range sum.Warnings {
		doc.Warnings = append(doc.Warnings, qcWarning{Node: w.Node, Set: w.Set, Message: w.Message})
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("pipeline: encoding QC report: %w", err)
	}
	dst := filepath.Join(outDir, "qc.yaml")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: writing QC report: %w", err)
	}
	sum.Published = append(sum.Published, dst)
	return nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

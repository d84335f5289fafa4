package pipeline

import (
	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/task"
)

// Node definitions. Each wraps one external tool invocation; the builder
// decides which of them a run wires, the When predicates are the backstop
// against invoking a node the configuration disabled.

var nodeCreateSearchDB = &task.Node{
	Name:      "createSearchDB",
	Script:    "cat {in:target} {in:decoy} > {out:db}",
	Resources: task.Resources{CPUs: 1, MemMB: 512},
}

var nodeMsgfSearch = &task.Node{
	Name: "msgfSearch",
	Script: "msgf_plus -Xmx3500M -s {in:mzml} -d {in:db} -o {out:mzid} -inst {p:instrument} " +
		"-t 10.0ppm -ti -1,2 -tda 0 -maxMissedCleavages 2 && " +
		"msgf_plus -Xmx3500M edu.ucsd.msjava.ui.MzIDToTsv -i {out:mzid} -o {out:psms} -showDecoy 1",
	Resources: task.Resources{CPUs: 2, MemMB: 4096},
}

var nodeIsobaricQuant = &task.Node{
	Name:      "isobaricQuant",
	Script:    "IsobaricAnalyzer -type {p:plex} -in {in:mzml} -out {out:features}",
	When:      func(c *config.Run) bool { return c.Quant() && c.Isobaric != config.PlexNone },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeMS1Quant = &task.Node{
	Name:      "ms1Quant",
	Script:    "hardklor {in:mzml} {out:hk} && kronik {out:hk} {out:features}",
	When:      func(c *config.Run) bool { return c.Quant() && c.Isobaric == config.PlexNone },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeBuildQuantLookup = &task.Node{
	Name: "buildQuantLookup",
	Script: "msstitch storequant -o {out:lookup} --spectra {ins:mzmls} " +
		"--quants {ins:features} --quanttype {p:quanttype}",
	When:      func(c *config.Run) bool { return c.Quant() && c.QuantLookup == "" },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodePercolator = &task.Node{
	Name: "percolator",
	Script: "msgf2pin -o {out:pin} -e trypsin -P decoy_ {ins:mzids} && " +
		"percolator {out:pin} -X {out:pout} -N 500000 --decoy-xml-output && " +
		"msstitch perco2psm --perco {out:pout} --mzids {ins:mzids} --psms {ins:psms} -o {out:allpsms} && " +
		"msstitch split -i {out:allpsms} --splitcol TD",
	Resources: task.Resources{CPUs: 4, MemMB: 8192},
}

var nodePSMQuantMerge = &task.Node{
	Name:      "psmQuantMerge",
	Script:    "msstitch psmtable -i {in:psms} -o {out:quantpsms} --dbfile {in:lookup} --spectracol 1 {p:quantflags}",
	When:      func(c *config.Run) bool { return c.Quant() },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodePSMConfFilter = &task.Node{
	Name: "psmConfFilter",
	Script: "msstitch conffilt -i {in:psms} -o {out:filtered} " +
		"--confidence-col \"PSM q-value\" --confidence-lvl {p:lvl} --confidence-better lower",
	Resources: task.Resources{CPUs: 1, MemMB: 1024},
}

var nodeDeltapiAnnotate = &task.Node{
	Name: "deltapiAnnotate",
	Script: "msstitch deltapi -i {in:psms} -o {out:annotated} " +
		"--fraccolpattern Fraction --strippatterns {p:plates} --picutoff 0.2",
	When:      func(c *config.Run) bool { return c.Fractions },
	Resources: task.Resources{CPUs: 1, MemMB: 1024},
}

var nodeIsoRatios = &task.Node{
	Name: "isoRatios",
	Script: "msstitch isoratio -i {in:psms} -o {out:ratios} " +
		"--isobquantcolpattern {p:plex} --denompatterns {p:denoms}",
	When:      func(c *config.Run) bool { return c.Quant() && c.Isobaric != config.PlexNone },
	Resources: task.Resources{CPUs: 1, MemMB: 1024},
}

var nodePeptideTable = &task.Node{
	Name: "peptideTable",
	Script: "msstitch peptides -i {in:psms} -o {out:peptides} --scorecolpattern svm --spectracol 1 && " +
		"msstitch conffilt -i {out:peptides} -o {out:filtered} " +
		"--confidence-col \"peptide q-value\" --confidence-lvl {p:lvl} --confidence-better lower",
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodePeptideMerge = &task.Node{
	Name:      "peptideMerge",
	Script:    "msstitch merge -i {ins:tables} --setnames {p:sets} -o {out:merged} --fdrcolpattern \"q-value\"",
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeProteinTable = &task.Node{
	Name:      "proteinTable",
	Script:    "msstitch proteins -i {in:peptides} -o {out:table} --scorecolpattern svm",
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeGeneTable = &task.Node{
	Name:      "geneTable",
	Script:    "msstitch genes -i {in:peptides} -o {out:table} --scorecolpattern svm",
	When:      func(c *config.Run) bool { return c.Genes },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeSymbolTable = &task.Node{
	Name:      "symbolTable",
	Script:    "msstitch ensg -i {in:peptides} -o {out:table} --scorecolpattern svm",
	When:      func(c *config.Run) bool { return c.Symbols },
	Resources: task.Resources{CPUs: 1, MemMB: 2048},
}

var nodeVersionProbe = &task.Node{
	Name:      "versionProbe",
	Script:    "{ msgf_plus -version; percolator -h; msstitch --version; } > {out:versions} 2>&1",
	Tolerated: true,
	Resources: task.Resources{CPUs: 1, MemMB: 256},
}

// fdrNode builds the competition node for one accession type. Gene and
// symbol competitions use the picked variant, which needs the FASTA pair
// to resolve shared peptide-to-gene mappings.
func fdrNode(name string, picked bool) *task.Node {
	script := "calc_fdr.py --target {in:target} --decoy {in:decoy} --scorecol {p:scorecol} -o {out:table}"
	if picked {
		script = "picked_fdr.py --target {in:target} --decoy {in:decoy} " +
			"--targetfasta {in:tfasta} --decoyfasta {in:dfasta} --scorecol {p:scorecol} -o {out:table}"
	}
	return &task.Node{
		Name:      name,
		Script:    script,
		Resources: task.Resources{CPUs: 1, MemMB: 2048},
	}
}

// mergeNode builds the per-accession-type merge node joining the competed
// per-set tables into one wide table.
func mergeNode(name string) *task.Node {
	return &task.Node{
		Name:      name,
		Script:    "msstitch merge -i {ins:tables} --setnames {p:sets} -o {out:merged} --fdrcolpattern \"q-value\"",
		Resources: task.Resources{CPUs: 1, MemMB: 2048},
	}
}

// normalizeNode builds the per-accession-type median normalization node.
func normalizeNode(name string) *task.Node {
	return &task.Node{
		Name:      name,
		Script:    "normalize_table.R {in:table} {out:normalized}",
		When:      func(c *config.Run) bool { return c.Normalize },
		Resources: task.Resources{CPUs: 1, MemMB: 1024},
	}
}

// deqmsNode builds the per-accession-type DEqMS variance shrinkage node.
func deqmsNode(name string) *task.Node {
	return &task.Node{
		Name:      name,
		Script:    "deqms.R {in:table} {out:stats}",
		When:      func(c *config.Run) bool { return c.Deqms },
		Resources: task.Resources{CPUs: 1, MemMB: 2048},
	}
}

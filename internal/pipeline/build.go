package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/fdr"
	"github.com/vk/quantflow/internal/flow"
	"github.com/vk/quantflow/internal/task"
)

// Pipeline is one wired run: the channels are connected, the topology is
// recorded, and the source feeders are armed but not yet started. Run
// starts them and drives the graph to completion.
type Pipeline struct {
	ex         *exec.Executor
	cfg        *config.Run
	topo       *Topology
	feeders    []func()
	partitions []string
	buildErr   error

	psmSink  *flow.Sink[SetArmTable]
	pepSink  *flow.Sink[string]
	accSinks map[fdr.AccessionType]*flow.Sink[string]
	versions *flow.Value[string]
}

// Build wires the analysis graph for the executor's run configuration.
// Disabled branches are not wired at all, so the resulting topology shows
// exactly what this run will execute.
func Build(ex *exec.Executor) (*Pipeline, error) {
	cfg := ex.Config()
	p := &Pipeline{
		ex:       ex,
		cfg:      cfg,
		topo:     NewTopology(),
		accSinks: make(map[fdr.AccessionType]*flow.Sink[string]),
		versions: flow.NewValue[string]("versions"),
	}

	recs := sourceRecords(cfg)
	p.partitions = partitionKeys(recs)

	p.addNode("source")
	mzmls := flow.NewChannel[Mzml]("mzmls")
	p.feeders = append(p.feeders, func() { mzmls.EmitAll(recs) })

	db := p.searchDB()
	searched := p.search(mzmls, db)
	lookup := p.quantLookup(mzmls)
	psms, from := p.percolate(searched)
	psms, from = p.quantMerge(psms, from, lookup)
	psms, from = p.confFilter(psms, from)
	if cfg.Fractions {
		psms, from = p.deltapi(psms, from)
	}
	if cfg.Quant() && cfg.Isobaric != config.PlexNone {
		psms, from = p.isoRatios(psms, from)
	}
	p.psmSink = flow.NewSink(psms)

	peptides, pepFrom := p.peptideTable(psms, from)
	p.pepSink = flow.NewSink(p.peptideMerge(peptides, pepFrom))

	for _, accName := range cfg.AccessionBranches() {
		p.accBranch(accName, peptides, pepFrom)
	}

	p.versionProbe()

	if p.buildErr != nil {
		return nil, p.buildErr
	}
	if err := p.topo.DetectCycles(); err != nil {
		return nil, err
	}
	return p, nil
}

// Topology returns the wired graph shape.
func (p *Pipeline) Topology() *Topology { return p.topo }

func (p *Pipeline) addNode(name string, deps ...string) {
	p.topo.AddNode(name)
	for _, d := range deps {
		if err := p.topo.AddEdge(d, name); err != nil && p.buildErr == nil {
			p.buildErr = err
		}
	}
}

// searchDB concatenates the target and decoy FASTA into the search
// database every mzML is searched against.
func (p *Pipeline) searchDB() *flow.Value[string] {
	db := flow.NewValue[string]("searchDB")
	p.addNode(nodeCreateSearchDB.Name)
	p.ex.Go(nodeCreateSearchDB.Name, func(ctx context.Context) error {
		inv := &task.Invocation{
			Node: nodeCreateSearchDB,
			Inputs: map[string]string{
				"target": p.cfg.TargetFasta,
				"decoy":  p.cfg.DecoyFasta,
			},
			Outputs: map[string]string{"db": "db.fa"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil || !ok {
			db.Set("")
			return err
		}
		db.Set(res.Outputs["db"])
		return nil
	})
	return db
}

// search runs the database search once per mzML.
func (p *Pipeline) search(mzmls *flow.Channel[Mzml], db *flow.Value[string]) *flow.Channel[SearchResult] {
	cfg := p.cfg
	p.addNode(nodeMsgfSearch.Name, "source", nodeCreateSearchDB.Name)
	return apply(p.ex, nodeMsgfSearch.Name, mzmls, func(ctx context.Context, m Mzml) ([]SearchResult, error) {
		dbPath := db.Get()
		if dbPath == "" {
			return nil, ctx.Err()
		}
		inv := &task.Invocation{
			Node:   nodeMsgfSearch,
			Inputs: map[string]string{"mzml": m.Path, "db": dbPath},
			Params: map[string]string{
				"set":        m.Set,
				"instrument": cfg.Instrument.SearchFlag(),
			},
			Outputs: map[string]string{"mzid": "psms.mzid", "psms": "psms.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []SearchResult{{Set: m.Set, Mzid: res.Outputs["mzid"], Psms: res.Outputs["psms"]}}, nil
	})
}

// quantLookup resolves the quantification lookup database: pinned from
// configuration when the user supplied one, built from per-mzML feature
// extraction otherwise, and empty when quantification is off.
func (p *Pipeline) quantLookup(mzmls *flow.Channel[Mzml]) *flow.Value[string] {
	cfg := p.cfg
	lookup := flow.NewValue[string]("quantLookup")

	switch {
	case !cfg.Quant():
		lookup.Set("")
		return lookup
	case cfg.QuantLookup != "":
		lookup.Set(cfg.QuantLookup)
		return lookup
	}

	node := nodeMS1Quant
	quanttype := "ms1"
	if cfg.Isobaric != config.PlexNone {
		node = nodeIsobaricQuant
		quanttype = string(cfg.Isobaric)
	}
	p.addNode(node.Name, "source")
	feats := apply(p.ex, node.Name, mzmls, func(ctx context.Context, m Mzml) ([]QuantFeature, error) {
		outputs := map[string]string{"features": "features.tsv"}
		if node == nodeMS1Quant {
			outputs["hk"] = "hardklor.out"
		}
		inv := &task.Invocation{
			Node:    node,
			Inputs:  map[string]string{"mzml": m.Path},
			Params:  map[string]string{"set": m.Set, "plex": string(cfg.Isobaric)},
			Outputs: outputs,
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []QuantFeature{{Set: m.Set, Mzml: m.Path, Features: res.Outputs["features"]}}, nil
	})

	p.addNode(nodeBuildQuantLookup.Name, node.Name)
	lists := flow.ToList("quantFeatures", feats)
	built := apply(p.ex, nodeBuildQuantLookup.Name, lists, func(ctx context.Context, all []QuantFeature) ([]string, error) {
		if len(all) == 0 {
			return nil, nil
		}
		mz := make([]string, 0, len(all))
		ft := make([]string, 0, len(all))
		for _, f := range all {
			mz = append(mz, f.Mzml)
			ft = append(ft, f.Features)
		}
		inv := &task.Invocation{
			Node:       nodeBuildQuantLookup,
			InputLists: map[string][]string{"mzmls": mz, "features": ft},
			Params:     map[string]string{"quanttype": quanttype},
			Outputs:    map[string]string{"lookup": "quant_lookup.sqlite"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []string{res.Outputs["lookup"]}, nil
	})
	pinValue(built, lookup)
	return lookup
}

// percolate gathers each set's search results and rescores them with
// percolator, splitting the result into one target and one decoy PSM
// table per set.
func (p *Pipeline) percolate(searched *flow.Channel[SearchResult]) (*flow.Channel[SetArmTable], string) {
	p.addNode(nodePercolator.Name, nodeMsgfSearch.Name)
	bySet := flow.GroupTuple("searchesBySet", searched, func(s SearchResult) string { return s.Set })
	out := apply(p.ex, nodePercolator.Name, bySet, func(ctx context.Context, g flow.Group[string, SearchResult]) ([]SetArmTable, error) {
		mzids := make([]string, 0, len(g.Items))
		psms := make([]string, 0, len(g.Items))
		for _, s := range g.Items {
			mzids = append(mzids, s.Mzid)
			psms = append(psms, s.Psms)
		}
		inv := &task.Invocation{
			Node:       nodePercolator,
			InputLists: map[string][]string{"mzids": mzids, "psms": psms},
			Params:     map[string]string{"set": g.Key},
			Outputs: map[string]string{
				"pin":     "percolator.pin",
				"pout":    "percolator.xml",
				"allpsms": "all_psms.tsv",
				"target":  "target.tsv",
				"decoy":   "decoy.tsv",
			},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []SetArmTable{
			{Set: g.Key, Arm: fdr.ArmTarget, Path: res.Outputs["target"]},
			{Set: g.Key, Arm: fdr.ArmDecoy, Path: res.Outputs["decoy"]},
		}, nil
	})
	return out, nodePercolator.Name
}

// quantMerge folds the quant lookup into every PSM table. Not wired when
// quantification is off.
func (p *Pipeline) quantMerge(psms *flow.Channel[SetArmTable], from string, lookup *flow.Value[string]) (*flow.Channel[SetArmTable], string) {
	cfg := p.cfg
	if !cfg.Quant() {
		return psms, from
	}
	name := nodePSMQuantMerge.Name
	p.addNode(name, from)
	if p.topo.Has(nodeBuildQuantLookup.Name) {
		p.addNode(name, nodeBuildQuantLookup.Name)
	}

	quantflags := "--ms1quant"
	if cfg.Isobaric != config.PlexNone {
		quantflags = "--isobaric"
	}
	withLookup := flow.Cross("psmsWithLookup", psms, lookup)
	out := apply(p.ex, name, withLookup, func(ctx context.Context, pr flow.Pair[SetArmTable, string]) ([]SetArmTable, error) {
		t := pr.Left
		inv := &task.Invocation{
			Node:   nodePSMQuantMerge,
			Inputs: map[string]string{"psms": t.Path, "lookup": pr.Right},
			Params: map[string]string{
				"set":        t.Set,
				"arm":        string(t.Arm),
				"quantflags": quantflags,
			},
			Outputs: map[string]string{"quantpsms": "quant_psms.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []SetArmTable{t}, nil
		}
		return []SetArmTable{{Set: t.Set, Arm: t.Arm, Path: res.Outputs["quantpsms"]}}, nil
	})
	return out, name
}

// confFilter applies the PSM confidence threshold and enforces that every
// set keeps at least one PSM afterwards.
func (p *Pipeline) confFilter(psms *flow.Channel[SetArmTable], from string) (*flow.Channel[SetArmTable], string) {
	cfg := p.cfg
	name := nodePSMConfFilter.Name
	p.addNode(name, from)
	out := apply(p.ex, name, psms, func(ctx context.Context, t SetArmTable) ([]SetArmTable, error) {
		inv := &task.Invocation{
			Node:   nodePSMConfFilter,
			Inputs: map[string]string{"psms": t.Path},
			Params: map[string]string{
				"set": t.Set,
				"arm": string(t.Arm),
				"lvl": strconv.FormatFloat(cfg.PSMConfLvl, 'g', -1, 64),
			},
			Outputs: map[string]string{"filtered": "filtered_psms.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		path := res.Outputs["filtered"]
		if err := fdr.CheckFiltered(path, t.Set, t.Arm, cfg.PSMConfLvl, cfg.PepConfLvl); err != nil {
			return nil, err
		}
		return []SetArmTable{{Set: t.Set, Arm: t.Arm, Path: path}}, nil
	})
	return out, name
}

// deltapi annotates fractionated PSM tables with the delta between the
// predicted and observed isoelectric point. Only wired with fractions.
func (p *Pipeline) deltapi(psms *flow.Channel[SetArmTable], from string) (*flow.Channel[SetArmTable], string) {
	cfg := p.cfg
	name := nodeDeltapiAnnotate.Name
	p.addNode(name, from)
	out := apply(p.ex, name, psms, func(ctx context.Context, t SetArmTable) ([]SetArmTable, error) {
		var plates []string
		if s, ok := cfg.Set(t.Set); ok {
			plates = s.Plates
		}
		inv := &task.Invocation{
			Node:   nodeDeltapiAnnotate,
			Inputs: map[string]string{"psms": t.Path},
			Params: map[string]string{
				"set":    t.Set,
				"arm":    string(t.Arm),
				"plates": strings.Join(plates, " "),
			},
			Outputs: map[string]string{"annotated": "pi_psms.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []SetArmTable{t}, nil
		}
		return []SetArmTable{{Set: t.Set, Arm: t.Arm, Path: res.Outputs["annotated"]}}, nil
	})
	return out, name
}

// isoRatios computes per-channel isobaric ratios against each set's
// configured denominator channels. Decoy tables pass through untouched;
// a set without denominators is an identifiable configuration failure.
func (p *Pipeline) isoRatios(psms *flow.Channel[SetArmTable], from string) (*flow.Channel[SetArmTable], string) {
	cfg := p.cfg
	name := nodeIsoRatios.Name
	p.addNode(name, from)
	out := apply(p.ex, name, psms, func(ctx context.Context, t SetArmTable) ([]SetArmTable, error) {
		if t.Arm == fdr.ArmDecoy {
			return []SetArmTable{t}, nil
		}
		denoms, err := resolveDenominators(cfg, t.Set)
		if err != nil {
			return nil, err
		}
		inv := &task.Invocation{
			Node:   nodeIsoRatios,
			Inputs: map[string]string{"psms": t.Path},
			Params: map[string]string{
				"set":    t.Set,
				"plex":   string(cfg.Isobaric),
				"denoms": strings.Join(denoms, " "),
			},
			Outputs: map[string]string{"ratios": "iso_psms.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []SetArmTable{t}, nil
		}
		return []SetArmTable{{Set: t.Set, Arm: t.Arm, Path: res.Outputs["ratios"]}}, nil
	})
	return out, name
}

// peptideTable rolls PSMs up to peptides and applies the peptide
// confidence threshold, enforcing non-emptiness per set and arm.
func (p *Pipeline) peptideTable(psms *flow.Channel[SetArmTable], from string) (*flow.Channel[SetArmTable], string) {
	cfg := p.cfg
	name := nodePeptideTable.Name
	p.addNode(name, from)
	out := apply(p.ex, name, psms, func(ctx context.Context, t SetArmTable) ([]SetArmTable, error) {
		inv := &task.Invocation{
			Node:   nodePeptideTable,
			Inputs: map[string]string{"psms": t.Path},
			Params: map[string]string{
				"set": t.Set,
				"arm": string(t.Arm),
				"lvl": strconv.FormatFloat(cfg.PepConfLvl, 'g', -1, 64),
			},
			Outputs: map[string]string{
				"peptides": "peptides.tsv",
				"filtered": "filtered_peptides.tsv",
			},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		path := res.Outputs["filtered"]
		if err := fdr.CheckFiltered(path, t.Set, t.Arm, cfg.PSMConfLvl, cfg.PepConfLvl); err != nil {
			return nil, err
		}
		return []SetArmTable{{Set: t.Set, Arm: t.Arm, Path: path}}, nil
	})
	return out, name
}

// peptideMerge gathers every set's target peptide table into the single
// wide peptide deliverable.
func (p *Pipeline) peptideMerge(peptides *flow.Channel[SetArmTable], from string) *flow.Channel[string] {
	name := nodePeptideMerge.Name
	p.addNode(name, from)
	targets := flow.Filter("peptideTargets", peptides, func(t SetArmTable) bool { return t.Arm == fdr.ArmTarget })
	all := flow.ToList("peptideTablesAll", targets)
	return apply(p.ex, name, all, func(ctx context.Context, tables []SetArmTable) ([]string, error) {
		if len(tables) == 0 {
			return nil, nil
		}
		paths := make([]string, 0, len(tables))
		sets := make([]string, 0, len(tables))
		for _, t := range tables {
			paths = append(paths, t.Path)
			sets = append(sets, t.Set)
		}
		inv := &task.Invocation{
			Node:       nodePeptideMerge,
			InputLists: map[string][]string{"tables": paths},
			Params:     map[string]string{"sets": strings.Join(sets, " ")},
			Outputs:    map[string]string{"merged": "peptides_merged.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []string{res.Outputs["merged"]}, nil
	})
}

// accBranch wires one accession-type branch: per-set feature tables on
// both arms, target/decoy competition, merge across sets and the optional
// normalization and DEqMS tails.
func (p *Pipeline) accBranch(accName string, peptides *flow.Channel[SetArmTable], from string) {
	cfg := p.cfg
	acc := fdr.AccessionType(accName)

	var tableNode *task.Node
	switch acc {
	case fdr.AccProtein:
		tableNode = nodeProteinTable
	case fdr.AccGene:
		tableNode = nodeGeneTable
	case fdr.AccSymbol:
		tableNode = nodeSymbolTable
	default:
		return
	}

	p.addNode(tableNode.Name, from)
	features := apply(p.ex, tableNode.Name, peptides, func(ctx context.Context, t SetArmTable) ([]fdr.FeatureTable, error) {
		inv := &task.Invocation{
			Node:    tableNode,
			Inputs:  map[string]string{"peptides": t.Path},
			Params:  map[string]string{"set": t.Set, "arm": string(t.Arm)},
			Outputs: map[string]string{"table": "features.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []fdr.FeatureTable{{Set: t.Set, Acc: acc, Arm: t.Arm, Path: res.Outputs["table"]}}, nil
	})

	targets := flow.Filter(accName+"Targets", features, func(f fdr.FeatureTable) bool { return f.Arm == fdr.ArmTarget })
	decoys := flow.Filter(accName+"Decoys", features, func(f fdr.FeatureTable) bool { return f.Arm == fdr.ArmDecoy })
	pairs := fdr.PairTables(accName+"Competition", targets, decoys, p.ex.Warnings())

	fdrName := accName + "Fdr"
	compNode := fdrNode(fdrName, acc.Picked())
	p.addNode(fdrName, tableNode.Name)
	competed := apply(p.ex, fdrName, pairs, func(ctx context.Context, pair fdr.CompetitionPair) ([]SetTable, error) {
		score, err := fdr.ChooseScoreColumn(pair, "svm-score", "MSGFScore", p.ex.Warnings())
		if err != nil {
			return nil, err
		}
		inputs := map[string]string{"target": pair.Target.Path, "decoy": pair.Decoy.Path}
		if acc.Picked() {
			inputs["tfasta"] = cfg.TargetFasta
			inputs["dfasta"] = cfg.DecoyFasta
		}
		inv := &task.Invocation{
			Node:    compNode,
			Inputs:  inputs,
			Params:  map[string]string{"set": pair.Key.Set, "scorecol": score},
			Outputs: map[string]string{"table": "fdr_table.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []SetTable{{Set: pair.Key.Set, Path: res.Outputs["table"]}}, nil
	})

	mergeName := accName + "Merge"
	accMergeNode := mergeNode(mergeName)
	p.addNode(mergeName, fdrName)
	allTables := flow.ToList(accName+"FdrTables", competed)
	final := apply(p.ex, mergeName, allTables, func(ctx context.Context, tables []SetTable) ([]string, error) {
		if len(tables) == 0 {
			return nil, nil
		}
		paths := make([]string, 0, len(tables))
		sets := make([]string, 0, len(tables))
		for _, t := range tables {
			paths = append(paths, t.Path)
			sets = append(sets, t.Set)
		}
		inv := &task.Invocation{
			Node:       accMergeNode,
			InputLists: map[string][]string{"tables": paths},
			Params:     map[string]string{"sets": strings.Join(sets, " ")},
			Outputs:    map[string]string{"merged": accName + "s_merged.tsv"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []string{res.Outputs["merged"]}, nil
	})
	lastName := mergeName

	if cfg.Normalize {
		normName := accName + "Normalize"
		normNode := normalizeNode(normName)
		p.addNode(normName, lastName)
		final = p.singleTableStage(normName, normNode, final, "table", "normalized", "normalized.tsv")
		lastName = normName
	}
	if cfg.Deqms {
		deqName := accName + "Deqms"
		deqNode := deqmsNode(deqName)
		p.addNode(deqName, lastName)
		final = p.singleTableStage(deqName, deqNode, final, "table", "stats", "deqms.tsv")
	}

	p.accSinks[acc] = flow.NewSink(final)
}

// singleTableStage wires a one-in, one-out table transformation that
// passes its input through when the node is disabled.
func (p *Pipeline) singleTableStage(name string, node *task.Node, in *flow.Channel[string], inBinding, outBinding, outFile string) *flow.Channel[string] {
	return apply(p.ex, name, in, func(ctx context.Context, path string) ([]string, error) {
		inv := &task.Invocation{
			Node:    node,
			Inputs:  map[string]string{inBinding: path},
			Outputs: map[string]string{outBinding: outFile},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []string{path}, nil
		}
		return []string{res.Outputs[outBinding]}, nil
	})
}

// versionProbe records the toolchain versions for the run manifest. Best
// effort: a failure is a warning, never a run failure.
func (p *Pipeline) versionProbe() {
	p.addNode(nodeVersionProbe.Name)
	p.ex.Go(nodeVersionProbe.Name, func(ctx context.Context) error {
		inv := &task.Invocation{
			Node:    nodeVersionProbe,
			Outputs: map[string]string{"versions": "versions.txt"},
		}
		res, ok, err := p.ex.Invoke(ctx, inv)
		if err != nil || !ok {
			p.versions.Set("")
			return err
		}
		p.versions.Set(res.Outputs["versions"])
		return nil
	})
}

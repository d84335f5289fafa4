// Package fdr implements the target/decoy competition protocol: pairing
// the target and decoy feature tables per (set, accession-type) key,
// admitting only complete pairs into the competition node, choosing a
// usable score column and enforcing the post-filter emptiness contract.
// The competition algorithm itself is an external tool; this package
// owns its interface.
package fdr

import (
	"fmt"

	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/flow"
	"github.com/vk/quantflow/internal/tsv"
)

// Arm tags a feature table as the real-database or decoy-database side
// of the competition.
type Arm string

const (
	ArmTarget Arm = "target"
	ArmDecoy  Arm = "decoy"
)

// AccessionType is the granularity of the competed identifier.
type AccessionType string

const (
	AccPeptide AccessionType = "peptide"
	AccProtein AccessionType = "protein"
	AccGene    AccessionType = "gene"
	AccSymbol  AccessionType = "symbol"
)

// Picked reports whether this accession type competes with the picked
// FDR variant, which additionally needs the target/decoy FASTA databases
// to resolve shared peptide-to-gene mappings.
func (a AccessionType) Picked() bool {
	return a == AccGene || a == AccSymbol
}

// FeatureTable is one per-set, per-arm feature table flowing toward the
// competition.
type FeatureTable struct {
	Set  string
	Acc  AccessionType
	Arm  Arm
	Path string
}

// Key identifies one competition: a sample set at one accession type.
type Key struct {
	Set string
	Acc AccessionType
}

// CompetitionPair is a complete target/decoy pair admitted into the
// competition node.
type CompetitionPair struct {
	Key    Key
	Target FeatureTable
	Decoy  FeatureTable
}

// PairTables mixes the target and decoy table streams, groups by
// (set, accession-type) and admits only groups holding exactly one
// target and one decoy table. Incomplete keys cannot compete; they are
// dropped from the stream, with a warning recorded centrally rather than
// failing the run.
func PairTables(name string, targets, decoys *flow.Channel[FeatureTable], warnings *exec.Warnings) *flow.Channel[CompetitionPair] {
	mixed := flow.Mix(name+".mixed", targets, decoys)
	grouped := flow.GroupTuple(name+".grouped", mixed, func(t FeatureTable) Key {
		return Key{Set: t.Set, Acc: t.Acc}
	})

	out := flow.NewChannel[CompetitionPair](name + ".pairs")
	src := grouped.Subscribe()
	go func() {
		defer out.Close()
		for g := range src {
			pair, ok := completePair(g)
			if !ok {
				warnings.Add("fdrPairing", g.Key.Set, fmt.Sprintf(
					"no %s competition for set %s: need exactly one target and one decoy table, got %d",
					g.Key.Acc, g.Key.Set, len(g.Items)))
				continue
			}
			out.Emit(pair)
		}
	}()
	return out
}

// completePair validates the cardinality-2, both-arms contract.
func completePair(g flow.Group[Key, FeatureTable]) (CompetitionPair, bool) {
	if len(g.Items) != 2 {
		return CompetitionPair{}, false
	}
	pair := CompetitionPair{Key: g.Key}
	var haveTarget, haveDecoy bool
	for _, t := range g.Items {
		switch t.Arm {
		case ArmTarget:
			pair.Target = t
			haveTarget = true
		case ArmDecoy:
			pair.Decoy = t
			haveDecoy = true
		}
	}
	if !haveTarget || !haveDecoy {
		return CompetitionPair{}, false
	}
	return pair, true
}

// ChooseScoreColumn returns the primary score column when it carries
// informative variance on both arms, and otherwise falls back to the
// secondary raw score column, recording the substitution as a warning.
func ChooseScoreColumn(pair CompetitionPair, primary, secondary string, warnings *exec.Warnings) (string, error) {
	for _, table := range []FeatureTable{pair.Target, pair.Decoy} {
		ok, err := tsv.ColumnHasVariance(table.Path, primary)
		if err != nil {
			return "", fmt.Errorf("fdr: inspecting %s score column of set %s: %w", table.Arm, table.Set, err)
		}
		if !ok {
			warnings.Add("fdrCompetition", pair.Key.Set, fmt.Sprintf(
				"%s %s table has no informative %s values, falling back to %s",
				pair.Key.Acc, table.Arm, primary, secondary))
			return secondary, nil
		}
	}
	return primary, nil
}

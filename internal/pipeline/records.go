// Package pipeline wires the analysis graph: typed records flowing
// through flow channels, task nodes invoked once per record, and the
// conditional topology that run configuration carves out of the full
// graph. The builder registers every wired node in a Topology so the
// shape of a run can be inspected without executing anything.
package pipeline

import (
	"fmt"

	"github.com/vk/quantflow/internal/config"
	"github.com/vk/quantflow/internal/fdr"
)

// Mzml is one raw spectra file annotated with its sample set and, when
// fractionation is configured, the plate it was separated on.
type Mzml struct {
	Set      string
	Plate    string
	Fraction int
	Path     string
}

// SearchResult is the per-mzML output of the database search: the mzIdentML
// identification file and its flat PSM table.
type SearchResult struct {
	Set  string
	Mzid string
	Psms string
}

// QuantFeature is one mzML's quantification feature table, paired with the
// spectra file it came from so the lookup builder can align them.
type QuantFeature struct {
	Set      string
	Mzml     string
	Features string
}

// SetArmTable is a per-set table on one arm of the target/decoy split.
// Most of the PSM and peptide stages transform streams of these.
type SetArmTable struct {
	Set  string
	Arm  fdr.Arm
	Path string
}

// SetTable is a per-set table once the arms have been competed away.
type SetTable struct {
	Set  string
	Path string
}

// MissingDenominatorError reports a set that reached isobaric ratio
// computation without configured denominator channels. The message names
// the set so the user knows which denoms block to add.
type MissingDenominatorError struct {
	Set string
}

func (e *MissingDenominatorError) Error() string {
	return fmt.Sprintf("set %s has isobaric quantification but no denominator channels; add a denoms %q block", e.Set, e.Set)
}

// resolveDenominators returns the denominator channels for a set, or an
// identifiable error when the set has none configured.
func resolveDenominators(cfg *config.Run, set string) ([]string, error) {
	chans, ok := cfg.Denoms[set]
	if !ok || len(chans) == 0 {
		return nil, &MissingDenominatorError{Set: set}
	}
	return chans, nil
}

// sourceRecords expands the configured sets into one Mzml record per
// spectra file. Without fractionation every file lands on the synthetic
// "noplates" plate so downstream partitioning never special-cases it.
func sourceRecords(cfg *config.Run) []Mzml {
	var recs []Mzml
	for _, s := range cfg.Sets {
		for i, path := range s.Mzmls {
			plate := "noplates"
			if cfg.Fractions && len(s.Plates) > 0 {
				plate = s.Plates[i%len(s.Plates)]
			}
			recs = append(recs, Mzml{Set: s.Name, Plate: plate, Fraction: i + 1, Path: path})
		}
	}
	return recs
}

// partitionKeys lists the distinct plate partitions of a run, in source
// order. An unfractionated run has "noplates" as its sole key. These end
// up in the QC report.
func partitionKeys(recs []Mzml) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range recs {
		if _, ok := seen[r.Plate]; ok {
			continue
		}
		seen[r.Plate] = struct{}{}
		keys = append(keys, r.Plate)
	}
	return keys
}

package config

import (
	"fmt"
	"os"
)

// Validate checks the structural consistency of the configuration.
// Contradictory or missing flags fail fast, before any node runs.
func (r *Run) Validate() error {
	if r.OutDir == "" {
		return fmt.Errorf("config: outdir is required")
	}
	if len(r.Sets) == 0 {
		return fmt.Errorf("config: at least one set block is required")
	}

	seen := make(map[string]struct{}, len(r.Sets))
	for _, s := range r.Sets {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("config: duplicate set name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if len(s.Mzmls) == 0 {
			return fmt.Errorf("config: set %q has no mzML inputs", s.Name)
		}
		if r.Fractions && len(s.Plates) == 0 {
			return fmt.Errorf("config: fractions enabled but set %q declares no plates", s.Name)
		}
	}

	if r.PSMConfLvl <= 0 || r.PSMConfLvl > 1 {
		return fmt.Errorf("config: psmconflvl must be in (0,1], got %v", r.PSMConfLvl)
	}
	if r.PepConfLvl <= 0 || r.PepConfLvl > 1 {
		return fmt.Errorf("config: pepconflvl must be in (0,1], got %v", r.PepConfLvl)
	}

	if r.NoQuant && r.QuantLookup != "" {
		return fmt.Errorf("config: noquant and quantlookup are mutually exclusive")
	}
	if r.OnlyPeptides && (r.Genes || r.Symbols) {
		return fmt.Errorf("config: onlypeptides excludes the gene and symbol branches")
	}
	if r.TargetFasta == "" || r.DecoyFasta == "" {
		return fmt.Errorf("config: target_fasta and decoy_fasta are required")
	}

	for set := range r.Denoms {
		if _, ok := r.Set(set); !ok {
			return fmt.Errorf("config: denoms block references unknown set %q", set)
		}
	}
	if len(r.Denoms) > 0 && r.Isobaric == PlexNone {
		return fmt.Errorf("config: denoms given but isobaric labeling is not configured")
	}

	return nil
}

// ValidateFiles stats every declared input file. Kept separate from
// Validate so structural checks stay cheap and hermetic in tests; the
// app runs both before building the graph.
func (r *Run) ValidateFiles() error {
	var paths []string
	for _, s := range r.Sets {
		paths = append(paths, s.Mzmls...)
	}
	if r.QuantLookup != "" {
		paths = append(paths, r.QuantLookup)
	}
	if r.TargetFasta != "" {
		paths = append(paths, r.TargetFasta)
	}
	if r.DecoyFasta != "" {
		paths = append(paths, r.DecoyFasta)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config: required input file %s: %w", p, err)
		}
	}
	return nil
}

// Package config defines the immutable run configuration every
// conditional edge in the pipeline topology is a pure function of.
// Configuration is loaded once, validated before any node runs, and
// never re-evaluated per record.
package config

import "fmt"

// IsobaricPlex is the closed set of supported isobaric labeling schemes.
// An empty value means the run is not isobaric.
type IsobaricPlex string

const (
	PlexNone     IsobaricPlex = ""
	PlexTMT6     IsobaricPlex = "tmt6plex"
	PlexTMT10    IsobaricPlex = "tmt10plex"
	PlexTMT11    IsobaricPlex = "tmt11plex"
	PlexTMT16    IsobaricPlex = "tmt16plex"
	PlexTMT18    IsobaricPlex = "tmt18plex"
	PlexITRAQ4   IsobaricPlex = "itraq4plex"
	PlexITRAQ8   IsobaricPlex = "itraq8plex"
)

// ParseIsobaricPlex maps a configuration string onto the closed plex
// enum. Unknown labels fail loudly instead of producing a malformed
// downstream command line.
func ParseIsobaricPlex(s string) (IsobaricPlex, error) {
	switch IsobaricPlex(s) {
	case PlexNone, PlexTMT6, PlexTMT10, PlexTMT11, PlexTMT16, PlexTMT18, PlexITRAQ4, PlexITRAQ8:
		return IsobaricPlex(s), nil
	}
	return PlexNone, fmt.Errorf("config: unknown isobaric plex %q", s)
}

// ChannelCount returns the number of reporter channels for the plex.
// The switch is exhaustive over the enum; reaching the default means a
// value bypassed ParseIsobaricPlex, which is a programmer error.
func (p IsobaricPlex) ChannelCount() int {
	switch p {
	case PlexNone:
		return 0
	case PlexTMT6:
		return 6
	case PlexTMT10:
		return 10
	case PlexTMT11:
		return 11
	case PlexTMT16:
		return 16
	case PlexTMT18:
		return 18
	case PlexITRAQ4:
		return 4
	case PlexITRAQ8:
		return 8
	}
	panic(fmt.Sprintf("config: unmapped isobaric plex %q", string(p)))
}

// Instrument is the closed set of supported mass spectrometers.
type Instrument string

const (
	InstrumentVelos   Instrument = "velos"
	InstrumentQE      Instrument = "qe"
	InstrumentTimsTOF Instrument = "timstof"
)

// ParseInstrument maps a configuration string onto the instrument enum.
func ParseInstrument(s string) (Instrument, error) {
	switch Instrument(s) {
	case InstrumentVelos, InstrumentQE, InstrumentTimsTOF:
		return Instrument(s), nil
	}
	return "", fmt.Errorf("config: unknown instrument %q", s)
}

// SearchFlag returns the search engine's instrument code. Exhaustive over
// the enum.
func (i Instrument) SearchFlag() string {
	switch i {
	case InstrumentVelos:
		return "1"
	case InstrumentQE:
		return "3"
	case InstrumentTimsTOF:
		return "2"
	}
	panic(fmt.Sprintf("config: unmapped instrument %q", string(i)))
}

// SampleSet is one named group of mzML inputs analyzed and reported
// together.
type SampleSet struct {
	Name   string
	Mzmls  []string
	Plates []string
}

// Run is the complete, immutable configuration of one pipeline run.
type Run struct {
	OutDir string

	Isobaric   IsobaricPlex
	Instrument Instrument

	Fractions    bool
	Genes        bool
	Symbols      bool
	OnlyPeptides bool
	NoQuant      bool
	Normalize    bool
	Deqms        bool

	// QuantLookup points at a pre-built quant lookup artifact. When set,
	// the quant-extraction and lookup-construction nodes are replaced by
	// a passthrough load of this file.
	QuantLookup string

	PSMConfLvl float64
	PepConfLvl float64

	TargetFasta string
	DecoyFasta  string

	// Denoms maps set name to the denominator reporter channels used for
	// isobaric ratio computation. A set without an entry fails at ratio
	// time, not here: partial maps are legal configurations.
	Denoms map[string][]string

	Sets []SampleSet
}

// Set returns the sample set with the given name.
func (r *Run) Set(name string) (SampleSet, bool) {
	for _, s := range r.Sets {
		if s.Name == name {
			return s, true
		}
	}
	return SampleSet{}, false
}

// Quant reports whether any quantification branch exists at all.
func (r *Run) Quant() bool { return !r.NoQuant }

// AccessionBranches lists the accession-type branches beyond peptides
// that the topology carries, in build order.
func (r *Run) AccessionBranches() []string {
	if r.OnlyPeptides {
		return nil
	}
	branches := []string{"protein"}
	if r.Genes {
		branches = append(branches, "gene")
	}
	if r.Symbols {
		branches = append(branches, "symbol")
	}
	return branches
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// fileModel mirrors the HCL run-configuration file. It is decode-only;
// Load converts it into the validated Run struct.
type fileModel struct {
	OutDir       string  `hcl:"outdir"`
	Isobaric     string  `hcl:"isobaric,optional"`
	Instrument   string  `hcl:"instrument,optional"`
	Fractions    bool    `hcl:"fractions,optional"`
	HiRIEF       bool    `hcl:"hirief,optional"`
	Genes        bool    `hcl:"genes,optional"`
	Symbols      bool    `hcl:"symbols,optional"`
	OnlyPeptides bool    `hcl:"onlypeptides,optional"`
	NoQuant      bool    `hcl:"noquant,optional"`
	Normalize    bool    `hcl:"normalize,optional"`
	Deqms        bool    `hcl:"deqms,optional"`
	QuantLookup  string  `hcl:"quantlookup,optional"`
	PSMConfLvl   float64 `hcl:"psmconflvl,optional"`
	PepConfLvl   float64 `hcl:"pepconflvl,optional"`
	TargetFasta  string  `hcl:"target_fasta,optional"`
	DecoyFasta   string  `hcl:"decoy_fasta,optional"`

	Denoms []denomBlock `hcl:"denoms,block"`
	Sets   []setBlock   `hcl:"set,block"`
}

type denomBlock struct {
	Set      string   `hcl:"set,label"`
	Channels []string `hcl:"channels"`
}

type setBlock struct {
	Name   string   `hcl:"name,label"`
	Mzmls  []string `hcl:"mzmls"`
	Plates []string `hcl:"plates,optional"`
}

// Defaults applied when the file leaves thresholds unset.
const (
	defaultPSMConfLvl = 0.01
	defaultPepConfLvl = 0.01
)

// Load parses and validates a run-configuration HCL file. Any problem is
// a configuration error and fails before a single node runs.
func Load(path string) (*Run, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source into a validated Run. filename is used only
// for diagnostics.
func Parse(src []byte, filename string) (*Run, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", filename, diags)
	}

	var model fileModel
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &model); diags.HasErrors() {
		return nil, fmt.Errorf("config: decoding %s: %w", filename, diags)
	}

	run, err := fromModel(&model)
	if err != nil {
		return nil, err
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

// evalContext exposes the process environment to configuration
// expressions as env.NAME, so data paths need not be hardcoded into the
// run file.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func fromModel(m *fileModel) (*Run, error) {
	plex, err := ParseIsobaricPlex(m.Isobaric)
	if err != nil {
		return nil, err
	}

	instrument := InstrumentQE
	if m.Instrument != "" {
		instrument, err = ParseInstrument(m.Instrument)
		if err != nil {
			return nil, err
		}
	}

	if m.PSMConfLvl == 0 {
		m.PSMConfLvl = defaultPSMConfLvl
	}
	if m.PepConfLvl == 0 {
		m.PepConfLvl = defaultPepConfLvl
	}

	denoms := make(map[string][]string, len(m.Denoms))
	for _, d := range m.Denoms {
		if _, dup := denoms[d.Set]; dup {
			return nil, fmt.Errorf("config: duplicate denoms block for set %q", d.Set)
		}
		denoms[d.Set] = d.Channels
	}

	sets := make([]SampleSet, 0, len(m.Sets))
	for _, s := range m.Sets {
		sets = append(sets, SampleSet{Name: s.Name, Mzmls: s.Mzmls, Plates: s.Plates})
	}

	return &Run{
		OutDir:       m.OutDir,
		Isobaric:     plex,
		Instrument:   instrument,
		Fractions:    m.Fractions || m.HiRIEF,
		Genes:        m.Genes,
		Symbols:      m.Symbols,
		OnlyPeptides: m.OnlyPeptides,
		NoQuant:      m.NoQuant,
		Normalize:    m.Normalize,
		Deqms:        m.Deqms,
		QuantLookup:  m.QuantLookup,
		PSMConfLvl:   m.PSMConfLvl,
		PepConfLvl:   m.PepConfLvl,
		TargetFasta:  m.TargetFasta,
		DecoyFasta:   m.DecoyFasta,
		Denoms:       denoms,
		Sets:         sets,
	}, nil
}

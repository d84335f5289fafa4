// Package task wraps one external-tool invocation behind a declared
// interface: named inputs, named outputs, a command template, an optional
// execution predicate and a resource request. The engine never looks
// inside a tool; it only resolves files in, captures exit status and
// collects the declared files out.
package task

import (
	"context"
	"fmt"

	"github.com/vk/quantflow/internal/config"
)

// Resources declares what one invocation needs from the global budget.
type Resources struct {
	CPUs  int
	MemMB int
}

// Node is one task node in the pipeline graph. Nodes are identified by a
// stable name; the same node may be invoked many times (once per record
// on its input channel).
type Node struct {
	Name string

	// Script is the command template. Placeholders {in:name}, {out:name}
	// and {p:name} are substituted from the invocation's bindings; an
	// unresolved placeholder fails the invocation before the tool runs.
	Script string

	// When gates the node on run configuration. A nil predicate means
	// always; a false result means the node is skipped entirely and its
	// declared outputs are never produced.
	When func(*config.Run) bool

	// Tolerated marks best-effort nodes (version probes and similar): a
	// failure is recorded as a warning instead of failing the run.
	Tolerated bool

	Resources Resources
}

// Enabled evaluates the when predicate against the run configuration.
func (n *Node) Enabled(cfg *config.Run) bool {
	return n.When == nil || n.When(cfg)
}

// Invocation is one resolved execution of a node: concrete file paths
// for every input binding, scalar params and the declared output
// filenames the tool must produce.
type Invocation struct {
	Node       *Node
	Inputs     map[string]string   // binding -> resolved input path
	InputLists map[string][]string // binding -> resolved input paths (gather nodes)
	Params     map[string]string   // scalar parameters
	Outputs    map[string]string   // binding -> output filename (relative to the invocation dir)
}

// FlatInputs flattens single and list inputs into one binding->path map,
// the shape the signature hash consumes. List entries get an index
// suffix so reordering a list changes the signature.
func (inv *Invocation) FlatInputs() map[string]string {
	flat := make(map[string]string, len(inv.Inputs)+len(inv.InputLists))
	for k, v := range inv.Inputs {
		flat[k] = v
	}
	for k, list := range inv.InputLists {
		for i, v := range list {
			flat[fmt.Sprintf("%s[%d]", k, i)] = v
		}
	}
	return flat
}

// Result is what an invocation produced.
type Result struct {
	Outputs    map[string]string // binding -> absolute produced path
	ExitCode   int
	StderrTail string
	FromCache  bool
}

// Runner executes invocations. The production runner shells out through
// the cache; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, inv *Invocation) (*Result, error)
}

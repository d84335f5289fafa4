package exec

import "sync"

// Warning is a non-fatal condition surfaced in the final QC report
// instead of aborting the run: a fallback score column, a key missing
// its target or decoy counterpart, an empty optional table.
type Warning struct {
	Node    string
	Set     string
	Message string
}

// Warnings collects warnings from all branches. Safe for concurrent use.
type Warnings struct {
	mu    sync.Mutex
	items []Warning
}

// Add records one warning.
func (w *Warnings) Add(node, set, message string) {
	w.mu.Lock()
	w.items = append(w.items, Warning{Node: node, Set: set, Message: message})
	w.mu.Unlock()
}

// Items returns a copy of everything collected so far.
func (w *Warnings) Items() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Warning, len(w.items))
	copy(out, w.items)
	return out
}

package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry records what one committed invocation produced.
type Entry struct {
	Signature string            `yaml:"signature"`
	Node      string            `yaml:"node"`
	CreatedAt time.Time         `yaml:"created_at"`
	Outputs   map[string]string `yaml:"outputs"` // binding name -> artifact filename
}

// Store is a persistent signature-to-artifact mapping on the local
// filesystem. Writers take an exclusive per-signature lock, so no two
// nodes race to commit the same entry; entries become visible only once
// their metadata file exists, making half-written commits invisible.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[Signature]*sync.Mutex
}

const entryFile = "entry.yaml"

// NewStore opens (creating if needed) a cache store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating store root: %w", err)
	}
	return &Store{root: dir, locks: make(map[Signature]*sync.Mutex)}, nil
}

// Lock takes the exclusive writer lock for a signature and returns the
// unlock function.
func (s *Store) Lock(sig Signature) func() {
	s.mu.Lock()
	l, ok := s.locks[sig]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sig] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Lookup returns the committed entry for a signature, if one exists.
func (s *Store) Lookup(sig Signature) (*Entry, bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.entryDir(sig), entryFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: reading entry %s: %w", sig, err)
	}
	var e Entry
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("cache: decoding entry %s: %w", sig, err)
	}
	return &e, true, nil
}

// Commit copies the produced output files into the store and writes the
// entry metadata last, as the commit marker. outputs maps binding name to
// the produced file's path.
func (s *Store) Commit(sig Signature, node string, outputs map[string]string) (*Entry, error) {
	dir := s.entryDir(sig)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating entry dir: %w", err)
	}

	e := &Entry{
		Signature: string(sig),
		Node:      node,
		CreatedAt: time.Now().UTC(),
		Outputs:   make(map[string]string, len(outputs)),
	}
	for name, src := range outputs {
		artifact := filepath.Base(src)
		if err := copyFile(src, filepath.Join(dir, artifact)); err != nil {
			return nil, fmt.Errorf("cache: storing output %s of %s: %w", name, node, err)
		}
		e.Outputs[name] = artifact
	}

	raw, err := yaml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cache: encoding entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, entryFile), raw, 0o644); err != nil {
		return nil, fmt.Errorf("cache: writing entry: %w", err)
	}
	return e, nil
}

// Restore copies an entry's artifacts into destDir and returns binding
// name -> restored path. Restored files are byte-identical to what the
// original invocation produced.
func (s *Store) Restore(e *Entry, destDir string) (map[string]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating restore dir: %w", err)
	}
	dir := s.entryDir(Signature(e.Signature))
	restored := make(map[string]string, len(e.Outputs))
	for name, artifact := range e.Outputs {
		dst := filepath.Join(destDir, artifact)
		if err := copyFile(filepath.Join(dir, artifact), dst); err != nil {
			return nil, fmt.Errorf("cache: restoring %s of %s: %w", name, e.Node, err)
		}
		restored[name] = dst
	}
	return restored, nil
}

func (s *Store) entryDir(sig Signature) string {
	return filepath.Join(s.root, string(sig))
}

func copyFile(src, dst string) error {
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

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestComputeSignatureDeterministic(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "psms.tsv", "Peptide\tScore\nAAAK\t3\n")

	params := map[string]string{"set": "A", "conflvl": "0.01"}
	inputs := map[string]string{"psms": in}

	a, err := ComputeSignature("msstitch conffilt {in:psms}", params, inputs)
	require.NoError(t, err)
	b, err := ComputeSignature("msstitch conffilt {in:psms}", params, inputs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeSignatureSensitivity(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "psms.tsv", "Peptide\tScore\nAAAK\t3\n")
	inputs := map[string]string{"psms": in}
	params := map[string]string{"set": "A"}

	base, err := ComputeSignature("cmd", params, inputs)
	require.NoError(t, err)

	t.Run("script change", func(t *testing.T) {
		sig, err := ComputeSignature("cmd --extra", params, inputs)
		require.NoError(t, err)
		assert.NotEqual(t, base, sig)
	})

	t.Run("param change", func(t *testing.T) {
		sig, err := ComputeSignature("cmd", map[string]string{"set": "B"}, inputs)
		require.NoError(t, err)
		assert.NotEqual(t, base, sig)
	})

	t.Run("input content change", func(t *testing.T) {
		changed := writeFile(t, dir, "psms2.tsv", "Peptide\tScore\nAAAK\t4\n")
		sig, err := ComputeSignature("cmd", params, map[string]string{"psms": changed})
		require.NoError(t, err)
		assert.NotEqual(t, base, sig)
	})

	t.Run("missing input file", func(t *testing.T) {
		_, err := ComputeSignature("cmd", params, map[string]string{"psms": filepath.Join(dir, "gone.tsv")})
		assert.Error(t, err)
	})
}

func TestStoreRoundTrip(t *testing.T) {
	work := t.TempDir()
	store, err := NewStore(filepath.Join(work, "cache"))
	require.NoError(t, err)

	sig := Signature("abc123")

	_, ok, err := store.Lookup(sig)
	require.NoError(t, err)
	assert.False(t, ok)

	out := writeFile(t, work, "peptides.tsv", "Peptide\nAAAK\n")
	_, err = store.Commit(sig, "peptideTable", map[string]string{"peptides": out})
	require.NoError(t, err)

	entry, ok, err := store.Lookup(sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "peptideTable", entry.Node)

	restoreDir := filepath.Join(work, "restored")
	restored, err := store.Restore(entry, restoreDir)
	require.NoError(t, err)

	got, err := os.ReadFile(restored["peptides"])
	require.NoError(t, err)
	assert.Equal(t, "Peptide\nAAAK\n", string(got))
}

func TestStoreLockIsExclusivePerKey(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	sig := Signature("samekey")
	unlock := store.Lock(sig)

	acquired := make(chan struct{})
	go func() {
		u := store.Lock(sig)
		close(acquired)
		u()
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while held")
	default:
	}

	unlock()
	<-acquired
}

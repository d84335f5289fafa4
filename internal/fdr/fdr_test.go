package fdr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/flow"
)

func table(set string, acc AccessionType, arm Arm) FeatureTable {
	return FeatureTable{Set: set, Acc: acc, Arm: arm, Path: string(arm) + ".tsv"}
}

func TestPairTablesAdmitsCompletePairsOnly(t *testing.T) {
	targets := flow.NewChannel[FeatureTable]("targets")
	decoys := flow.NewChannel[FeatureTable]("decoys")
	warnings := &exec.Warnings{}
	sink := flow.NewSink(PairTables("proteinFDR", targets, decoys, warnings))

	go targets.EmitAll([]FeatureTable{
		table("A", AccProtein, ArmTarget),
		table("B", AccProtein, ArmTarget), // no decoy counterpart
	})
	go decoys.EmitAll([]FeatureTable{
		table("A", AccProtein, ArmDecoy),
		table("C", AccProtein, ArmDecoy), // no target counterpart
	})

	pairs := sink.Wait()
	require.Len(t, pairs, 1)
	assert.Equal(t, Key{Set: "A", Acc: AccProtein}, pairs[0].Key)
	assert.Equal(t, ArmTarget, pairs[0].Target.Arm)
	assert.Equal(t, ArmDecoy, pairs[0].Decoy.Arm)

	// Incomplete keys are dropped, not fatal, but recorded.
	items := warnings.Items()
	require.Len(t, items, 2)
	sets := []string{items[0].Set, items[1].Set}
	assert.ElementsMatch(t, []string{"B", "C"}, sets)
}

func TestPairTablesRejectsSameArmTwice(t *testing.T) {
	targets := flow.NewChannel[FeatureTable]("targets")
	decoys := flow.NewChannel[FeatureTable]("decoys")
	warnings := &exec.Warnings{}
	sink := flow.NewSink(PairTables("geneFDR", targets, decoys, warnings))

	// Two targets under one key: cardinality is 2 but arms are wrong.
	go targets.EmitAll([]FeatureTable{
		table("A", AccGene, ArmTarget),
		table("A", AccGene, ArmTarget),
	})
	go decoys.EmitAll(nil)

	assert.Empty(t, sink.Wait())
	assert.Len(t, warnings.Items(), 1)
}

func TestPairTablesKeysBySetAndAccessionType(t *testing.T) {
	targets := flow.NewChannel[FeatureTable]("targets")
	decoys := flow.NewChannel[FeatureTable]("decoys")
	sink := flow.NewSink(PairTables("fdr", targets, decoys, &exec.Warnings{}))

	go targets.EmitAll([]FeatureTable{
		table("A", AccProtein, ArmTarget),
		table("A", AccGene, ArmTarget),
	})
	go decoys.EmitAll([]FeatureTable{
		table("A", AccProtein, ArmDecoy),
		table("A", AccGene, ArmDecoy),
	})

	pairs := sink.Wait()
	require.Len(t, pairs, 2)
	keys := []Key{pairs[0].Key, pairs[1].Key}
	assert.ElementsMatch(t, []Key{
		{Set: "A", Acc: AccProtein},
		{Set: "A", Acc: AccGene},
	}, keys)
}

func TestAccessionTypePicked(t *testing.T) {
	assert.False(t, AccProtein.Picked())
	assert.False(t, AccPeptide.Picked())
	assert.True(t, AccGene.Picked())
	assert.True(t, AccSymbol.Picked())
}

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChooseScoreColumnPrimary(t *testing.T) {
	target := writeTable(t, "t.tsv", "svm-score\traw-score\n1.2\t100\n")
	decoy := writeTable(t, "d.tsv", "svm-score\traw-score\n-0.5\t40\n")

	warnings := &exec.Warnings{}
	pair := CompetitionPair{
		Key:    Key{Set: "A", Acc: AccProtein},
		Target: FeatureTable{Set: "A", Acc: AccProtein, Arm: ArmTarget, Path: target},
		Decoy:  FeatureTable{Set: "A", Acc: AccProtein, Arm: ArmDecoy, Path: decoy},
	}

	col, err := ChooseScoreColumn(pair, "svm-score", "raw-score", warnings)
	require.NoError(t, err)
	assert.Equal(t, "svm-score", col)
	assert.Empty(t, warnings.Items())
}

func TestChooseScoreColumnFallsBackOnDeadColumn(t *testing.T) {
	target := writeTable(t, "t.tsv", "svm-score\traw-score\n0\t100\n0\t90\n")
	decoy := writeTable(t, "d.tsv", "svm-score\traw-score\n-0.5\t40\n")

	warnings := &exec.Warnings{}
	pair := CompetitionPair{
		Key:    Key{Set: "A", Acc: AccProtein},
		Target: FeatureTable{Set: "A", Acc: AccProtein, Arm: ArmTarget, Path: target},
		Decoy:  FeatureTable{Set: "A", Acc: AccProtein, Arm: ArmDecoy, Path: decoy},
	}

	col, err := ChooseScoreColumn(pair, "svm-score", "raw-score", warnings)
	require.NoError(t, err)
	assert.Equal(t, "raw-score", col)

	items := warnings.Items()
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Message, "falling back to raw-score")
}

func TestCheckFiltered(t *testing.T) {
	t.Run("rows survive", func(t *testing.T) {
		path := writeTable(t, "psms.tsv", "Peptide\tq-value\nAAAK\t0.001\n")
		assert.NoError(t, CheckFiltered(path, "A", ArmTarget, 0.01, 0.01))
	})

	t.Run("empty after filtering", func(t *testing.T) {
		path := writeTable(t, "psms.tsv", "Peptide\tq-value\n")
		err := CheckFiltered(path, "B", ArmTarget, 0.01, 0.05)
		require.Error(t, err)

		var te *ThresholdEmptyError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "B", te.Set)
		assert.Contains(t, err.Error(), "set B")
		assert.Contains(t, err.Error(), "psmconflvl=0.01")
		assert.Contains(t, err.Error(), "pepconflvl=0.05")
	})
}

package fdr

import (
	"fmt"

	"github.com/vk/quantflow/internal/tsv"
)

// ThresholdEmptyError reports a set whose filtered table kept zero rows
// after FDR thresholding. This is a user-facing condition: the message
// names the set and both thresholds so the user can loosen them.
type ThresholdEmptyError struct {
	Set        string
	Arm        Arm
	PSMConfLvl float64
	PepConfLvl float64
}

func (e *ThresholdEmptyError) Error() string {
	return fmt.Sprintf(
		"set %s (%s) has no PSMs left after filtering at psmconflvl=%v and pepconflvl=%v; consider raising the thresholds",
		e.Set, e.Arm, e.PSMConfLvl, e.PepConfLvl)
}

// CheckFiltered fails a set's branch when its filtered table is empty.
func CheckFiltered(path, set string, arm Arm, psmConfLvl, pepConfLvl float64) error {
	n, err := tsv.RowCount(path)
	if err != nil {
		return fmt.Errorf("fdr: counting filtered rows for set %s: %w", set, err)
	}
	if n == 0 {
		return &ThresholdEmptyError{Set: set, Arm: arm, PSMConfLvl: psmConfLvl, PepConfLvl: pepConfLvl}
	}
	return nil
}

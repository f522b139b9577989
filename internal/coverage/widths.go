package coverage

import (
	cerrors "covdiff/internal/errors"
)

// WidthConflict is a class entry whose probe width disagrees with the
// width the build expects for that class.
type WidthConflict struct {
	Execution string `json:"execution"`
	Class     string `json:"class"`
	Width     int    `json:"width"`
	Want      int    `json:"want"`
}

// CheckWidths fails with DIMENSION_MISMATCH on the first class entry of
// execs whose width disagrees with widths. Classes missing from widths are
// added with the width they are first seen at, so later executions must
// agree with earlier ones. widths is modified.
func CheckWidths(execs []Execution, widths map[string]int) error {
	for i, e := range execs {
		for _, class := range e.Classes.Classes() {
			got := e.Classes[class].Width()
			want, ok := widths[class]
			if !ok {
				widths[class] = got
				continue
			}
			if got != want {
				return cerrors.Newf(cerrors.DimensionMismatch,
					"execution %d: class %s has %d probes, build has %d", i, class, got, want)
			}
		}
	}
	return nil
}

// Reconcile drops every class entry of execs whose width disagrees with
// widths, returning the surviving executions and what was dropped. A class
// missing from widths takes the width of its first occurrence in execs.
// Neither execs nor widths is modified.
func Reconcile(execs []Execution, widths map[string]int) ([]Execution, []WidthConflict) {
	expected := make(map[string]int, len(widths))
	for class, w := range widths {
		expected[class] = w
	}

	var conflicts []WidthConflict
	out := make([]Execution, len(execs))
	for i, e := range execs {
		out[i] = e
		var kept ClassProbes
		for _, class := range e.Classes.Classes() {
			got := e.Classes[class].Width()
			want, ok := expected[class]
			if !ok {
				expected[class] = got
				continue
			}
			if got == want {
				continue
			}
			if kept == nil {
				kept = e.Classes.Clone()
			}
			delete(kept, class)
			conflicts = append(conflicts, WidthConflict{Execution: e.ID, Class: class, Width: got, Want: want})
		}
		if kept != nil {
			out[i].Classes = kept
		}
	}
	return out, conflicts
}

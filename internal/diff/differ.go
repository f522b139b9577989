package diff

import (
	"slices"
)

// SortMethods sorts methods in place by signature order.
func SortMethods(methods []Method) {
	slices.SortStableFunc(methods, func(a, b Method) int {
		return a.Signature.Compare(b.Signature)
	})
}

// IsSorted reports whether methods are already in signature order.
func IsSorted(methods []Method) bool {
	return slices.IsSortedFunc(methods, func(a, b Method) int {
		return a.Signature.Compare(b.Signature)
	})
}

// sorted returns methods in signature order, copying only when the input
// is not already sorted.
func sorted(methods []Method) []Method {
	if IsSorted(methods) {
		return methods
	}
	out := slices.Clone(methods)
	SortMethods(out)
	return out
}

// Diff classifies every method of target and baseline into exactly one of
// new, modified, deleted or unaffected. Inputs are not modified.
func Diff(target, baseline []Method) *ChangeSet {
	t := sorted(target)
	b := sorted(baseline)
	cs := &ChangeSet{
		New:        []Method{},
		Modified:   []Method{},
		Deleted:    []Method{},
		Unaffected: []Method{},
	}

	i, j := 0, 0
	for i < len(t) && j < len(b) {
		switch c := t[i].Signature.Compare(b[j].Signature); {
		case c < 0:
			cs.New = append(cs.New, t[i])
			i++
		case c > 0:
			cs.Deleted = append(cs.Deleted, b[j])
			j++
		default:
			if unaffected(t[i], b[j]) {
				cs.Unaffected = append(cs.Unaffected, t[i])
			} else {
				cs.Modified = append(cs.Modified, t[i])
			}
			i++
			j++
		}
	}
	cs.New = append(cs.New, t[i:]...)
	cs.Deleted = append(cs.Deleted, b[j:]...)

	return cs
}

// unaffected: equal checksums and every lambda hash of the target method is
// present among the baseline's lambda hashes (compared by value).
func unaffected(target, baseline Method) bool {
	if target.Checksum != baseline.Checksum {
		return false
	}
	if len(target.LambdaHashes) == 0 {
		return true
	}
	known := make(map[string]struct{}, len(baseline.LambdaHashes))
	for _, h := range baseline.LambdaHashes {
		known[h] = struct{}{}
	}
	for _, h := range target.LambdaHashes {
		if _, ok := known[h]; !ok {
			return false
		}
	}
	return true
}

// Index maps signatures to methods for lookups across builds.
type Index map[Signature]Method

// NewIndex builds an Index over methods. Later duplicates win.
func NewIndex(methods []Method) Index {
	idx := make(Index, len(methods))
	for _, m := range methods {
		idx[m.Signature] = m
	}
	return idx
}

// AssignProbeRanges fills ProbeStart for methods that only carry a probe
// count: within each owner, in input order, a method starts where the
// previous one ended. The input slice is updated in place.
func AssignProbeRanges(methods []Method) {
	next := make(map[string]int)
	for i := range methods {
		m := &methods[i]
		m.ProbeStart = next[m.Owner]
		next[m.Owner] = m.ProbeStart + m.ProbeCount
	}
}

// ClassWidths returns the probe width of each owner class: the highest
// probe range end among its methods.
func ClassWidths(methods []Method) map[string]int {
	widths := make(map[string]int)
	for _, m := range methods {
		if end := m.ProbeEnd(); end > widths[m.Owner] {
			widths[m.Owner] = end
		}
	}
	return widths
}

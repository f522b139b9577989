package coverage

import (
	"fmt"
	"sort"

	"covdiff/internal/diff"
	"covdiff/internal/probes"
)

// Bundle is the aggregate coverage of a build.
//
// Total is the OR of every execution. PerTest and PerTestType are the OR per
// test and per test type. Overlap is the AND across test types, kept only
// when more than one type contributed to a class.
type Bundle struct {
	Build       diff.BuildKey           `json:"build"`
	Total       ClassProbes             `json:"total"`
	PerTest     map[TestKey]ClassProbes `json:"-"`
	PerTestType map[string]ClassProbes  `json:"perTestType"`
	Overlap     ClassProbes             `json:"overlap"`
	Executions  int                     `json:"executions"`
}

// NewBundle returns an empty bundle for build.
func NewBundle(build diff.BuildKey) *Bundle {
	return &Bundle{
		Build:       build,
		Total:       ClassProbes{},
		PerTest:     map[TestKey]ClassProbes{},
		PerTestType: map[string]ClassProbes{},
		Overlap:     ClassProbes{},
	}
}

// Add folds one execution into the bundle in place. Only classes touched by
// e are recomputed. On a width conflict the bundle is left unchanged.
func (b *Bundle) Add(e Execution) error {
	if err := b.Total.checkCompatible(e.Classes); err != nil {
		return fmt.Errorf("execution %s: %w", e.Test, err)
	}

	_ = b.Total.MergeFrom(e.Classes)
	b.Executions++

	switch e.Source {
	case SourceAgent:
		// No test attached: contributes to the build total only.
		return nil
	case SourceTest, "":
		testBits, ok := b.PerTest[e.Test]
		if !ok {
			testBits = ClassProbes{}
			b.PerTest[e.Test] = testBits
		}
		_ = testBits.MergeFrom(e.Classes)

		typeBits, known := b.PerTestType[e.Test.Type]
		if !known {
			typeBits = ClassProbes{}
			b.PerTestType[e.Test.Type] = typeBits
		}
		_ = typeBits.MergeFrom(e.Classes)

		if !known {
			// a new type can only shrink the overlap of classes it did not touch
			for class := range b.Overlap {
				b.refreshOverlap(class)
			}
		}
		for class := range e.Classes {
			b.refreshOverlap(class)
		}
		return nil
	default:
		return fmt.Errorf("execution %s: unknown source %q", e.Test, e.Source)
	}
}

// refreshOverlap recomputes the test-type overlap of one class.
func (b *Bundle) refreshOverlap(class string) {
	groups := make([]probes.Bits, 0, len(b.PerTestType))
	for _, byClass := range b.PerTestType {
		if bits, ok := byClass[class]; ok {
			groups = append(groups, bits)
		}
	}
	if len(groups) < 2 || len(groups) < len(b.PerTestType) {
		delete(b.Overlap, class)
		return
	}
	acc := groups[0]
	for _, g := range groups[1:] {
		acc, _ = acc.Intersect(g)
	}
	if acc.Any() {
		b.Overlap[class] = acc
	} else {
		delete(b.Overlap, class)
	}
}

// Tests returns the tests that contributed coverage, sorted.
func (b *Bundle) Tests() []TestKey {
	keys := make([]TestKey, 0, len(b.PerTest))
	for k := range b.PerTest {
		keys = append(keys, k)
	}
	SortTestKeys(keys)
	return keys
}

// TestTypes returns the contributing test types, sorted.
func (b *Bundle) TestTypes() []string {
	types := make([]string, 0, len(b.PerTestType))
	for t := range b.PerTestType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Clone returns a copy that can be mutated with Add without affecting b.
func (b *Bundle) Clone() *Bundle {
	out := &Bundle{
		Build:       b.Build,
		Total:       b.Total.Clone(),
		PerTest:     make(map[TestKey]ClassProbes, len(b.PerTest)),
		PerTestType: make(map[string]ClassProbes, len(b.PerTestType)),
		Overlap:     b.Overlap.Clone(),
		Executions:  b.Executions,
	}
	for k, v := range b.PerTest {
		out.PerTest[k] = v.Clone()
	}
	for k, v := range b.PerTestType {
		out.PerTestType[k] = v.Clone()
	}
	return out
}

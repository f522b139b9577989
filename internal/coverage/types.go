// Package coverage folds per-test probe observations into aggregate bundles.
//
// Observations are class-level probe vectors. Aggregation is OR within a
// group (test, test type, whole build) and AND across groups when computing
// overlap. Both operations are associative and commutative, which lets the
// Aggregator shard work per class and merge the shards in any order.
package coverage

import (
	"fmt"
	"sort"
	"time"

	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/probes"
)

// TestKey identifies a test definition.
type TestKey struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Type string `json:"type" yaml:"type" toml:"type"`
}

// String renders "type:id".
func (k TestKey) String() string {
	return k.Type + ":" + k.ID
}

// Compare orders keys by id, then type.
func (k TestKey) Compare(o TestKey) int {
	switch {
	case k.ID < o.ID:
		return -1
	case k.ID > o.ID:
		return 1
	case k.Type < o.Type:
		return -1
	case k.Type > o.Type:
		return 1
	}
	return 0
}

// SortTestKeys sorts keys in place by id, then type.
func SortTestKeys(keys []TestKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
}

// SourceKind tags where an execution's probes came from.
type SourceKind string

const (
	// SourceTest is coverage recorded while a known test ran.
	SourceTest SourceKind = "TEST"
	// SourceAgent is coverage the agent collected with no test attached,
	// for example application startup or manual exploration.
	SourceAgent SourceKind = "AGENT"
)

// ClassProbes maps an owner class to its probe vector.
type ClassProbes map[string]probes.Bits

// Clone returns a shallow copy; Bits values are immutable.
func (c ClassProbes) Clone() ClassProbes {
	out := make(ClassProbes, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Classes returns class names in sorted order.
func (c ClassProbes) Classes() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MergeFrom ORs o into c in place. Classes missing from c are copied.
func (c ClassProbes) MergeFrom(o ClassProbes) error {
	if err := c.checkCompatible(o); err != nil {
		return err
	}
	for class, bits := range o {
		cur, ok := c[class]
		if !ok {
			c[class] = bits
			continue
		}
		merged, _ := cur.Merge(bits)
		c[class] = merged
	}
	return nil
}

// checkCompatible fails when a class present in both maps has different widths.
func (c ClassProbes) checkCompatible(o ClassProbes) error {
	for class, bits := range o {
		if cur, ok := c[class]; ok && cur.Width() != bits.Width() {
			return cerrors.New(cerrors.DimensionMismatch,
				fmt.Sprintf("class %s: probe widths differ: %d != %d", class, cur.Width(), bits.Width()), nil)
		}
	}
	return nil
}

// Covered returns the number of set probes in [start, start+count) of class.
// A missing class counts as zero.
func (c ClassProbes) Covered(class string, start, count int) int {
	bits, ok := c[class]
	if !ok {
		return 0
	}
	return bits.PopCount(start, count)
}

// CoversMethod reports whether any probe of m is set.
func (c ClassProbes) CoversMethod(m diff.Method) bool {
	bits, ok := c[m.Owner]
	return ok && m.Instrumented() && bits.AnyIn(m.ProbeStart, m.ProbeCount)
}

// MethodCount tallies m's probes, clamping to the stored width.
func (c ClassProbes) MethodCount(m diff.Method) probes.Count {
	return probes.Count{Covered: c.Covered(m.Owner, m.ProbeStart, m.ProbeCount), Total: m.ProbeCount}
}

// Count tallies every class.
func (c ClassProbes) Count() probes.Count {
	var total probes.Count
	for _, bits := range c {
		total = total.Add(probes.CountOf(bits))
	}
	return total
}

// Execution is one test's observed coverage in one session on one build.
type Execution struct {
	ID        string        `json:"id,omitempty"`
	Source    SourceKind    `json:"source"`
	Test      TestKey       `json:"test"`
	TaskID    string        `json:"taskId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Build     diff.BuildKey `json:"build"`
	CreatedAt time.Time     `json:"createdAt"`
	Classes   ClassProbes   `json:"classes"`
}

// Filter narrows which executions a query considers.
// Zero fields match everything.
type Filter struct {
	TestIDs  []string  `json:"testIds,omitempty"`
	TestType string    `json:"testType,omitempty"`
	TaskID   string    `json:"taskId,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// Match reports whether e passes the filter.
func (f *Filter) Match(e Execution) bool {
	if f == nil {
		return true
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.TestType != "" && e.Test.Type != f.TestType {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if len(f.TestIDs) > 0 {
		for _, id := range f.TestIDs {
			if id == e.Test.ID {
				return true
			}
		}
		return false
	}
	return true
}

// Apply returns the executions that pass the filter.
func (f *Filter) Apply(execs []Execution) []Execution {
	if f == nil {
		return execs
	}
	out := make([]Execution, 0, len(execs))
	for _, e := range execs {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Percentage returns covered/total*100, or 0 when total is 0.
func Percentage(covered, total int) float64 {
	return probes.Percentage(covered, total)
}

package coverage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/probes"
	"covdiff/internal/slogutil"
)

var build1 = diff.BuildKey{GroupID: "g", AppID: "app", Version: "1.0"}

func bits(t *testing.T, s string) probes.Bits {
	t.Helper()
	b, err := probes.Parse(s)
	require.NoError(t, err)
	return b
}

func exec(t *testing.T, id, typ string, classes map[string]string) Execution {
	t.Helper()
	cp := ClassProbes{}
	for class, s := range classes {
		cp[class] = bits(t, s)
	}
	return Execution{Source: SourceTest, Test: TestKey{ID: id, Type: typ}, Build: build1, Classes: cp}
}

func newAggregator(workers int) *Aggregator {
	return NewAggregator(slogutil.NewDiscardLogger(), WithWorkers(workers))
}

func TestAggregate(t *testing.T) {
	execs := []Execution{
		exec(t, "t1", "UNIT", map[string]string{"a/A": "1100", "a/B": "10"}),
		exec(t, "t1", "UNIT", map[string]string{"a/A": "0010"}),
		exec(t, "t2", "E2E", map[string]string{"a/A": "1001", "a/C": "001"}),
	}

	for _, workers := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			b, err := newAggregator(workers).Aggregate(context.Background(), build1, execs)
			require.NoError(t, err)

			assert.Equal(t, "1111", b.Total["a/A"].String())
			assert.Equal(t, "10", b.Total["a/B"].String())
			assert.Equal(t, "001", b.Total["a/C"].String())
			assert.Equal(t, 3, b.Executions)

			t1 := b.PerTest[TestKey{ID: "t1", Type: "UNIT"}]
			assert.Equal(t, "1110", t1["a/A"].String())
			assert.NotContains(t, t1, "a/C")

			assert.Equal(t, "1001", b.PerTestType["E2E"]["a/A"].String())

			// a/A is the only class both types touched; AND of 1110 and 1001
			require.Contains(t, b.Overlap, "a/A")
			assert.Equal(t, "1000", b.Overlap["a/A"].String())
			assert.NotContains(t, b.Overlap, "a/B")

			assert.Equal(t, []TestKey{{ID: "t1", Type: "UNIT"}, {ID: "t2", Type: "E2E"}}, b.Tests())
			assert.Equal(t, []string{"E2E", "UNIT"}, b.TestTypes())
		})
	}
}

func TestAggregate_DimensionMismatch(t *testing.T) {
	execs := []Execution{
		exec(t, "t1", "UNIT", map[string]string{"a/A": "11"}),
		exec(t, "t2", "UNIT", map[string]string{"a/A": "110"}),
	}
	_, err := newAggregator(2).Aggregate(context.Background(), build1, execs)
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.DimensionMismatch))
}

func TestAggregate_AgentCoverageOnlyInTotal(t *testing.T) {
	agent := exec(t, "", "", map[string]string{"a/A": "01"})
	agent.Source = SourceAgent
	execs := []Execution{agent, exec(t, "t1", "UNIT", map[string]string{"a/A": "10"})}

	b, err := newAggregator(1).Aggregate(context.Background(), build1, execs)
	require.NoError(t, err)
	assert.Equal(t, "11", b.Total["a/A"].String())
	assert.Len(t, b.PerTest, 1)
	assert.Equal(t, "10", b.PerTest[TestKey{ID: "t1", Type: "UNIT"}]["a/A"].String())
}

func TestAggregate_Empty(t *testing.T) {
	b, err := newAggregator(4).Aggregate(context.Background(), build1, nil)
	require.NoError(t, err)
	assert.Empty(t, b.Total)
	assert.Empty(t, b.PerTest)
	assert.Empty(t, b.Overlap)
}

func TestAggregate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAggregator(2).Aggregate(ctx, build1, []Execution{exec(t, "t1", "UNIT", map[string]string{"a/A": "1"})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundleAdd_MatchesFullAggregation(t *testing.T) {
	execs := []Execution{
		exec(t, "t1", "UNIT", map[string]string{"a/A": "1100", "a/B": "10"}),
		exec(t, "t2", "E2E", map[string]string{"a/A": "1001", "a/B": "11"}),
		exec(t, "t3", "MANUAL", map[string]string{"a/A": "1000"}),
		exec(t, "t1", "UNIT", map[string]string{"a/C": "1"}),
	}

	full, err := newAggregator(3).Aggregate(context.Background(), build1, execs)
	require.NoError(t, err)

	incremental := NewBundle(build1)
	for _, e := range execs {
		require.NoError(t, incremental.Add(e))
	}

	assert.Equal(t, full.Executions, incremental.Executions)
	for class, b := range full.Total {
		assert.True(t, b.Equal(incremental.Total[class]), "total %s", class)
	}
	assert.Equal(t, full.Overlap.Classes(), incremental.Overlap.Classes())
	for class, b := range full.Overlap {
		assert.True(t, b.Equal(incremental.Overlap[class]), "overlap %s", class)
	}
	// a/B is not covered by MANUAL, so the three-way overlap keeps only a/A
	assert.Equal(t, []string{"a/A"}, incremental.Overlap.Classes())
}

func TestBundleAdd_Monotonic(t *testing.T) {
	b := NewBundle(build1)
	prev := 0
	for _, s := range []string{"1000", "0100", "1100", "0001", "0000"} {
		require.NoError(t, b.Add(exec(t, "t", "UNIT", map[string]string{"a/A": s})))
		got := b.Total["a/A"].Count()
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, 3, prev)
}

func TestBundleAdd_ConflictLeavesBundleUnchanged(t *testing.T) {
	b := NewBundle(build1)
	require.NoError(t, b.Add(exec(t, "t1", "UNIT", map[string]string{"a/A": "10"})))

	err := b.Add(exec(t, "t2", "E2E", map[string]string{"a/A": "100", "a/B": "1"}))
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.DimensionMismatch))
	assert.NotContains(t, b.Total, "a/B")
	assert.Equal(t, 1, b.Executions)
	assert.Len(t, b.PerTest, 1)
}

func TestBundleClone(t *testing.T) {
	b := NewBundle(build1)
	require.NoError(t, b.Add(exec(t, "t1", "UNIT", map[string]string{"a/A": "10"})))
	c := b.Clone()
	require.NoError(t, c.Add(exec(t, "t2", "UNIT", map[string]string{"a/A": "01"})))

	assert.Equal(t, "10", b.Total["a/A"].String())
	assert.Equal(t, "11", c.Total["a/A"].String())
	assert.Len(t, b.PerTest, 1)
}

func TestAggregateByGroup(t *testing.T) {
	execs := []Execution{
		exec(t, "t1", "UNIT", map[string]string{"a/A": "10"}),
		exec(t, "t2", "UNIT", map[string]string{"a/A": "01"}),
		exec(t, "t3", "E2E", map[string]string{"a/A": "01"}),
	}

	groups, err := AggregateByGroup(context.Background(), newAggregator(2), build1, execs, func(e Execution) string {
		return e.Test.Type
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "11", groups["UNIT"].Total["a/A"].String())
	assert.Equal(t, "01", groups["E2E"].Total["a/A"].String())
}

func TestOverlap(t *testing.T) {
	t.Run("single group is empty", func(t *testing.T) {
		out, err := Overlap(map[string]ClassProbes{"UNIT": {"a/A": bits(t, "11")}})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("drops empty and partial classes", func(t *testing.T) {
		out, err := Overlap(map[string]ClassProbes{
			"UNIT": {"a/A": bits(t, "110"), "a/B": bits(t, "10"), "a/C": bits(t, "1")},
			"E2E":  {"a/A": bits(t, "011"), "a/B": bits(t, "01")},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a/A"}, out.Classes())
		assert.Equal(t, "010", out["a/A"].String())
	})

	t.Run("width mismatch", func(t *testing.T) {
		_, err := Overlap(map[string]ClassProbes{
			"UNIT": {"a/A": bits(t, "11")},
			"E2E":  {"a/A": bits(t, "111")},
		})
		assert.True(t, cerrors.IsCode(err, cerrors.DimensionMismatch))
	})
}

func TestIntersectPrevious(t *testing.T) {
	current := ClassProbes{
		"a/A": bits(t, "1101"),
		"a/B": bits(t, "11"),
		"a/C": bits(t, "111"),
		"a/D": bits(t, "10"),
	}
	previous := ClassProbes{
		"a/A": bits(t, "0111"),
		"a/B": bits(t, "110"), // layout changed
		"a/C": bits(t, "111"),
		"a/D": bits(t, "01"), // no common bits
	}
	widths := map[string]int{"a/A": 4, "a/B": 2, "a/D": 2}

	out := IntersectPrevious(current, previous, ValidWidths(widths))
	assert.Equal(t, []string{"a/A"}, out.Classes())
	assert.Equal(t, "0101", out["a/A"].String())

	all := IntersectPrevious(current, previous, nil)
	assert.Equal(t, []string{"a/A", "a/C"}, all.Classes())
}

func TestFilter(t *testing.T) {
	e := exec(t, "t1", "UNIT", nil)
	e.TaskID = "task-1"

	assert.True(t, (*Filter)(nil).Match(e))
	assert.True(t, (&Filter{}).Match(e))
	assert.True(t, (&Filter{TaskID: "task-1", TestIDs: []string{"t0", "t1"}}).Match(e))
	assert.False(t, (&Filter{TaskID: "task-2"}).Match(e))
	assert.False(t, (&Filter{TestType: "E2E"}).Match(e))
	assert.False(t, (&Filter{TestIDs: []string{"t2"}}).Match(e))
	assert.Len(t, (&Filter{TaskID: "task-1"}).Apply([]Execution{e, exec(t, "t2", "UNIT", nil)}), 1)
}

func TestClassProbesHelpers(t *testing.T) {
	cp := ClassProbes{"a/A": bits(t, "0110")}
	m := diff.Method{Signature: diff.Signature{Owner: "a/A", Name: "x"}, ProbeStart: 2, ProbeCount: 2}

	assert.Equal(t, probes.Count{Covered: 1, Total: 2}, cp.MethodCount(m))
	assert.True(t, cp.CoversMethod(m))
	assert.False(t, cp.CoversMethod(diff.Method{Signature: diff.Signature{Owner: "a/Z"}, ProbeCount: 1}))
	assert.Equal(t, probes.Count{Covered: 2, Total: 4}, cp.Count())
	assert.Equal(t, 0.0, Percentage(0, 0))
}

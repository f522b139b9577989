package impact

import (
	"covdiff/internal/diff"
	"covdiff/internal/probes"
)

// MethodsCoverage reports, for every instrumented method of target, its own
// coverage and its coverage ORed over every build in history that shipped
// the same body (same signature, checksum and probe count).
func (a *Analyzer) MethodsCoverage(target BuildState, history []BuildState) []MethodCoverage {
	methods := append([]diff.Method(nil), target.methods()...)
	diff.SortMethods(methods)

	indexes := make([]diff.Index, len(history))
	for i, s := range history {
		indexes[i] = diff.NewIndex(s.methods())
	}

	out := make([]MethodCoverage, 0, len(methods))
	for _, m := range methods {
		if !m.Instrumented() {
			continue
		}
		mc := MethodCoverage{Method: m, Isolated: target.total().MethodCount(m)}

		acc := probes.New(m.ProbeCount)
		if slice, ok := methodSlice(target, m); ok {
			acc, _ = acc.Merge(slice)
			if slice.Any() {
				mc.Builds = append(mc.Builds, target.Version())
			}
		}
		for i, s := range history {
			if s.Ordinal == target.Ordinal && s.Version() == target.Version() {
				continue
			}
			other, ok := indexes[i][m.Signature]
			if !ok || !other.SameBody(m) {
				continue
			}
			slice, ok := methodSlice(s, other)
			if !ok || !slice.Any() {
				continue
			}
			acc, _ = acc.Merge(slice)
			mc.Builds = append(mc.Builds, s.Version())
		}
		mc.Aggregated = probes.CountOf(acc)
		out = append(out, mc)
	}
	return out
}

// methodSlice cuts m's probe range out of s's total coverage. It fails when
// the class was not recorded or its vector is shorter than the range.
func methodSlice(s BuildState, m diff.Method) (probes.Bits, bool) {
	bits, ok := s.total()[m.Owner]
	if !ok || bits.Width() < m.ProbeEnd() {
		return probes.Bits{}, false
	}
	return bits.Slice(m.ProbeStart, m.ProbeCount), true
}

// ReportRequest selects the builds for BuildDiffReport.
type ReportRequest struct {
	Target   BuildState
	Baseline BuildState
	History  []BuildState
	// Threshold is the minimum coverage percentage of changed methods.
	Threshold float64
}

// BuildDiffReport counts the changes of target against baseline and rates
// the coverage of new and modified methods, aggregated across builds with
// the same body, against the threshold.
func (a *Analyzer) BuildDiffReport(req ReportRequest) (*BuildDiffReport, error) {
	if err := checkStates(req.Target, req.Baseline); err != nil {
		return nil, err
	}
	changes := diff.Diff(req.Target.methods(), req.Baseline.methods())
	summary := changes.Summary()

	changed := make(map[diff.Signature]bool, summary.Total)
	for _, m := range changes.Changed() {
		changed[m.Signature] = true
	}

	report := &BuildDiffReport{
		Target:       req.Target.Version(),
		Baseline:     req.Baseline.Version(),
		New:          summary.New,
		Modified:     summary.Modified,
		Deleted:      summary.Deleted,
		TotalChanges: summary.Total,
		Threshold:    req.Threshold,
	}
	for _, mc := range a.MethodsCoverage(req.Target, req.History) {
		if !changed[mc.Method.Signature] {
			continue
		}
		report.Coverage = report.Coverage.Add(mc.Aggregated)
		if mc.Aggregated.Covered == 0 {
			report.Risks++
		}
	}
	report.Percentage = report.Coverage.Percentage()
	report.MeetsThreshold = report.Percentage >= req.Threshold

	toRun := false
	recs, err := a.RecommendTests(RecommendRequest{
		Target:      req.Target,
		History:     req.History,
		TestsToSkip: &toRun,
	})
	if err != nil {
		return nil, err
	}
	report.RecommendedTests = len(recs)

	a.debug("Built diff report",
		"target", report.Target,
		"baseline", report.Baseline,
		"changes", report.TotalChanges,
		"percentage", report.Percentage,
	)
	return report, nil
}

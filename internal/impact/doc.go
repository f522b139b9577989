// Package impact combines method diffs with aggregated coverage to answer
// differential questions about a build.
//
// The analyzer can:
//   - Track new and modified methods as risks, accumulating their coverage
//     across every build compared against the same baseline
//   - List the methods impacted between a baseline and a target build
//   - Classify tests as IMPACTED, NOT_IMPACTED or UNKNOWN_IMPACT
//   - Recommend which tests must run on a target build and which may be skipped
//   - Report method coverage aggregated over builds that shipped the same body
//
// Every operation is a pure function over BuildState values. Loading states
// from storage, caching bundles and persisting the risk ledger belong to the
// calling service.
//
// Basic usage:
//
//	analyzer := impact.NewAnalyzer(impact.DefaultPolicy(), logger)
//
//	baseline := impact.BuildState{Snapshot: snap1, Bundle: bundle1, Ordinal: 1}
//	target := impact.BuildState{Snapshot: snap2, Bundle: bundle2, Ordinal: 2}
//
//	tests, err := analyzer.ImpactedTests(impact.ImpactedTestsRequest{
//	    Target:   target,
//	    Baseline: baseline,
//	    History:  []impact.BuildState{baseline},
//	})
//	if err != nil {
//	    return err
//	}
//	for _, t := range tests {
//	    fmt.Printf("%s: %s\n", t.Test, t.Status)
//	}
//
// Risks are accumulated through an explicit ledger value:
//
//	ledger, risks := impact.Accumulate(stored, impact.RiskInput{
//	    Baseline: "1.0",
//	    Build:    "1.2",
//	    Changes:  diff.Diff(snap2.Methods, snap1.Methods),
//	    Bundle:   bundle2,
//	})
//	// persist ledger, report risks
//
// Newly added methods do not count towards impacted tests unless
// Policy.IncludeNewMethods is set.
package impact

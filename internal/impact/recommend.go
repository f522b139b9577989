package impact

import (
	"slices"
	"sort"
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
)

// RecommendRequest selects the builds and tests for RecommendTests.
type RecommendRequest struct {
	Target  BuildState
	History []BuildState

	// Candidates restricts the answer to these tests. Candidates with no
	// usable prior coverage are UNKNOWN_IMPACT. Nil means every test seen in
	// the history.
	Candidates []coverage.TestKey
	// Branches keeps only prior builds made from one of these branches.
	Branches []string
	// Since drops prior builds created before it.
	Since time.Time
	// TestsToSkip selects the output: true keeps only skippable tests,
	// false only tests to run, nil both.
	TestsToSkip *bool
}

// RecommendTests decides which tests must run on the target.
//
// For every test, the newest eligible prior build B that recorded it is
// diffed against the target. The test runs when its coverage on B touches a
// method changed between B and the target, and may be skipped otherwise.
// Tests already recorded on the target are left out. The result is ordered
// by test key.
func (a *Analyzer) RecommendTests(req RecommendRequest) ([]Recommendation, error) {
	if req.Target.Snapshot == nil {
		return nil, cerrors.New(cerrors.BuildNotFound, "target build has no recorded methods", nil)
	}

	eligible := make([]BuildState, 0, len(req.History))
	for _, s := range req.History {
		if s.Ordinal >= req.Target.Ordinal || s.Snapshot == nil {
			continue
		}
		if len(req.Branches) > 0 && !slices.Contains(req.Branches, s.Snapshot.Branch) {
			continue
		}
		if !req.Since.IsZero() && s.createdAt().Before(req.Since) {
			continue
		}
		eligible = append(eligible, s)
	}
	latest := latestRuns(eligible)

	ranOnTarget := req.Target.perTest()
	var tests []coverage.TestKey
	if req.Candidates != nil {
		tests = append(tests, req.Candidates...)
	} else {
		for key := range latest {
			tests = append(tests, key)
		}
	}

	type changedIn struct {
		changed []diff.Method
		index   diff.Index
	}
	byBuild := make(map[int]changedIn)

	seen := make(map[coverage.TestKey]bool, len(tests))
	out := make([]Recommendation, 0, len(tests))
	for _, key := range tests {
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := ranOnTarget[key]; ok {
			continue
		}

		s, ok := latest[key]
		if !ok {
			out = append(out, Recommendation{Test: key, Status: StatusUnknown, Action: ActionRun})
			continue
		}

		c, ok := byBuild[s.Ordinal]
		if !ok {
			c = changedIn{
				changed: diff.Diff(req.Target.methods(), s.methods()).Changed(),
				index:   diff.NewIndex(s.methods()),
			}
			byBuild[s.Ordinal] = c
		}

		bits := s.perTest()[key]
		rec := Recommendation{Test: key, Status: StatusNotImpacted, Action: ActionSkip, Build: s.Version()}
		for _, m := range c.changed {
			local, ok := c.index[m.Signature]
			if ok && bits.CoversMethod(local) {
				rec.Methods = append(rec.Methods, m.Signature)
			}
		}
		if len(rec.Methods) > 0 {
			rec.Status = StatusImpacted
			rec.Action = ActionRun
		}
		out = append(out, rec)
	}

	out = filterRecommendations(out, req.TestsToSkip)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Test.Compare(out[j].Test) < 0
	})

	a.debug("Recommended tests",
		"target", req.Target.Version(),
		"priorBuilds", len(eligible),
		"tests", len(out),
	)
	return out, nil
}

func filterRecommendations(recs []Recommendation, testsToSkip *bool) []Recommendation {
	if testsToSkip == nil {
		return recs
	}
	out := recs[:0]
	for _, r := range recs {
		if (r.Action == ActionSkip) == *testsToSkip {
			out = append(out, r)
		}
	}
	return out
}

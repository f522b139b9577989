package impact

import (
	"log/slog"
	"sort"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
)

// Analyzer answers impact questions over build states. It holds no state
// besides its policy; every call works only on its arguments.
type Analyzer struct {
	policy Policy
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. An empty window defaults to
// WindowSinceBaseline.
func NewAnalyzer(policy Policy, logger *slog.Logger) *Analyzer {
	if policy.Window == "" {
		policy.Window = WindowSinceBaseline
	}
	return &Analyzer{policy: policy, logger: logger}
}

// Policy returns the analyzer's policy.
func (a *Analyzer) Policy() Policy {
	return a.policy
}

func (a *Analyzer) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}

func checkStates(target, baseline BuildState) error {
	if target.Snapshot == nil {
		return cerrors.New(cerrors.BuildNotFound, "target build has no recorded methods", nil)
	}
	if baseline.Snapshot == nil || len(baseline.Snapshot.Methods) == 0 {
		return cerrors.New(cerrors.UnknownBaseline, "baseline build has no recorded methods", nil)
	}
	return nil
}

// ImpactedMethods returns the modified and deleted methods of target against
// baseline (and new ones when the policy includes them), in signature order,
// with the target's coverage attached.
func (a *Analyzer) ImpactedMethods(target, baseline BuildState) ([]ImpactedMethod, error) {
	if err := checkStates(target, baseline); err != nil {
		return nil, err
	}
	changes := diff.Diff(target.methods(), baseline.methods())
	kinds := changes.Classify()
	total := target.total()
	perTest := target.perTest()

	out := make([]ImpactedMethod, 0, len(changes.Modified)+len(changes.Deleted))
	for _, m := range changes.Impacted(a.policy.IncludeNewMethods) {
		im := ImpactedMethod{Method: m, Type: kinds[m.Signature]}
		if im.Type == diff.ChangeDeleted {
			im.Count.Total = m.ProbeCount
		} else {
			im.Count = total.MethodCount(m)
			for key, bits := range perTest {
				if bits.CoversMethod(m) {
					im.Tests = append(im.Tests, key)
				}
			}
			coverage.SortTestKeys(im.Tests)
		}
		out = append(out, im)
	}

	a.debug("Computed impacted methods",
		"target", target.Version(),
		"baseline", baseline.Version(),
		"impacted", len(out),
	)
	return out, nil
}

// ImpactedTestsRequest selects the builds for ImpactedTests.
// History holds builds before the target in any order; the baseline may or
// may not be part of it.
type ImpactedTestsRequest struct {
	Target   BuildState
	Baseline BuildState
	History  []BuildState
}

// ImpactedTests classifies every known test against the methods changed
// between baseline and target.
//
// A test's decision uses its coverage on the newest build of the window that
// recorded it, never an OR over older runs. Tests known only from builds
// outside the window (or only from the target) are UNKNOWN_IMPACT.
func (a *Analyzer) ImpactedTests(req ImpactedTestsRequest) ([]TestImpact, error) {
	if err := checkStates(req.Target, req.Baseline); err != nil {
		return nil, err
	}
	changes := diff.Diff(req.Target.methods(), req.Baseline.methods())
	impacted := changes.Impacted(a.policy.IncludeNewMethods)

	window, outside := a.split(req)
	latest := latestRuns(window)

	known := make(map[coverage.TestKey]bool)
	for key := range req.Target.perTest() {
		known[key] = true
	}
	for _, s := range outside {
		for key := range s.perTest() {
			known[key] = true
		}
	}

	indexes := make(map[int]diff.Index)
	out := make([]TestImpact, 0, len(latest)+len(known))
	for key, s := range latest {
		idx, ok := indexes[s.Ordinal]
		if !ok {
			idx = diff.NewIndex(s.methods())
			indexes[s.Ordinal] = idx
		}
		bits := s.perTest()[key]

		ti := TestImpact{Test: key, Status: StatusNotImpacted, Build: s.Version()}
		for _, m := range impacted {
			local, ok := idx[m.Signature]
			if ok && bits.CoversMethod(local) {
				ti.Methods = append(ti.Methods, m.Signature)
			}
		}
		if len(ti.Methods) > 0 {
			ti.Status = StatusImpacted
		}
		out = append(out, ti)
	}
	for key := range known {
		if _, ok := latest[key]; !ok {
			out = append(out, TestImpact{Test: key, Status: StatusUnknown})
		}
	}
	sortTestImpacts(out)

	a.debug("Computed impacted tests",
		"target", req.Target.Version(),
		"baseline", req.Baseline.Version(),
		"window", string(a.policy.Window),
		"tests", len(out),
	)
	return out, nil
}

// split partitions the request's history into the builds whose coverage may
// decide a test and the rest.
func (a *Analyzer) split(req ImpactedTestsRequest) (window, outside []BuildState) {
	seenBaseline := false
	for _, s := range req.History {
		if s.Ordinal >= req.Target.Ordinal {
			continue
		}
		if s.Ordinal == req.Baseline.Ordinal {
			seenBaseline = true
		}
		if a.policy.Window == WindowAllPrior || s.Ordinal >= req.Baseline.Ordinal {
			window = append(window, s)
		} else {
			outside = append(outside, s)
		}
	}
	if !seenBaseline {
		window = append(window, req.Baseline)
	}
	return window, outside
}

// latestRuns maps every test to the newest state that recorded it.
// Equal ordinals keep the state listed last.
func latestRuns(states []BuildState) map[coverage.TestKey]BuildState {
	out := make(map[coverage.TestKey]BuildState)
	for _, s := range states {
		for key := range s.perTest() {
			if cur, ok := out[key]; !ok || s.Ordinal >= cur.Ordinal {
				out[key] = s
			}
		}
	}
	return out
}

func sortTestImpacts(out []TestImpact) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].Test.Compare(out[j].Test) < 0
	})
}

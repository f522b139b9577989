package impact

import (
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	"covdiff/internal/probes"
)

// ImpactStatus is the tri-state verdict for one test.
type ImpactStatus string

const (
	StatusImpacted    ImpactStatus = "IMPACTED"
	StatusNotImpacted ImpactStatus = "NOT_IMPACTED"
	StatusUnknown     ImpactStatus = "UNKNOWN_IMPACT"
)

// Action is what a recommendation asks the caller to do with a test.
type Action string

const (
	ActionRun  Action = "RUN"
	ActionSkip Action = "SKIP"
)

// CoverageWindow selects which prior builds may supply a test's coverage
// when computing impacted tests.
type CoverageWindow string

const (
	// WindowSinceBaseline uses the baseline and every build between it and
	// the target.
	WindowSinceBaseline CoverageWindow = "since-baseline"
	// WindowAllPrior uses every build before the target.
	WindowAllPrior CoverageWindow = "all-prior"
)

// Policy holds the tunable rules of the analyzer.
type Policy struct {
	// IncludeNewMethods counts methods that only exist in the target as
	// impacted. Off by default: a test that ran on the baseline could not
	// have covered them.
	IncludeNewMethods bool           `json:"includeNewMethods"`
	Window            CoverageWindow `json:"window"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{Window: WindowSinceBaseline}
}

// BuildState is everything the analyzer needs to know about one build.
// Ordinal orders builds of one application; higher is newer.
// Bundle may be nil when nothing was recorded.
type BuildState struct {
	Snapshot *diff.Snapshot
	Bundle   *coverage.Bundle
	Ordinal  int
}

// Version returns the build version, or "" for an empty state.
func (s BuildState) Version() string {
	if s.Snapshot == nil {
		return ""
	}
	return s.Snapshot.Build.Version
}

func (s BuildState) methods() []diff.Method {
	if s.Snapshot == nil {
		return nil
	}
	return s.Snapshot.Methods
}

func (s BuildState) perTest() map[coverage.TestKey]coverage.ClassProbes {
	if s.Bundle == nil {
		return nil
	}
	return s.Bundle.PerTest
}

func (s BuildState) total() coverage.ClassProbes {
	if s.Bundle == nil {
		return coverage.ClassProbes{}
	}
	return s.Bundle.Total
}

func (s BuildState) createdAt() time.Time {
	if s.Snapshot == nil {
		return time.Time{}
	}
	return s.Snapshot.CreatedAt
}

// ImpactedMethod is one changed method between baseline and target.
// Count is the method's coverage in the target; deleted methods report the
// baseline probe total with nothing covered.
type ImpactedMethod struct {
	Method diff.Method        `json:"method"`
	Type   diff.ChangeType    `json:"type"`
	Count  probes.Count       `json:"count"`
	Tests  []coverage.TestKey `json:"tests,omitempty"`
}

// TestImpact is the verdict for one test.
type TestImpact struct {
	Test    coverage.TestKey `json:"test"`
	Status  ImpactStatus     `json:"status"`
	Build   string           `json:"build,omitempty"`
	Methods []diff.Signature `json:"impactedMethods,omitempty"`
}

// Recommendation says whether a test should run on the target build.
type Recommendation struct {
	Test    coverage.TestKey `json:"test"`
	Status  ImpactStatus     `json:"status"`
	Action  Action           `json:"action"`
	Build   string           `json:"build,omitempty"`
	Methods []diff.Signature `json:"methods,omitempty"`
}

// MethodCoverage reports a method's coverage in one build next to its
// coverage aggregated over every build that shipped the same body.
type MethodCoverage struct {
	Method     diff.Method  `json:"method"`
	Isolated   probes.Count `json:"isolated"`
	Aggregated probes.Count `json:"aggregated"`
	Builds     []string     `json:"builds,omitempty"`
}

// BuildDiffReport summarises the changes of a target against a baseline.
type BuildDiffReport struct {
	Target           string       `json:"target"`
	Baseline         string       `json:"baseline"`
	New              int          `json:"newMethods"`
	Modified         int          `json:"modifiedMethods"`
	Deleted          int          `json:"deletedMethods"`
	TotalChanges     int          `json:"totalChanges"`
	Coverage         probes.Count `json:"coverage"`
	Percentage       float64      `json:"percentage"`
	Risks            int          `json:"risks"`
	RecommendedTests int          `json:"recommendedTests"`
	Threshold        float64      `json:"coverageThreshold"`
	MeetsThreshold   bool         `json:"meetsThreshold"`
}

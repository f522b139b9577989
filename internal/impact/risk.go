package impact

import (
	"fmt"
	"math"
	"sort"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	"covdiff/internal/probes"
)

// RiskLevel represents how urgently a risk needs test attention
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// RiskScore contains the calculated risk assessment
type RiskScore struct {
	Level       RiskLevel    `json:"level"`
	Score       float64      `json:"score"`
	Factors     []RiskFactor `json:"factors"`
	Explanation string       `json:"explanation"`
}

// RiskFactor represents a single contributing factor to risk
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"` // normalized to 0.0 - 1.0
}

// Risk is a new or modified method of a build, with the coverage it has
// gathered on every build tracked against the same baseline.
type Risk struct {
	Method diff.Method     `json:"method"`
	Type   diff.ChangeType `json:"type"`
	// Coverage maps build version to the method's coverage on that build.
	// Only builds where the method was covered appear.
	Coverage map[string]probes.Count `json:"coverage,omitempty"`
	Current  probes.Count            `json:"current"`
	// Previous is the best coverage of the same body on another build.
	Previous probes.Count `json:"previous"`
	Tests    int          `json:"tests"`
	Score    *RiskScore   `json:"score,omitempty"`
}

// Covered reports whether the method is covered on this build or on another
// build with the same body.
func (r Risk) Covered() bool {
	return r.Current.Covered > 0 || r.Previous.Covered > 0
}

// BuildCoverage is one build's record in a ledger entry.
type BuildCoverage struct {
	Checksum string       `json:"checksum"`
	Count    probes.Count `json:"count"`
}

// LedgerEntry accumulates one method's coverage across builds.
type LedgerEntry struct {
	Method diff.Method              `json:"method"`
	Type   diff.ChangeType          `json:"type"`
	Builds map[string]BuildCoverage `json:"builds"`
}

// RiskLedger is the accumulator threaded through successive risk
// computations against one baseline. It is a plain value: Accumulate returns
// a new ledger and never modifies its input. Persisting it is the caller's
// job.
//
// Entries are keyed by Signature.String(). Builds lists versions in the
// order they were accumulated, oldest first.
type RiskLedger struct {
	Baseline string                  `json:"baseline"`
	Builds   []string                `json:"builds"`
	Entries  map[string]*LedgerEntry `json:"entries"`
}

// NewRiskLedger creates an empty ledger for baseline.
func NewRiskLedger(baseline string) *RiskLedger {
	return &RiskLedger{Baseline: baseline, Builds: []string{}, Entries: map[string]*LedgerEntry{}}
}

func (l *RiskLedger) clone() *RiskLedger {
	out := &RiskLedger{
		Baseline: l.Baseline,
		Builds:   append([]string{}, l.Builds...),
		Entries:  make(map[string]*LedgerEntry, len(l.Entries)),
	}
	for key, e := range l.Entries {
		builds := make(map[string]BuildCoverage, len(e.Builds))
		for v, c := range e.Builds {
			builds[v] = c
		}
		out.Entries[key] = &LedgerEntry{Method: e.Method, Type: e.Type, Builds: builds}
	}
	return out
}

// removeBuild strips version from the ledger and drops entries left empty.
func (l *RiskLedger) removeBuild(version string) {
	builds := l.Builds[:0]
	for _, v := range l.Builds {
		if v != version {
			builds = append(builds, v)
		}
	}
	l.Builds = builds
	for key, e := range l.Entries {
		delete(e.Builds, version)
		if len(e.Builds) == 0 {
			delete(l.Entries, key)
		}
	}
}

// RiskInput is one build's contribution to a ledger.
type RiskInput struct {
	Baseline string
	Build    string
	Changes  *diff.ChangeSet
	// Bundle is the build's aggregated coverage; nil means nothing ran.
	Bundle *coverage.Bundle
	// MaxBuilds caps how many builds the ledger remembers. The oldest are
	// dropped first. Zero keeps every build until the baseline changes.
	MaxBuilds int
}

// Accumulate folds in into prev and returns the new ledger together with the
// risks of in.Build. A ledger kept for another baseline is discarded.
//
// Recomputing the same build is idempotent: its previous record is stripped
// before the new one is added.
func Accumulate(prev *RiskLedger, in RiskInput) (*RiskLedger, []Risk) {
	var ledger *RiskLedger
	if prev == nil || prev.Baseline != in.Baseline {
		ledger = NewRiskLedger(in.Baseline)
	} else {
		ledger = prev.clone()
	}
	ledger.removeBuild(in.Build)

	total := coverage.ClassProbes{}
	var perTest map[coverage.TestKey]coverage.ClassProbes
	if in.Bundle != nil {
		total = in.Bundle.Total
		perTest = in.Bundle.PerTest
	}

	changed := changedMethods(in.Changes)
	for _, c := range changed {
		count := total.MethodCount(c.method)
		if count.Covered == 0 {
			continue
		}
		key := c.method.Signature.String()
		e, ok := ledger.Entries[key]
		if !ok {
			e = &LedgerEntry{Builds: map[string]BuildCoverage{}}
			ledger.Entries[key] = e
		}
		e.Method = c.method
		e.Type = c.kind
		e.Builds[in.Build] = BuildCoverage{Checksum: c.method.Checksum, Count: count}
	}

	ledger.Builds = append(ledger.Builds, in.Build)
	for in.MaxBuilds > 0 && len(ledger.Builds) > in.MaxBuilds {
		ledger.removeBuild(ledger.Builds[0])
	}

	risks := make([]Risk, 0, len(changed))
	for _, c := range changed {
		r := Risk{
			Method:   c.method,
			Type:     c.kind,
			Coverage: map[string]probes.Count{},
			Current:  total.MethodCount(c.method),
			Previous: probes.Count{Total: c.method.ProbeCount},
		}
		if e, ok := ledger.Entries[c.method.Signature.String()]; ok {
			for version, bc := range e.Builds {
				r.Coverage[version] = bc.Count
				if version != in.Build && bc.Checksum == c.method.Checksum && bc.Count.Covered > r.Previous.Covered {
					r.Previous = bc.Count
				}
			}
		}
		for _, bits := range perTest {
			if bits.CoversMethod(c.method) {
				r.Tests++
			}
		}
		r.Score = ComputeRiskScore(r)
		risks = append(risks, r)
	}
	return ledger, risks
}

type changedMethod struct {
	method diff.Method
	kind   diff.ChangeType
}

func changedMethods(c *diff.ChangeSet) []changedMethod {
	if c == nil {
		return nil
	}
	out := make([]changedMethod, 0, len(c.New)+len(c.Modified))
	for _, m := range c.New {
		out = append(out, changedMethod{method: m, kind: diff.ChangeNew})
	}
	for _, m := range c.Modified {
		out = append(out, changedMethod{method: m, kind: diff.ChangeModified})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].method.Signature.Compare(out[j].method.Signature) < 0
	})
	return out
}

// ComputeRiskScore calculates risk based on multiple factors:
// - Coverage (uncovered on this and every other build = higher risk)
// - Change type (new code has never been tested)
// - Method size in probes
// - Number of tests reaching the method
func ComputeRiskScore(r Risk) *RiskScore {
	best := r.Current.Ratio()
	if p := r.Previous.Ratio(); p > best {
		best = p
	}

	factors := []RiskFactor{
		{Name: "uncovered", Weight: 0.45, Value: 1 - best},
		{Name: "change-type", Weight: 0.2, Value: changeTypeRisk(r.Type)},
		{Name: "probe-size", Weight: 0.2, Value: probeSizeRisk(r.Method.ProbeCount)},
		{Name: "test-reach", Weight: 0.15, Value: testReachRisk(r.Tests)},
	}

	total := 0.0
	for _, f := range factors {
		total += f.Weight * f.Value
	}
	level := determineRiskLevel(total)

	return &RiskScore{
		Level:       level,
		Score:       total,
		Factors:     factors,
		Explanation: generateExplanation(level, r),
	}
}

func changeTypeRisk(t diff.ChangeType) float64 {
	if t == diff.ChangeNew {
		return 1.0
	}
	return 0.7
}

// probeSizeRisk grows logarithmically: 1 probe = 0.15, 10 = 0.52, 100+ = 1.0
func probeSizeRisk(probeCount int) float64 {
	if probeCount <= 0 {
		return 0
	}
	score := math.Log10(float64(probeCount)+1) / math.Log10(101)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func testReachRisk(tests int) float64 {
	if tests <= 0 {
		return 1.0
	}
	return 1.0 / float64(tests+1)
}

// determineRiskLevel converts numeric score to risk level
func determineRiskLevel(score float64) RiskLevel {
	if score >= 0.7 {
		return RiskHigh
	}
	if score >= 0.4 {
		return RiskMedium
	}
	return RiskLow
}

func generateExplanation(level RiskLevel, r Risk) string {
	switch level {
	case RiskHigh:
		return fmt.Sprintf("High risk: %s method with %d probe(s), %d/%d covered, reached by %d test(s).",
			r.Type, r.Method.ProbeCount, r.Current.Covered, r.Current.Total, r.Tests)
	case RiskMedium:
		return fmt.Sprintf("Medium risk: %s method with %d probe(s), %d/%d covered, reached by %d test(s).",
			r.Type, r.Method.ProbeCount, r.Current.Covered, r.Current.Total, r.Tests)
	default:
		return fmt.Sprintf("Low risk: %s method with %d probe(s), %d/%d covered, reached by %d test(s).",
			r.Type, r.Method.ProbeCount, r.Current.Covered, r.Current.Total, r.Tests)
	}
}

// SortRisks orders risks by descending score, then by signature.
func SortRisks(risks []Risk) {
	sort.SliceStable(risks, func(i, j int) bool {
		si, sj := scoreOf(risks[i]), scoreOf(risks[j])
		if si != sj {
			return si > sj
		}
		return risks[i].Method.Signature.Compare(risks[j].Method.Signature) < 0
	})
}

func scoreOf(r Risk) float64 {
	if r.Score == nil {
		return 0
	}
	return r.Score.Score
}

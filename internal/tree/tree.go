// Package tree projects aggregated coverage onto a package → class → method
// hierarchy.
package tree

import (
	"log/slog"
	"sort"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/probes"
)

// MethodNode is a leaf of the tree.
type MethodNode struct {
	Name       string         `json:"name"`
	Desc       string         `json:"desc"`
	Signature  diff.Signature `json:"-"`
	Count      probes.Count   `json:"count"`
	Percentage float64        `json:"percentage"`
	AssocTests int            `json:"assocTestsCount"`
	ProbeStart int            `json:"probeStart"`
	ProbeCount int            `json:"probeCount"`
}

// ClassNode groups the methods of one owner class.
type ClassNode struct {
	Name        string       `json:"name"`
	Path        string       `json:"path"`
	Count       probes.Count `json:"count"`
	Percentage  float64      `json:"percentage"`
	MethodCount probes.Count `json:"methodCount"`
	AssocTests  int          `json:"assocTestsCount"`
	Methods     []MethodNode `json:"methods"`
}

// PackageNode groups the classes of one package path.
type PackageNode struct {
	Name        string       `json:"name"`
	Count       probes.Count `json:"count"`
	Percentage  float64      `json:"percentage"`
	ClassCount  probes.Count `json:"classCount"`
	MethodCount probes.Count `json:"methodCount"`
	AssocTests  int          `json:"assocTestsCount"`
	Classes     []ClassNode  `json:"classes"`
}

// Anomaly records coverage that could not be placed in the tree.
type Anomaly struct {
	Code    cerrors.ErrorCode `json:"code"`
	Class   string            `json:"class"`
	Message string            `json:"message"`
}

// PackageTree is the projected hierarchy of one build.
// TotalMethods counts every method, instrumented or not.
type PackageTree struct {
	Build        diff.BuildKey `json:"build"`
	Count        probes.Count  `json:"count"`
	Percentage   float64       `json:"percentage"`
	PackageCount probes.Count  `json:"packageCount"`
	ClassCount   probes.Count  `json:"classCount"`
	MethodCount  probes.Count  `json:"methodCount"`
	TotalMethods int           `json:"totalMethods"`
	Packages     []PackageNode `json:"packages"`
	Anomalies    []Anomaly     `json:"anomalies,omitempty"`
}

// Projector builds PackageTrees.
type Projector struct {
	logger       *slog.Logger
	logAnomalies bool
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithAnomalyLogging logs a warning for every anomaly found.
func WithAnomalyLogging(enabled bool) ProjectorOption {
	return func(p *Projector) {
		p.logAnomalies = enabled
	}
}

// NewProjector creates a projector.
func NewProjector(logger *slog.Logger, opts ...ProjectorOption) *Projector {
	p := &Projector{logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project maps bundle onto methods. bundle may be nil, in which case every
// node reports zero coverage.
func (p *Projector) Project(bundle *coverage.Bundle, methods []diff.Method) *PackageTree {
	t := &PackageTree{TotalMethods: len(methods), Packages: []PackageNode{}}
	total := coverage.ClassProbes{}
	var perTest map[coverage.TestKey]coverage.ClassProbes
	if bundle != nil {
		t.Build = bundle.Build
		total = bundle.Total
		perTest = bundle.PerTest
	}

	byClass := make(map[string][]diff.Method)
	for _, m := range methods {
		if m.Instrumented() {
			byClass[m.Owner] = append(byClass[m.Owner], m)
		}
	}
	widths := diff.ClassWidths(methods)

	for _, class := range total.Classes() {
		if _, ok := byClass[class]; !ok {
			p.anomaly(t, class, "coverage recorded for a class with no instrumented methods")
		}
	}

	classNames := make([]string, 0, len(byClass))
	for class := range byClass {
		classNames = append(classNames, class)
	}
	sort.Strings(classNames)

	usable := make(map[string]bool, len(byClass))
	for _, class := range classNames {
		bits, ok := total[class]
		if ok && bits.Width() < widths[class] {
			p.anomaly(t, class, "recorded probe width is smaller than the class layout")
			continue
		}
		usable[class] = true
	}

	// tests associated per method, class and package
	methodTests := make(map[diff.Signature]int)
	classTests := make(map[string]int)
	packageTests := make(map[string]int)
	for _, testBits := range perTest {
		seenPkg := make(map[string]bool)
		for class, ms := range byClass {
			if !usable[class] {
				continue
			}
			bits, ok := testBits[class]
			if !ok {
				continue
			}
			hit := false
			for _, m := range ms {
				if bits.AnyIn(m.ProbeStart, m.ProbeCount) {
					methodTests[m.Signature]++
					hit = true
				}
			}
			if hit {
				classTests[class]++
				pkg := ms[0].Package()
				if !seenPkg[pkg] {
					seenPkg[pkg] = true
					packageTests[pkg]++
				}
			}
		}
	}

	byPackage := make(map[string][]string)
	for class, ms := range byClass {
		pkg := ms[0].Package()
		byPackage[pkg] = append(byPackage[pkg], class)
	}
	pkgNames := make([]string, 0, len(byPackage))
	for pkg := range byPackage {
		pkgNames = append(pkgNames, pkg)
	}
	sort.Strings(pkgNames)

	for _, pkg := range pkgNames {
		pn := PackageNode{Name: pkg, AssocTests: packageTests[pkg], Classes: []ClassNode{}}
		classes := byPackage[pkg]
		sort.Strings(classes)

		for _, class := range classes {
			ms := byClass[class]
			diff.SortMethods(ms)
			cn := ClassNode{
				Name:       ms[0].ClassName(),
				Path:       class,
				AssocTests: classTests[class],
				Methods:    make([]MethodNode, 0, len(ms)),
			}
			for _, m := range ms {
				count := probes.Count{Total: m.ProbeCount}
				if usable[class] {
					count = total.MethodCount(m)
				}
				cn.Methods = append(cn.Methods, MethodNode{
					Name:       m.Name,
					Desc:       m.Desc(),
					Signature:  m.Signature,
					Count:      count,
					Percentage: count.Percentage(),
					AssocTests: methodTests[m.Signature],
					ProbeStart: m.ProbeStart,
					ProbeCount: m.ProbeCount,
				})
				cn.Count = cn.Count.Add(count)
				cn.MethodCount.Total++
				if count.Covered > 0 {
					cn.MethodCount.Covered++
				}
			}
			cn.Percentage = cn.Count.Percentage()

			pn.Classes = append(pn.Classes, cn)
			pn.Count = pn.Count.Add(cn.Count)
			pn.MethodCount = pn.MethodCount.Add(cn.MethodCount)
			pn.ClassCount.Total++
			if cn.Count.Covered > 0 {
				pn.ClassCount.Covered++
			}
		}
		pn.Percentage = pn.Count.Percentage()

		t.Packages = append(t.Packages, pn)
		t.Count = t.Count.Add(pn.Count)
		t.ClassCount = t.ClassCount.Add(pn.ClassCount)
		t.MethodCount = t.MethodCount.Add(pn.MethodCount)
		t.PackageCount.Total++
		if pn.ClassCount.Covered > 0 {
			t.PackageCount.Covered++
		}
	}
	t.Percentage = t.Count.Percentage()

	return t
}

func (p *Projector) anomaly(t *PackageTree, class, message string) {
	t.Anomalies = append(t.Anomalies, Anomaly{Code: cerrors.MissingTreeNode, Class: class, Message: message})
	if p.logAnomalies && p.logger != nil {
		p.logger.Warn("Coverage tree anomaly",
			"code", string(cerrors.MissingTreeNode),
			"build", t.Build.String(),
			"class", class,
			"message", message,
		)
	}
}

// Find returns the class node at path, or nil.
func (t *PackageTree) Find(path string) *ClassNode {
	for i := range t.Packages {
		for j := range t.Packages[i].Classes {
			if t.Packages[i].Classes[j].Path == path {
				return &t.Packages[i].Classes[j]
			}
		}
	}
	return nil
}

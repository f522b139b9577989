package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	"covdiff/internal/impact"
	"covdiff/internal/jobs"
	"covdiff/internal/paging"
	"covdiff/internal/probes"
	"covdiff/internal/service"
	"covdiff/internal/storage"
	"covdiff/internal/tree"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// printResult writes resp to stdout in the --format format.
func printResult(resp any) error {
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// FormatResponse formats a response according to the specified format
func FormatResponse(resp any, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(resp any) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatHuman(resp any) (string, error) {
	switch v := resp.(type) {
	case *service.IngestResult:
		return formatIngestHuman(v), nil
	case []storage.BuildInfo:
		return formatBuildsHuman(v), nil
	case *ChangesResponse:
		return formatChangesHuman(v), nil
	case *CoverageResponse:
		return formatCoverageHuman(v), nil
	case *tree.PackageTree:
		return formatTreeHuman(v), nil
	case []tree.TreemapNode:
		return formatTreemapHuman(v), nil
	case []impact.Risk:
		return formatRisksHuman(v), nil
	case []impact.ImpactedMethod:
		return formatImpactedMethodsHuman(v), nil
	case []impact.TestImpact:
		return formatTestImpactsHuman(v), nil
	case *paging.List[impact.Recommendation]:
		return formatRecommendationsHuman(v), nil
	case []impact.MethodCoverage:
		return formatMethodsCoverageHuman(v), nil
	case *impact.BuildDiffReport:
		return formatReportHuman(v), nil
	case *paging.List[jobs.JobSummary]:
		return formatJobsHuman(v), nil
	case *jobs.Job:
		return formatJobHuman(v), nil
	default:
		return formatJSON(resp)
	}
}

func header(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
}

func countText(c probes.Count) string {
	return fmt.Sprintf("%d/%d (%.1f%%)", c.Covered, c.Total, c.Percentage())
}

func formatIngestHuman(r *service.IngestResult) string {
	var b strings.Builder
	header(&b, "Ingested "+r.Build.String())
	fmt.Fprintf(&b, "Methods stored: %v\n", r.SnapshotSaved)
	fmt.Fprintf(&b, "Executions:     %d\n", r.Executions)
	if r.SessionID != "" {
		fmt.Fprintf(&b, "Session:        %s\n", r.SessionID)
	}
	return b.String()
}

func formatBuildsHuman(builds []storage.BuildInfo) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Builds (%d)", len(builds)))
	for _, info := range builds {
		fmt.Fprintf(&b, "  %-30s methods=%-6d executions=%-6d %s", info.Key, info.Methods, info.Executions,
			info.CreatedAt.Format("2006-01-02 15:04"))
		if info.Branch != "" {
			fmt.Fprintf(&b, " [%s]", info.Branch)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ChangesResponse is the output of the diff command.
type ChangesResponse struct {
	Target   string          `json:"target"`
	Baseline string          `json:"baseline"`
	Summary  diff.Summary    `json:"summary"`
	Changes  *diff.ChangeSet `json:"changes"`
}

func formatChangesHuman(r *ChangesResponse) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Changes %s vs %s", r.Target, r.Baseline))
	fmt.Fprintf(&b, "New: %d  Modified: %d  Deleted: %d  Unaffected: %d\n\n",
		r.Summary.New, r.Summary.Modified, r.Summary.Deleted, r.Summary.Unaffected)
	section := func(label string, methods []diff.Method) {
		if len(methods) == 0 {
			return
		}
		b.WriteString(label + ":\n")
		for _, m := range methods {
			fmt.Fprintf(&b, "  %s\n", m.Signature)
		}
		b.WriteString("\n")
	}
	section("New", r.Changes.New)
	section("Modified", r.Changes.Modified)
	section("Deleted", r.Changes.Deleted)
	return b.String()
}

// CoverageResponse is the output of the coverage command.
type CoverageResponse struct {
	Build      string                  `json:"build"`
	Executions int                     `json:"executions"`
	Total      probes.Count            `json:"total"`
	Classes    map[string]probes.Count `json:"classes"`
	TestTypes  map[string]probes.Count `json:"testTypes"`
	Overlap    probes.Count            `json:"overlap"`
	Tests      []coverage.TestKey      `json:"tests"`
}

func newCoverageResponse(b *coverage.Bundle) *CoverageResponse {
	resp := &CoverageResponse{
		Build:      b.Build.String(),
		Executions: b.Executions,
		Total:      b.Total.Count(),
		Classes:    make(map[string]probes.Count, len(b.Total)),
		TestTypes:  make(map[string]probes.Count, len(b.PerTestType)),
		Overlap:    b.Overlap.Count(),
		Tests:      b.Tests(),
	}
	for class, bits := range b.Total {
		resp.Classes[class] = probes.CountOf(bits)
	}
	for typ, cp := range b.PerTestType {
		resp.TestTypes[typ] = cp.Count()
	}
	return resp
}

func formatCoverageHuman(r *CoverageResponse) string {
	var b strings.Builder
	header(&b, "Coverage of "+r.Build)
	fmt.Fprintf(&b, "Executions: %d\n", r.Executions)
	fmt.Fprintf(&b, "Total:      %s\n", countText(r.Total))
	fmt.Fprintf(&b, "Overlap:    %s\n", countText(r.Overlap))
	fmt.Fprintf(&b, "Tests:      %d\n\n", len(r.Tests))

	if len(r.TestTypes) > 0 {
		b.WriteString("By test type:\n")
		for _, typ := range sortedKeys(r.TestTypes) {
			fmt.Fprintf(&b, "  %-20s %s\n", typ, countText(r.TestTypes[typ]))
		}
		b.WriteString("\n")
	}
	b.WriteString("By class:\n")
	for _, class := range sortedKeys(r.Classes) {
		fmt.Fprintf(&b, "  %-50s %s\n", class, countText(r.Classes[class]))
	}
	return b.String()
}

func sortedKeys(m map[string]probes.Count) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTreeHuman(t *tree.PackageTree) string {
	var b strings.Builder
	header(&b, "Coverage tree of "+t.Build.String())
	fmt.Fprintf(&b, "Probes:   %s\n", countText(t.Count))
	fmt.Fprintf(&b, "Packages: %s\n", countText(t.PackageCount))
	fmt.Fprintf(&b, "Classes:  %s\n", countText(t.ClassCount))
	fmt.Fprintf(&b, "Methods:  %s of %d\n\n", countText(t.MethodCount), t.TotalMethods)

	for _, p := range t.Packages {
		name := p.Name
		if name == "" {
			name = "(default)"
		}
		fmt.Fprintf(&b, "%s  %s\n", name, countText(p.Count))
		for _, c := range p.Classes {
			fmt.Fprintf(&b, "  %s  %s  tests=%d\n", c.Name, countText(c.Count), c.AssocTests)
			for _, m := range c.Methods {
				fmt.Fprintf(&b, "    %s%s  %s\n", m.Name, m.Desc, countText(m.Count))
			}
		}
	}
	if len(t.Anomalies) > 0 {
		b.WriteString("\nAnomalies:\n")
		for _, a := range t.Anomalies {
			fmt.Fprintf(&b, "  ! %s: %s\n", a.Class, a.Message)
		}
	}
	return b.String()
}

func formatTreemapHuman(nodes []tree.TreemapNode) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Treemap (%d nodes)", len(nodes)))
	for _, n := range nodes {
		kind := " "
		if n.Leaf {
			kind = "*"
		}
		fmt.Fprintf(&b, "%s %-60s %s\n", kind, n.FullName, countText(n.Count))
	}
	return b.String()
}

func formatRisksHuman(risks []impact.Risk) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Risks (%d)", len(risks)))
	for _, r := range risks {
		level := ""
		if r.Score != nil {
			level = fmt.Sprintf(" [%s %.2f]", r.Score.Level, r.Score.Score)
		}
		fmt.Fprintf(&b, "%-9s %s%s\n", r.Type, r.Method.Signature, level)
		fmt.Fprintf(&b, "          current %s  previous %s  tests %d\n",
			countText(r.Current), countText(r.Previous), r.Tests)
	}
	return b.String()
}

func formatImpactedMethodsHuman(methods []impact.ImpactedMethod) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Impacted methods (%d)", len(methods)))
	for _, m := range methods {
		fmt.Fprintf(&b, "%-9s %s  %s\n", m.Type, m.Method.Signature, countText(m.Count))
		for _, t := range m.Tests {
			fmt.Fprintf(&b, "          covered by %s\n", t)
		}
	}
	return b.String()
}

func formatTestImpactsHuman(tests []impact.TestImpact) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Impacted tests (%d)", len(tests)))
	for _, t := range tests {
		fmt.Fprintf(&b, "%-15s %s", t.Status, t.Test)
		if t.Build != "" {
			fmt.Fprintf(&b, "  (coverage from %s)", t.Build)
		}
		b.WriteString("\n")
		for _, m := range t.Methods {
			fmt.Fprintf(&b, "                  %s\n", m)
		}
	}
	return b.String()
}

func formatRecommendationsHuman(l *paging.List[impact.Recommendation]) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Recommended tests (page %d, %d of %d)", l.Page.Number, len(l.Items), l.Total))
	for _, r := range l.Items {
		fmt.Fprintf(&b, "%-4s %-15s %s\n", r.Action, r.Status, r.Test)
		for _, m := range r.Methods {
			fmt.Fprintf(&b, "                     %s\n", m)
		}
	}
	if l.HasNext() {
		fmt.Fprintf(&b, "\nNext page: --page %d\n", l.Next().Number)
	}
	return b.String()
}

func formatMethodsCoverageHuman(methods []impact.MethodCoverage) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Method coverage (%d)", len(methods)))
	for _, m := range methods {
		fmt.Fprintf(&b, "%s\n    isolated %s  aggregated %s", m.Method.Signature,
			countText(m.Isolated), countText(m.Aggregated))
		if len(m.Builds) > 0 {
			fmt.Fprintf(&b, "  builds %s", strings.Join(m.Builds, ","))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatReportHuman(r *impact.BuildDiffReport) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Build diff report %s vs %s", r.Target, r.Baseline))
	fmt.Fprintf(&b, "Changes:           %d (new %d, modified %d, deleted %d)\n",
		r.TotalChanges, r.New, r.Modified, r.Deleted)
	fmt.Fprintf(&b, "Changed coverage:  %s\n", countText(r.Coverage))
	fmt.Fprintf(&b, "Uncovered changes: %d\n", r.Risks)
	fmt.Fprintf(&b, "Tests to run:      %d\n", r.RecommendedTests)
	verdict := "✓ meets"
	if !r.MeetsThreshold {
		verdict = "✗ below"
	}
	fmt.Fprintf(&b, "Threshold:         %s %.1f%%\n", verdict, r.Threshold)
	return b.String()
}

func formatJobsHuman(l *paging.List[jobs.JobSummary]) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Jobs (page %d, %d of %d)", l.Page.Number, len(l.Items), l.Total))
	for _, j := range l.Items {
		fmt.Fprintf(&b, "%s  %-20s %-10s %3d%%  %s\n", j.ID, j.Type, j.Status, j.Progress,
			j.CreatedAt.Format("2006-01-02 15:04:05"))
		if j.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", j.Error)
		}
	}
	return b.String()
}

func formatJobHuman(j *jobs.Job) string {
	var b strings.Builder
	header(&b, "Job "+j.ID)
	fmt.Fprintf(&b, "Type:     %s\n", j.Type)
	fmt.Fprintf(&b, "Status:   %s (%d%%)\n", j.Status, j.Progress)
	fmt.Fprintf(&b, "Created:  %s\n", j.CreatedAt.Format("2006-01-02 15:04:05"))
	if d := j.Duration(); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", d.Round(time.Millisecond))
	}
	if len(j.Scope) > 0 {
		fmt.Fprintf(&b, "Scope:    %s\n", j.Scope)
	}
	if j.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", j.Error)
	}
	if len(j.Result) > 0 {
		fmt.Fprintf(&b, "Result:   %s\n", j.Result)
	}
	return b.String()
}

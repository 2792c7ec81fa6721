// Package audit defines the shared finding and report model used by every
// checker, plus the aggregation and scoring applied at the end of each run.
package audit

import "fmt"

// Severity classifies the importance of a finding. The same ordered set is
// used for remediation priority tiers.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Rank orders severities from most (0) to least important. Unknown values
// sort after low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Valid reports whether s is one of the enumerated severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// ParseSeverity converts a configuration value into a Severity.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Category identifies the kind of issue a finding describes.
type Category string

const (
	CategorySyntaxRisk             Category = "syntax_risk"
	CategoryDependencyUnresolvable Category = "dependency_unresolvable"
	CategoryDependencyRisk         Category = "dependency_risk"
	CategoryUndefinedBeforeUse     Category = "undefined_before_use"
	CategoryPermissionMismatch     Category = "permission_mismatch"
	CategoryPathMissing            Category = "path_missing"
	CategoryRouteTargetMissing     Category = "route_target_missing"
	CategoryRouteEntryMissing      Category = "route_entry_missing"
	CategoryRewriteRulesMissing    Category = "rewrite_rules_missing"
	CategorySensitiveExposure      Category = "sensitive_exposure"
	CategorySchemaMissingTable     Category = "schema_missing_table"
	CategorySchemaMissingColumn    Category = "schema_missing_column"
	CategoryDataEmptyTable         Category = "data_empty_table"
	CategoryDataDanglingReference  Category = "data_dangling_reference"
)

// Finding is a single detected issue. Findings are values and are never
// modified once appended to a report.
type Finding struct {
	Category Category       `json:"category"`
	Severity Severity       `json:"severity"`
	File     string         `json:"file"`
	Line     int            `json:"line,omitempty"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

func (f Finding) String() string {
	loc := f.File
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("[%s] %s %s: %s", f.Severity, f.Category, loc, f.Message)
}

// Status is the outcome of one sub-check.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusMissing Status = "MISSING"
	StatusError   Status = "ERROR"
	StatusInfo    Status = "INFO"
	StatusSkipped Status = "SKIPPED"
)

// Counted reports whether the status takes part in pass/total counts.
// Informational and skipped items are reported but never scored.
func (s Status) Counted() bool {
	return s != StatusInfo && s != StatusSkipped
}

// Item is one sub-check within a category, e.g. one file, one directory or
// one expected table.
type Item struct {
	Name    string         `json:"name"`
	Section string         `json:"section,omitempty"`
	Status  Status         `json:"status"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Summary holds pass/fail counts over counted items.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// SectionSummary is the Summary and score for one section of a report.
type SectionSummary struct {
	Name   string  `json:"name"`
	Passed int     `json:"passed"`
	Failed int     `json:"failed"`
	Total  int     `json:"total"`
	Score  float64 `json:"score"`
	Scored bool    `json:"scored"`
}

// ReportFailed is the status label of a category that aborted as a whole.
const ReportFailed = "FAILED"

// Report is the persisted result of one checker invocation.
type Report struct {
	Category string           `json:"category"`
	Status   string           `json:"status"`
	Score    float64          `json:"score"`
	Summary  Summary          `json:"summary"`
	Sections []SectionSummary `json:"sections,omitempty"`
	Items    []Item           `json:"items"`
	Findings []Finding        `json:"findings"`
	Error    string           `json:"error,omitempty"`
}

// Failed builds the report of a category that could not run at all. It
// carries no items and no partial findings.
func Failed(category string, err error) Report {
	r := Report{
		Category: category,
		Status:   ReportFailed,
		Score:    0,
		Items:    []Item{},
		Findings: []Finding{},
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// CountBySeverity tallies a report's findings per severity.
func (r Report) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

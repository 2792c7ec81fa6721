// Package remediation turns persisted category reports into a single
// prioritized fix plan. Fixes are proposed as data; nothing is applied.
package remediation

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"sort"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/config"
)

// Payload kinds tell a reader how to apply an item's payload.
const (
	PayloadStatement = "statement"
	PayloadFile      = "file"
	PayloadCommands  = "commands"
	PayloadSQL       = "sql"
)

// Item is one proposed fix, traceable to the finding it came from.
type Item struct {
	Priority     audit.Severity `json:"priority"`
	Source       string         `json:"source"`
	FindingIndex int            `json:"finding_index"`
	Category     audit.Category `json:"category"`
	File         string         `json:"file"`
	Line         int            `json:"line,omitempty"`
	Title        string         `json:"title"`
	Action       string         `json:"action"`
	Target       string         `json:"target,omitempty"`
	PayloadKind  string         `json:"payload_kind,omitempty"`
	Payload      string         `json:"payload,omitempty"`
	Finding      audit.Finding  `json:"finding"`
}

// Source records a report the plan was built from.
type Source struct {
	Category string  `json:"category"`
	Status   string  `json:"status"`
	Score    float64 `json:"score"`
	Findings int     `json:"findings"`
	Error    string  `json:"error,omitempty"`
}

// Missing records a report that could not be used.
type Missing struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// Plan is the ordered remediation plan.
type Plan struct {
	Items     []Item                 `json:"items"`
	Sources   []Source               `json:"sources"`
	Missing   []Missing              `json:"missing"`
	Counts    map[audit.Severity]int `json:"counts"`
	Unfixable int                    `json:"unfixable"`
}

// Synthesizer builds plans using the configured fix templates.
type Synthesizer struct {
	cfg    config.RemediationConfig
	anchor string
}

func New(cfg config.Config) *Synthesizer {
	return &Synthesizer{cfg: cfg.Remediation, anchor: cfg.Dependencies.AnchorToken}
}

// PlanPath returns where the plan is stored inside dir.
func (s *Synthesizer) PlanPath(dir artifact.Dir) string {
	return filepath.Join(string(dir), s.cfg.PlanFile)
}

// Load reads the reports for categories, in that order, followed by any other
// reports present in dir. Absent or unreadable reports are listed as missing.
func Load(dir artifact.Dir, categories []string) ([]audit.Report, []Missing) {
	order := slices.Clone(categories)
	onDisk, err := dir.Categories()
	if err != nil {
		return nil, []Missing{{Category: "*", Reason: "unreadable output directory: " + err.Error()}}
	}
	for _, c := range onDisk {
		if !slices.Contains(order, c) {
			order = append(order, c)
		}
	}

	var reports []audit.Report
	var missing []Missing
	for _, c := range order {
		r, err := dir.ReadReport(c)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, Missing{Category: c, Reason: "no report"})
			continue
		case err != nil:
			missing = append(missing, Missing{Category: c, Reason: "unreadable: " + err.Error()})
			continue
		}
		if r.Category == "" {
			r.Category = c
		}
		reports = append(reports, r)
	}
	return reports, missing
}

// Synthesize loads the reports from dir and builds the plan.
func (s *Synthesizer) Synthesize(dir artifact.Dir, categories []string) Plan {
	reports, missing := Load(dir, categories)
	p := s.Build(reports)
	if missing != nil {
		p.Missing = missing
	}
	return p
}

// Build derives the plan from reports given in discovery order. Items are
// stable-sorted by priority tier only.
func (s *Synthesizer) Build(reports []audit.Report) Plan {
	p := Plan{
		Items:   []Item{},
		Sources: []Source{},
		Missing: []Missing{},
		Counts:  make(map[audit.Severity]int),
	}
	for _, r := range reports {
		p.Sources = append(p.Sources, Source{
			Category: r.Category,
			Status:   r.Status,
			Score:    r.Score,
			Findings: len(r.Findings),
			Error:    r.Error,
		})
		for i, f := range r.Findings {
			it, ok := s.itemFor(f)
			if !ok {
				p.Unfixable++
				continue
			}
			it.Source = r.Category
			it.FindingIndex = i
			it.Category = f.Category
			it.File = f.File
			it.Line = f.Line
			it.Finding = f
			p.Items = append(p.Items, it)
		}
	}
	sort.SliceStable(p.Items, func(i, j int) bool {
		return p.Items[i].Priority.Rank() < p.Items[j].Priority.Rank()
	})
	for _, it := range p.Items {
		p.Counts[it.Priority]++
	}
	return p
}

// Write persists the plan atomically.
func (s *Synthesizer) Write(dir artifact.Dir, p Plan) (string, error) {
	path := s.PlanPath(dir)
	return path, artifact.WriteJSON(path, p)
}

// ReadPlan loads a persisted plan.
func ReadPlan(path string) (Plan, error) {
	var p Plan
	if err := artifact.ReadJSON(path, &p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Urgent returns the critical and high items.
func (p Plan) Urgent() []Item {
	var out []Item
	for _, it := range p.Items {
		if it.Priority.Rank() <= audit.SeverityHigh.Rank() {
			out = append(out, it)
		}
	}
	return out
}

package audit

import (
	"math"
	"slices"
)

// Score converts pass/total counts into a health score in [0,100], rounded to
// one decimal. An empty category scores 100.
func Score(passed, total int) float64 {
	if total <= 0 {
		return 100
	}
	passed = max(0, min(passed, total))
	return math.Round(float64(passed)/float64(total)*1000) / 10
}

// Threshold maps a minimum score to a status label.
type Threshold struct {
	Min   float64 `yaml:"min" json:"min"`
	Label string  `yaml:"label" json:"label"`
}

// Thresholds is a per-category classification table. Categories do not share
// one table: some use a single cutoff, others two tiers.
type Thresholds []Threshold

// Classify returns the label of the highest threshold whose minimum the score
// reaches. Entry order in the table does not matter.
func (t Thresholds) Classify(score float64) string {
	best := -1
	for i, th := range t {
		if score < th.Min {
			continue
		}
		if best < 0 || th.Min > t[best].Min {
			best = i
		}
	}
	if best < 0 {
		return "UNRATED"
	}
	return t[best].Label
}

// Accumulator collects items and findings for one checker run. It is a value
// threaded through each check step; like append, Add returns the extended
// accumulator and the argument must not be reused afterwards.
type Accumulator struct {
	items    []Item
	findings []Finding
}

// Add records one sub-check and any findings it raised.
func (a Accumulator) Add(item Item, findings ...Finding) Accumulator {
	a.items = append(a.items, item)
	a.findings = append(a.findings, findings...)
	return a
}

// Findings returns the findings collected so far.
func (a Accumulator) Findings() []Finding {
	return a.findings
}

// Build reduces the accumulated sub-checks into a report. Only items in the
// scored sections feed the overall score; with no sections given every
// section is scored.
func (a Accumulator) Build(category string, th Thresholds, scored ...string) Report {
	isScored := func(section string) bool {
		return len(scored) == 0 || slices.Contains(scored, section)
	}

	var overall Summary
	var sections []SectionSummary
	index := make(map[string]int)

	for _, it := range a.items {
		i, ok := index[it.Section]
		if !ok {
			i = len(sections)
			index[it.Section] = i
			sections = append(sections, SectionSummary{Name: it.Section, Scored: isScored(it.Section)})
		}
		if !it.Status.Counted() {
			continue
		}
		sections[i].Total++
		if it.Status == StatusPass {
			sections[i].Passed++
		}
		if isScored(it.Section) {
			overall.Total++
			if it.Status == StatusPass {
				overall.Passed++
			}
		}
	}
	overall.Failed = overall.Total - overall.Passed
	for i := range sections {
		sections[i].Failed = sections[i].Total - sections[i].Passed
		sections[i].Score = Score(sections[i].Passed, sections[i].Total)
	}
	// A report made of a single unnamed section does not need the breakdown.
	if len(sections) == 1 && sections[0].Name == "" {
		sections = nil
	}

	items := a.items
	if items == nil {
		items = []Item{}
	}
	findings := a.findings
	if findings == nil {
		findings = []Finding{}
	}

	score := Score(overall.Passed, overall.Total)
	return Report{
		Category: category,
		Status:   th.Classify(score),
		Score:    score,
		Summary:  overall,
		Sections: sections,
		Items:    items,
		Findings: findings,
	}
}

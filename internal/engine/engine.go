// Package engine runs checkers as one sequential batch and persists each
// category's report as it completes.
package engine

import (
	"context"
	"fmt"
	"time"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/checks"
	"deployaudit/internal/config"
	"deployaudit/internal/dbcheck"
)

// Stats reports batch results.
type Stats struct {
	Categories int
	Findings   int
	Failed     int
	BySeverity map[audit.Severity]int
}

// Result is one category's outcome.
type Result struct {
	Report  audit.Report
	Path    string
	Elapsed time.Duration
}

// ProgressFunc is called after each category's artifact is written.
type ProgressFunc func(Result)

// Engine is the public API for running audits.
type Engine struct {
	registry   *checks.Registry
	out        artifact.Dir
	onProgress ProgressFunc
}

// NewRegistry builds the full checker registry in scan order: the file
// checkers, then the database checker when enabled.
func NewRegistry(cfg config.Config) (*checks.Registry, error) {
	list, err := checks.FileCheckers(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Enabled {
		list = append(list, dbcheck.New(cfg.Database))
	}
	return checks.NewRegistry(list...)
}

// New creates an Engine for cfg writing to cfg's output directory.
func New(cfg config.Config, onProgress ProgressFunc) (*Engine, error) {
	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("build checkers: %w", err)
	}
	return NewWithRegistry(reg, artifact.Dir(cfg.OutputPath()), onProgress), nil
}

// NewWithRegistry creates an Engine over an existing registry.
func NewWithRegistry(reg *checks.Registry, out artifact.Dir, onProgress ProgressFunc) *Engine {
	return &Engine{registry: reg, out: out, onProgress: onProgress}
}

func (e *Engine) Registry() *checks.Registry { return e.registry }

func (e *Engine) OutputDir() artifact.Dir { return e.out }

// FileCategories returns the registered categories that only inspect the
// file tree.
func (e *Engine) FileCategories() []string {
	var out []string
	for _, name := range e.registry.Categories() {
		if name != dbcheck.Category {
			out = append(out, name)
		}
	}
	return out
}

// Run executes the selected categories (all when none are named) strictly
// one after another in scan order. Each artifact is fully replaced. Only a
// failure to persist an artifact, or cancellation, stops the batch.
func (e *Engine) Run(ctx context.Context, categories ...string) ([]Result, Stats, error) {
	stats := Stats{BySeverity: make(map[audit.Severity]int)}
	selected, err := e.registry.Select(categories...)
	if err != nil {
		return nil, stats, err
	}

	var results []Result
	for _, c := range selected {
		if err := ctx.Err(); err != nil {
			return results, stats, err
		}
		start := time.Now()
		report := c.Run(ctx)
		report.Category = c.Category()

		if err := e.out.WriteReport(report); err != nil {
			return results, stats, fmt.Errorf("write %s report: %w", c.Category(), err)
		}
		res := Result{Report: report, Path: e.out.ReportPath(c.Category()), Elapsed: time.Since(start)}
		results = append(results, res)

		stats.Categories++
		stats.Findings += len(report.Findings)
		if report.Status == audit.ReportFailed {
			stats.Failed++
		}
		for sev, n := range report.CountBySeverity() {
			stats.BySeverity[sev] += n
		}
		if e.onProgress != nil {
			e.onProgress(res)
		}
	}
	return results, stats, nil
}

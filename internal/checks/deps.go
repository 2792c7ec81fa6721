package checks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/resolve"
	"deployaudit/internal/walker"
)

// Dependencies resolves every include/require reference and flags the ones
// that cannot load or that only load by accident of the working directory.
type Dependencies struct {
	scanner *walker.Scanner
	syntax  resolve.Syntax
	sim     resolve.Simulator
	fragile []string
	th      audit.Thresholds
}

func NewDependencies(cfg config.Config) (*Dependencies, error) {
	syn, err := resolve.NewSyntax(cfg.Dependencies.Pattern, cfg.Dependencies.AnchorToken)
	if err != nil {
		return nil, fmt.Errorf("dependency checker: %w", err)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("dependency checker: %w", err)
	}
	return &Dependencies{
		scanner: walker.New(cfg.Root, walker.Options{
			Extensions: cfg.Dependencies.Extensions,
			Ignore:     scanIgnore(cfg),
		}),
		syntax:  syn,
		sim:     resolve.Simulator{Root: root},
		fragile: cfg.Dependencies.FragileSegments,
		th:      cfg.Dependencies.Thresholds,
	}, nil
}

func (c *Dependencies) Category() string { return DependencyPath }

func (c *Dependencies) Description() string {
	return "Include/require references resolved against file, root and working directory"
}

func (c *Dependencies) Run(ctx context.Context) audit.Report {
	acc, err := scanFiles(ctx, c.scanner, audit.Accumulator{}, c.checkFile)
	if err != nil {
		return audit.Failed(c.Category(), err)
	}
	return acc.Build(c.Category(), c.th)
}

func (c *Dependencies) checkFile(acc audit.Accumulator, f *walker.FileRecord, content []byte) audit.Accumulator {
	for _, ref := range resolve.Extract(content, c.syntax) {
		res := c.sim.Resolve(ref, f.Path)
		acc = c.record(acc, f, ref, res)
	}
	return acc
}

func (c *Dependencies) record(acc audit.Accumulator, f *walker.FileRecord, ref resolve.Reference, res resolve.Resolution) audit.Accumulator {
	fragile := c.fragileSegment(ref.Raw)
	evidence := map[string]any{
		"reference":               ref.Raw,
		"statement":               ref.Statement,
		"kind":                    ref.Kind,
		"anchored":                ref.Anchored,
		"declaring_dir":           res.DeclaringDir,
		"attempts":                attemptsEvidence(res.Attempts),
		"parent_directory_escape": res.ParentEscape,
		"missing_anchor":          res.MissingAnchor,
	}
	if res.AnchorBypassed {
		evidence["anchor_bypassed"] = true
	}
	if fragile != "" {
		evidence["fragile_segment"] = fragile
	}
	item := audit.Item{
		Name:   fmt.Sprintf("%s:%d %s", f.RelPath, ref.Line, ref.Raw),
		Status: audit.StatusPass,
		Detail: map[string]any{"resolved": res.Resolved, "path": res.WinningPath()},
	}

	switch {
	case !res.Resolved:
		item.Status = audit.StatusFail
		return acc.Add(item, audit.Finding{
			Category: audit.CategoryDependencyUnresolvable,
			Severity: audit.SeverityHigh,
			File:     f.RelPath,
			Line:     ref.Line,
			Message:  fmt.Sprintf("%s %q does not resolve from any candidate location", ref.Kind, ref.Raw),
			Evidence: evidence,
		})
	case res.Risky():
		item.Status = audit.StatusFail
		sev := audit.SeverityMedium
		if fragile != "" {
			sev = audit.SeverityHigh
		}
		return acc.Add(item, audit.Finding{
			Category: audit.CategoryDependencyRisk,
			Severity: sev,
			File:     f.RelPath,
			Line:     ref.Line,
			Message:  fmt.Sprintf("%s %q resolves but depends on the include path (%s)", ref.Kind, ref.Raw, riskLabel(res)),
			Evidence: evidence,
		})
	}
	return acc.Add(item)
}

func (c *Dependencies) fragileSegment(raw string) string {
	for _, seg := range c.fragile {
		if strings.Contains(filepath.ToSlash(raw), seg) {
			return seg
		}
	}
	return ""
}

func riskLabel(res resolve.Resolution) string {
	var parts []string
	if res.ParentEscape {
		parts = append(parts, "parent directory escape")
	}
	if res.MissingAnchor {
		parts = append(parts, "missing anchor")
	}
	return strings.Join(parts, ", ")
}

// attemptsEvidence flattens attempts into the generic shape they have after
// a round trip through JSON, so consumers see one form.
func attemptsEvidence(attempts []resolve.Attempt) []any {
	out := make([]any, len(attempts))
	for i, a := range attempts {
		out[i] = map[string]any{
			"method": string(a.Method),
			"path":   a.Path,
			"exists": a.Exists,
		}
	}
	return out
}

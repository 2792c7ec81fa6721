package checks

import (
	"bytes"
	"context"
	"fmt"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/walker"
)

// Syntax flags files whose brace or parenthesis counts do not balance.
//
// This is a counting heuristic, not a parser. Delimiters inside string and
// comment literals are counted too, so a literal "{" produces a false
// positive and a mismatch hidden inside literals can cancel a real one.
type Syntax struct {
	scanner  *walker.Scanner
	severity audit.Severity
	th       audit.Thresholds
}

func NewSyntax(cfg config.Config) *Syntax {
	sev := cfg.Syntax.Severity
	if sev == "" {
		sev = audit.SeverityHigh
	}
	return &Syntax{
		scanner: walker.New(cfg.Root, walker.Options{
			Extensions: cfg.Syntax.Extensions,
			Ignore:     scanIgnore(cfg),
		}),
		severity: sev,
		th:       cfg.Syntax.Thresholds,
	}
}

func (c *Syntax) Category() string { return SyntaxBalance }

func (c *Syntax) Description() string {
	return "Brace and parenthesis balance per source file"
}

func (c *Syntax) Run(ctx context.Context) audit.Report {
	acc, err := scanFiles(ctx, c.scanner, audit.Accumulator{}, c.checkFile)
	if err != nil {
		return audit.Failed(c.Category(), err)
	}
	return acc.Build(c.Category(), c.th)
}

func (c *Syntax) checkFile(acc audit.Accumulator, f *walker.FileRecord, content []byte) audit.Accumulator {
	ob := bytes.Count(content, []byte("{"))
	cb := bytes.Count(content, []byte("}"))
	op := bytes.Count(content, []byte("("))
	cp := bytes.Count(content, []byte(")"))
	counts := map[string]any{
		"open_braces":  ob,
		"close_braces": cb,
		"open_parens":  op,
		"close_parens": cp,
	}
	if ob == cb && op == cp {
		return acc.Add(audit.Item{Name: f.RelPath, Status: audit.StatusPass, Detail: counts})
	}

	var msg string
	switch {
	case ob != cb && op != cp:
		msg = fmt.Sprintf("unbalanced braces (%d/%d) and parentheses (%d/%d)", ob, cb, op, cp)
	case ob != cb:
		msg = fmt.Sprintf("unbalanced braces (%d open, %d close)", ob, cb)
	default:
		msg = fmt.Sprintf("unbalanced parentheses (%d open, %d close)", op, cp)
	}
	return acc.Add(
		audit.Item{Name: f.RelPath, Status: audit.StatusFail, Detail: counts},
		audit.Finding{
			Category: audit.CategorySyntaxRisk,
			Severity: c.severity,
			File:     f.RelPath,
			Message:  msg,
			Evidence: counts,
		},
	)
}

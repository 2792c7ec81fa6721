package checks

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/walker"
)

// Exposure looks for sensitive files that sit in a directory without an
// access-control file, so a web server would serve them as-is.
type Exposure struct {
	root    string
	scanner *walker.Scanner
	cfg     config.ExposureConfig
}

func NewExposure(cfg config.Config) *Exposure {
	return &Exposure{
		root:    cfg.Root,
		scanner: walker.New(cfg.Root, walker.Options{Ignore: scanIgnore(cfg)}),
		cfg:     cfg.Exposure,
	}
}

func (c *Exposure) Category() string { return SensitiveExposure }

func (c *Exposure) Description() string {
	return "Sensitive files reachable without access control"
}

func (c *Exposure) Run(ctx context.Context) audit.Report {
	seen := make(map[string]bool)
	acc, err := c.scanPatterns(ctx, audit.Accumulator{}, seen)
	if err != nil {
		return audit.Failed(c.Category(), err)
	}
	for _, file := range c.cfg.ProtectedFiles {
		// A protected file already matched by a pattern keeps its item but
		// does not raise a second finding.
		acc = c.checkProtected(acc, file, !seen[file])
	}
	return acc.Build(c.Category(), c.cfg.Thresholds)
}

// scanPatterns walks every file, not just source files: dumps and logs are
// what this category is after. Contents are never read.
func (c *Exposure) scanPatterns(ctx context.Context, acc audit.Accumulator, seen map[string]bool) (audit.Accumulator, error) {
	for f, err := range c.scanner.Files() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return acc, ctxErr
		}
		if err != nil {
			var se *walker.ScanError
			if errors.As(err, &se) && se.Root {
				return acc, err
			}
			acc = acc.Add(audit.Item{
				Name:    relTo(c.root, pathOf(err)),
				Section: "scan",
				Status:  audit.StatusError,
				Detail:  map[string]any{"error": err.Error()},
			})
			continue
		}
		p, ok := c.match(filepath.Base(f.Path))
		if !ok {
			continue
		}
		seen[f.RelPath] = true
		acc = c.checkGuarded(acc, f.RelPath, "patterns", p.Glob, p.Severity, true)
	}
	return acc, nil
}

func (c *Exposure) match(name string) (config.SensitivePattern, bool) {
	if name == c.cfg.AccessFile {
		return config.SensitivePattern{}, false
	}
	for _, p := range c.cfg.Patterns {
		if ok, _ := filepath.Match(p.Glob, name); ok {
			return p, true
		}
	}
	return config.SensitivePattern{}, false
}

func (c *Exposure) checkProtected(acc audit.Accumulator, rel string, raise bool) audit.Accumulator {
	_, err := os.Stat(underRoot(c.root, rel))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return acc.Add(audit.Item{Name: rel, Section: "protected", Status: audit.StatusMissing})
	case err != nil:
		return acc.Add(audit.Item{Name: rel, Section: "protected", Status: audit.StatusError, Detail: map[string]any{"error": err.Error()}})
	}
	sev := c.cfg.ProtectedSeverity
	if sev == "" {
		sev = audit.SeverityHigh
	}
	return c.checkGuarded(acc, rel, "protected", "", sev, raise)
}

// checkGuarded records whether the directory of rel carries the access file.
func (c *Exposure) checkGuarded(acc audit.Accumulator, rel, section, glob string, sev audit.Severity, raise bool) audit.Accumulator {
	dir := path.Dir(rel)
	guard := path.Join(dir, c.cfg.AccessFile)
	_, err := os.Stat(underRoot(c.root, guard))
	protected := err == nil

	detail := map[string]any{"protected": protected}
	if glob != "" {
		detail["pattern"] = glob
	}
	if protected {
		return acc.Add(audit.Item{Name: rel, Section: section, Status: audit.StatusPass, Detail: detail})
	}
	item := audit.Item{Name: rel, Section: section, Status: audit.StatusFail, Detail: detail}
	if !raise {
		return acc.Add(item)
	}
	evidence := map[string]any{
		"directory":   dir,
		"access_file": guard,
	}
	if glob != "" {
		evidence["pattern"] = glob
	}
	return acc.Add(
		item,
		audit.Finding{
			Category: audit.CategorySensitiveExposure,
			Severity: sev,
			File:     rel,
			Message:  "sensitive file is not covered by " + c.cfg.AccessFile,
			Evidence: evidence,
		},
	)
}

package checks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
)

// PermissionChecker compares directory modes and effective writability with
// the expectation table.
type PermissionChecker struct {
	root      string
	dirs      []config.DirExpectation
	checkMode bool
	th        audit.Thresholds
	writable  func(path string) bool
}

func NewPermissions(cfg config.Config) *PermissionChecker {
	return &PermissionChecker{
		root:      cfg.Root,
		dirs:      cfg.Permissions.Directories,
		checkMode: cfg.Permissions.CheckMode,
		th:        cfg.Permissions.Thresholds,
		writable:  canWrite,
	}
}

func (c *PermissionChecker) Category() string { return Permissions }

func (c *PermissionChecker) Description() string {
	return "Directory presence, mode and writability against expectations"
}

func (c *PermissionChecker) Run(ctx context.Context) audit.Report {
	var acc audit.Accumulator
	for _, d := range c.dirs {
		if err := ctx.Err(); err != nil {
			return audit.Failed(c.Category(), err)
		}
		acc = c.checkDir(acc, d)
	}
	return acc.Build(c.Category(), c.th)
}

func (c *PermissionChecker) checkDir(acc audit.Accumulator, d config.DirExpectation) audit.Accumulator {
	path := underRoot(c.root, d.Path)
	evidence := map[string]any{
		"path":              d.Path,
		"expected_writable": d.Writable,
		"sensitive":         d.Sensitive,
	}
	want, haveMode, err := d.FileMode()
	if err != nil {
		return acc.Add(audit.Item{Name: d.Path, Status: audit.StatusError, Detail: map[string]any{"error": err.Error()}})
	}
	if haveMode {
		evidence["expected_mode"] = fmt.Sprintf("%04o", uint32(want))
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sev := audit.SeverityMedium
		if d.Writable {
			sev = audit.SeverityHigh
		}
		return acc.Add(
			audit.Item{Name: d.Path, Status: audit.StatusMissing},
			audit.Finding{
				Category: audit.CategoryPathMissing,
				Severity: sev,
				File:     d.Path,
				Message:  "directory does not exist",
				Evidence: evidence,
			},
		)
	case err != nil:
		return acc.Add(audit.Item{Name: d.Path, Status: audit.StatusError, Detail: map[string]any{"error": err.Error()}})
	case !info.IsDir():
		evidence["actual_type"] = info.Mode().Type().String()
		return acc.Add(
			audit.Item{Name: d.Path, Status: audit.StatusFail},
			audit.Finding{
				Category: audit.CategoryPathMissing,
				Severity: audit.SeverityHigh,
				File:     d.Path,
				Message:  "expected a directory",
				Evidence: evidence,
			},
		)
	}

	mode := info.Mode().Perm()
	w := c.writable(path)
	evidence["actual_mode"] = fmt.Sprintf("%04o", uint32(mode))
	evidence["writable"] = w
	detail := map[string]any{"mode": evidence["actual_mode"], "writable": w}

	var sev audit.Severity
	var msg string
	switch {
	case d.Writable && !w:
		sev, msg = audit.SeverityHigh, "directory must be writable by the application but is not"
	case !d.Writable && d.Sensitive && w:
		sev, msg = audit.SeverityCritical, "sensitive directory is writable by the application"
	case c.checkMode && haveMode && mode != want:
		sev = audit.SeverityLow
		if d.Sensitive {
			sev = audit.SeverityMedium
		}
		msg = fmt.Sprintf("mode %04o, expected %04o", uint32(mode), uint32(want))
	default:
		return acc.Add(audit.Item{Name: d.Path, Status: audit.StatusPass, Detail: detail})
	}
	return acc.Add(
		audit.Item{Name: d.Path, Status: audit.StatusFail, Detail: detail},
		audit.Finding{
			Category: audit.CategoryPermissionMismatch,
			Severity: sev,
			File:     d.Path,
			Message:  msg,
			Evidence: evidence,
		},
	)
}

package checks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
)

// RouteChecker verifies that mapped routes have a target file, that entry
// directories carry their entry file and that rewrite configuration enables
// the rewrite engine.
type RouteChecker struct {
	root string
	cfg  config.RoutingConfig
	th   audit.Thresholds
}

func NewRouting(cfg config.Config) *RouteChecker {
	return &RouteChecker{root: cfg.Root, cfg: cfg.Routing, th: cfg.Routing.Thresholds}
}

func (c *RouteChecker) Category() string { return Routing }

func (c *RouteChecker) Description() string {
	return "Route targets, directory entry files and rewrite rules"
}

func (c *RouteChecker) Run(ctx context.Context) audit.Report {
	if err := ctx.Err(); err != nil {
		return audit.Failed(c.Category(), err)
	}
	var acc audit.Accumulator
	for _, r := range c.cfg.Routes {
		acc = c.checkRoute(acc, r)
	}
	for _, dir := range c.cfg.EntryDirs {
		acc = c.checkEntry(acc, dir)
	}
	for _, file := range c.cfg.RewriteFiles {
		acc = c.checkRewrite(acc, file)
	}
	return acc.Build(c.Category(), c.th)
}

func (c *RouteChecker) checkRoute(acc audit.Accumulator, r config.Route) audit.Accumulator {
	item := audit.Item{Name: r.Path, Section: "routes", Detail: map[string]any{"target": r.Target}}
	info, err := os.Stat(underRoot(c.root, r.Target))
	switch {
	case err == nil && info.Mode().IsRegular():
		item.Status = audit.StatusPass
		return acc.Add(item)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		item.Status = audit.StatusError
		item.Detail["error"] = err.Error()
		return acc.Add(item)
	}
	item.Status = audit.StatusMissing
	return acc.Add(item, audit.Finding{
		Category: audit.CategoryRouteTargetMissing,
		Severity: audit.SeverityHigh,
		File:     r.Target,
		Message:  fmt.Sprintf("route %s has no target file", r.Path),
		Evidence: map[string]any{"route": r.Path, "target": r.Target},
	})
}

func (c *RouteChecker) checkEntry(acc audit.Accumulator, dir string) audit.Accumulator {
	entry := path.Join(dir, c.cfg.EntryFile)
	evidence := map[string]any{"directory": dir, "entry_file": c.cfg.EntryFile, "target": entry}
	item := audit.Item{Name: dir, Section: "entries", Detail: map[string]any{"entry_file": entry}}

	info, err := os.Stat(underRoot(c.root, dir))
	if err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			item.Status = audit.StatusError
			item.Detail["error"] = err.Error()
			return acc.Add(item)
		}
		item.Status = audit.StatusMissing
		evidence["directory_exists"] = false
		return acc.Add(item, audit.Finding{
			Category: audit.CategoryRouteEntryMissing,
			Severity: audit.SeverityHigh,
			File:     dir,
			Message:  "entry directory does not exist",
			Evidence: evidence,
		})
	}

	if _, err := os.Stat(underRoot(c.root, entry)); err == nil {
		item.Status = audit.StatusPass
		return acc.Add(item)
	}
	item.Status = audit.StatusFail
	evidence["directory_exists"] = true
	return acc.Add(item, audit.Finding{
		Category: audit.CategoryRouteEntryMissing,
		Severity: audit.SeverityHigh,
		File:     entry,
		Message:  fmt.Sprintf("directory has no %s", c.cfg.EntryFile),
		Evidence: evidence,
	})
}

func (c *RouteChecker) checkRewrite(acc audit.Accumulator, file string) audit.Accumulator {
	item := audit.Item{Name: file, Section: "rewrite"}
	data, err := os.ReadFile(underRoot(c.root, file))
	if errors.Is(err, fs.ErrNotExist) {
		item.Status = audit.StatusMissing
		return acc.Add(item, audit.Finding{
			Category: audit.CategoryRewriteRulesMissing,
			Severity: audit.SeverityMedium,
			File:     file,
			Message:  "rewrite configuration file does not exist",
			Evidence: map[string]any{"missing_markers": c.cfg.RewriteMarkers, "exists": false},
		})
	}
	if err != nil {
		item.Status = audit.StatusError
		item.Detail = map[string]any{"error": err.Error()}
		return acc.Add(item)
	}

	text := normalizeDirective(string(data))
	var missing []string
	for _, m := range c.cfg.RewriteMarkers {
		if !strings.Contains(text, normalizeDirective(m)) {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		item.Status = audit.StatusPass
		return acc.Add(item)
	}
	item.Status = audit.StatusFail
	item.Detail = map[string]any{"missing_markers": missing}
	return acc.Add(item, audit.Finding{
		Category: audit.CategoryRewriteRulesMissing,
		Severity: audit.SeverityMedium,
		File:     file,
		Message:  fmt.Sprintf("rewrite configuration lacks %s", strings.Join(missing, ", ")),
		Evidence: map[string]any{"missing_markers": missing, "exists": true},
	})
}

// normalizeDirective lowercases s and collapses whitespace; server
// directives are case-insensitive.
func normalizeDirective(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Package checks implements the file-system heuristic checkers and the
// ordered registry every checker, including the database one, is run from.
package checks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/walker"
)

// Checker is one diagnostic category. Run never fails for a finding; a
// category-wide problem is reported through audit.Failed.
type Checker interface {
	// Category returns the unique category name, also the artifact stem.
	Category() string
	// Description is shown by the list command.
	Description() string
	Run(ctx context.Context) audit.Report
}

// Category names, in scan order.
const (
	SyntaxBalance       = "syntax-balance"
	DependencyPath      = "dependency-path"
	UseBeforeDefinition = "use-before-definition"
	Permissions         = "permissions"
	Routing             = "routing"
	SensitiveExposure   = "sensitive-exposure"
)

// Registry holds checkers in registration order. That order is the scan
// order used when reports are synthesized into a plan.
type Registry struct {
	checkers []Checker
	index    map[string]int
}

// NewRegistry registers the given checkers in order.
func NewRegistry(checkers ...Checker) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, c := range checkers {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a checker. Category names must be unique.
func (r *Registry) Register(c Checker) error {
	if c == nil || c.Category() == "" {
		return errors.New("checker without category")
	}
	if _, dup := r.index[c.Category()]; dup {
		return fmt.Errorf("duplicate checker category: %s", c.Category())
	}
	r.index[c.Category()] = len(r.checkers)
	r.checkers = append(r.checkers, c)
	return nil
}

// All returns the checkers in scan order.
func (r *Registry) All() []Checker {
	out := make([]Checker, len(r.checkers))
	copy(out, r.checkers)
	return out
}

// Categories returns the category names in scan order.
func (r *Registry) Categories() []string {
	out := make([]string, len(r.checkers))
	for i, c := range r.checkers {
		out[i] = c.Category()
	}
	return out
}

// Get looks up a checker by category.
func (r *Registry) Get(category string) (Checker, bool) {
	i, ok := r.index[category]
	if !ok {
		return nil, false
	}
	return r.checkers[i], true
}

// Select returns the named checkers in scan order, regardless of the order
// the names were given in. No names selects everything.
func (r *Registry) Select(categories ...string) ([]Checker, error) {
	if len(categories) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(categories))
	for _, name := range categories {
		if _, ok := r.index[name]; !ok {
			return nil, fmt.Errorf("unknown category: %s", name)
		}
		want[name] = true
	}
	var out []Checker
	for _, c := range r.checkers {
		if want[c.Category()] {
			out = append(out, c)
		}
	}
	return out, nil
}

// FileCheckers builds the six file-system checkers from cfg, in scan order.
func FileCheckers(cfg config.Config) ([]Checker, error) {
	deps, err := NewDependencies(cfg)
	if err != nil {
		return nil, err
	}
	return []Checker{
		NewSyntax(cfg),
		deps,
		NewUseBeforeDef(cfg),
		NewPermissions(cfg),
		NewRouting(cfg),
		NewExposure(cfg),
	}, nil
}

// fileStep processes one readable file and returns the extended accumulator.
type fileStep func(acc audit.Accumulator, f *walker.FileRecord, content []byte) audit.Accumulator

// scanFiles threads acc through step for every file the scanner yields.
// Unreadable directories and files become ERROR items. It returns an error
// only when the root cannot be scanned or ctx is done.
func scanFiles(ctx context.Context, s *walker.Scanner, acc audit.Accumulator, step fileStep) (audit.Accumulator, error) {
	for f, err := range s.Files() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return acc, ctxErr
		}
		if err != nil {
			var se *walker.ScanError
			if errors.As(err, &se) && se.Root {
				return acc, err
			}
			acc = acc.Add(audit.Item{
				Name:    relTo(s.Root(), pathOf(err)),
				Section: "scan",
				Status:  audit.StatusError,
				Detail:  map[string]any{"error": err.Error()},
			})
			continue
		}
		content, err := f.Content()
		if err != nil {
			acc = acc.Add(audit.Item{
				Name:   f.RelPath,
				Status: audit.StatusError,
				Detail: map[string]any{"error": err.Error()},
			})
			continue
		}
		acc = step(acc, f, content)
	}
	return acc, nil
}

func pathOf(err error) string {
	var se *walker.ScanError
	if errors.As(err, &se) {
		return se.Path
	}
	return ""
}

// relTo returns path relative to root in slash form, or path itself when it
// lies outside root.
func relTo(root, path string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// underRoot joins a configured slash path onto root.
func underRoot(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// scanIgnore returns the configured ignore patterns plus the artifact
// directory when it lies inside the root.
func scanIgnore(cfg config.Config) []string {
	ignore := slices.Clone(cfg.Scan.Ignore)
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return ignore
	}
	out, err := filepath.Abs(cfg.OutputPath())
	if err != nil {
		return ignore
	}
	rel, err := filepath.Rel(root, out)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ignore
	}
	return append(ignore, filepath.ToSlash(rel))
}

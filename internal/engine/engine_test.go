package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/checks"
	"deployaudit/internal/config"
	"deployaudit/internal/dbcheck"
)

type fakeChecker struct {
	name   string
	report audit.Report
	runs   *[]string
}

func (f fakeChecker) Category() string    { return f.name }
func (f fakeChecker) Description() string { return f.name }
func (f fakeChecker) Run(context.Context) audit.Report {
	*f.runs = append(*f.runs, f.name)
	return f.report
}

func TestRunSequentialInScanOrder(t *testing.T) {
	var runs []string
	finding := audit.Finding{Category: audit.CategorySyntaxRisk, Severity: audit.SeverityHigh, File: "a.php"}
	reg, err := checks.NewRegistry(
		fakeChecker{name: "first", report: audit.Report{Findings: []audit.Finding{finding}}, runs: &runs},
		fakeChecker{name: "second", report: audit.Failed("second", errors.New("down")), runs: &runs},
		fakeChecker{name: "third", runs: &runs},
	)
	if err != nil {
		t.Fatal(err)
	}
	out := artifact.Dir(t.TempDir())
	var progressed []string
	e := NewWithRegistry(reg, out, func(r Result) { progressed = append(progressed, r.Report.Category) })

	results, stats, err := e.Run(context.Background(), "third", "first", "second")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"first", "second", "third"}
	if !slices.Equal(runs, want) || !slices.Equal(progressed, want) {
		t.Errorf("runs = %v, progress = %v, want %v", runs, progressed, want)
	}
	if len(results) != 3 || stats.Categories != 3 || stats.Findings != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySeverity[audit.SeverityHigh] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
	// Category is stamped even when the checker left it empty.
	got, err := out.ReadReport("first")
	if err != nil || got.Category != "first" || len(got.Findings) != 1 {
		t.Errorf("persisted first = %+v %v", got, err)
	}
}

func TestRunUnknownCategory(t *testing.T) {
	var runs []string
	reg, _ := checks.NewRegistry(fakeChecker{name: "only", runs: &runs})
	e := NewWithRegistry(reg, artifact.Dir(t.TempDir()), nil)
	if _, _, err := e.Run(context.Background(), "missing"); err == nil {
		t.Error("unknown category should fail")
	}
	if len(runs) != 0 {
		t.Errorf("nothing should run, got %v", runs)
	}
}

func TestRunWriteFailureStops(t *testing.T) {
	var runs []string
	reg, _ := checks.NewRegistry(fakeChecker{name: "a", runs: &runs}, fakeChecker{name: "b", runs: &runs})
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// The output "directory" is a regular file, so nothing can be written.
	e := NewWithRegistry(reg, artifact.Dir(filepath.Join(blocker, "out")), nil)
	if _, _, err := e.Run(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if !slices.Equal(runs, []string{"a"}) {
		t.Errorf("runs = %v, want only a", runs)
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cats := reg.Categories()
	if len(cats) != 7 || cats[len(cats)-1] != dbcheck.Category {
		t.Errorf("categories = %v", cats)
	}
	e := NewWithRegistry(reg, artifact.Dir(t.TempDir()), nil)
	if slices.Contains(e.FileCategories(), dbcheck.Category) || len(e.FileCategories()) != 6 {
		t.Errorf("file categories = %v", e.FileCategories())
	}

	cfg.Database.Enabled = false
	reg, _ = NewRegistry(cfg)
	if _, ok := reg.Get(dbcheck.Category); ok {
		t.Error("disabled database checker registered")
	}
}

func TestRunAgainstTree(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Database.Enabled = false
	if err := os.MkdirAll(filepath.Join(cfg.Root, "backend", "api"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Root, "backend", "api", "index.php"), []byte("<?php\nif ($method) {\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	results, stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 6 || stats.Failed != 0 {
		t.Errorf("results = %d, stats = %+v", len(results), stats)
	}
	cats, _ := e.OutputDir().Categories()
	if len(cats) != 6 {
		t.Errorf("artifacts = %v", cats)
	}
}

func TestRerunIsByteIdentical(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Database.Enabled = false
	files := map[string]string{
		"backend/api/index.php":   "<?php\nrequire_once '../config/missing.php';\nif ($method) {\n",
		"backend/admin/users.php": "<?php\ninclude 'lib/helpers.php';\necho $method;\n$method = 'GET';\n",
		"backend/dump.sql":        "DROP TABLE users;\n",
		"backend/debug.log":       "trace\n",
		"backend/composer.json":   "{}\n",
	}
	for rel, body := range files {
		path := filepath.Join(cfg.Root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	snapshot := func() map[string][]byte {
		t.Helper()
		results, _, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		out := make(map[string][]byte)
		for _, r := range results {
			if len(r.Report.Findings) == 0 {
				t.Errorf("%s: fixture produced no findings", r.Report.Category)
			}
			b, err := os.ReadFile(r.Path)
			if err != nil {
				t.Fatal(err)
			}
			out[r.Report.Category] = b
		}
		return out
	}

	first := snapshot()
	second := snapshot()
	if len(first) != 6 {
		t.Fatalf("categories = %d, want 6", len(first))
	}
	for cat, b := range first {
		if !bytes.Equal(b, second[cat]) {
			t.Errorf("%s changed between runs:\n%s\n---\n%s", cat, b, second[cat])
		}
	}
}

package remediation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/config"
)

func report(category string, findings ...audit.Finding) audit.Report {
	return audit.Report{
		Category: category,
		Status:   "GOOD",
		Score:    80,
		Items:    []audit.Item{},
		Findings: findings,
	}
}

func fixtureReports() []audit.Report {
	return []audit.Report{
		report("syntax-balance", audit.Finding{
			Category: audit.CategorySyntaxRisk, Severity: audit.SeverityHigh, File: "a.php",
			Evidence: map[string]any{"open_braces": 2, "close_braces": 1},
		}),
		report("dependency-path", audit.Finding{
			Category: audit.CategoryDependencyUnresolvable, Severity: audit.SeverityHigh, File: "backend/api/index.php", Line: 3,
			Evidence: map[string]any{"reference": "config/config.php", "kind": "require_once", "statement": "require_once 'config/config.php'"},
		}),
		report("permissions",
			audit.Finding{
				Category: audit.CategoryPermissionMismatch, Severity: audit.SeverityHigh, File: "uploads",
				Evidence: map[string]any{"path": "uploads", "expected_writable": true, "writable": false, "expected_mode": "0755"},
			},
			audit.Finding{
				Category: audit.CategoryPathMissing, Severity: audit.SeverityHigh, File: "exports",
				Evidence: map[string]any{"path": "exports", "expected_writable": true, "expected_mode": "0755"},
			},
		),
		report("database-integrity", audit.Finding{
			Category: audit.CategorySchemaMissingTable, Severity: audit.SeverityCritical, File: "users",
			Evidence: map[string]any{"table": "users", "columns": []any{"id", "role"}},
		}),
	}
}

func TestBuildPriorityOrderStable(t *testing.T) {
	s := New(config.Default())
	p := s.Build(fixtureReports())

	type key struct {
		source string
		index  int
		tier   audit.Severity
	}
	want := []key{
		{"database-integrity", 0, audit.SeverityCritical},
		{"dependency-path", 0, audit.SeverityHigh},
		{"permissions", 1, audit.SeverityHigh},
		{"permissions", 0, audit.SeverityMedium},
	}
	if len(p.Items) != len(want) {
		t.Fatalf("items = %d, want %d: %+v", len(p.Items), len(want), p.Items)
	}
	for i, w := range want {
		it := p.Items[i]
		if it.Source != w.source || it.FindingIndex != w.index || it.Priority != w.tier {
			t.Errorf("item %d = %s[%d] %s, want %s[%d] %s", i, it.Source, it.FindingIndex, it.Priority, w.source, w.index, w.tier)
		}
	}
	for i := 1; i < len(p.Items); i++ {
		if p.Items[i-1].Priority.Rank() > p.Items[i].Priority.Rank() {
			t.Errorf("item %d out of priority order", i)
		}
	}
	if p.Unfixable != 1 {
		t.Errorf("unfixable = %d, want 1", p.Unfixable)
	}
	if p.Counts[audit.SeverityHigh] != 2 || p.Counts[audit.SeverityCritical] != 1 {
		t.Errorf("counts = %v", p.Counts)
	}
	if len(p.Sources) != 4 || p.Sources[1].Findings != 1 {
		t.Errorf("sources = %+v", p.Sources)
	}
}

func TestItemsTraceToFindings(t *testing.T) {
	reports := fixtureReports()
	p := New(config.Default()).Build(reports)
	byCategory := make(map[string]audit.Report)
	for _, r := range reports {
		byCategory[r.Category] = r
	}
	for _, it := range p.Items {
		r, ok := byCategory[it.Source]
		if !ok || it.FindingIndex >= len(r.Findings) {
			t.Fatalf("item %q has no source finding", it.Title)
		}
		f := r.Findings[it.FindingIndex]
		if f.Category != it.Category || f.File != it.File || it.Finding.Message != f.Message {
			t.Errorf("item %q does not match finding %+v", it.Title, f)
		}
	}
}

func TestDependencyRuleTemplate(t *testing.T) {
	p := New(config.Default()).Build(fixtureReports()[1:2])
	got := p.Items[0]
	if got.Payload != "require_once __DIR__ . '/../config/config.php';" {
		t.Errorf("payload = %q", got.Payload)
	}
	if got.Target != "backend/api/index.php" || got.PayloadKind != PayloadStatement {
		t.Errorf("item = %+v", got)
	}
}

func TestDependencyFromAttempts(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "app")
	f := audit.Finding{
		Category: audit.CategoryDependencyUnresolvable,
		Severity: audit.SeverityHigh,
		File:     "backend/api/index.x",
		Line:     1,
		Evidence: map[string]any{
			"reference":     "../shared/lib.x",
			"kind":          "include",
			"declaring_dir": filepath.Join(root, "backend", "api"),
			"attempts": []any{
				map[string]any{"method": "relative_to_file", "path": filepath.Join(root, "backend", "shared", "lib.x"), "exists": false},
				map[string]any{"method": "relative_to_root", "path": filepath.Join(root, "shared", "lib.x"), "exists": false},
				map[string]any{"method": "absolute_path", "path": "/tmp/shared/lib.x", "exists": false},
			},
		},
	}
	p := New(config.Default()).Build([]audit.Report{report("dependency-path", f)})
	if got := p.Items[0].Payload; got != "include __DIR__ . '/../../shared/lib.x';" {
		t.Errorf("payload = %q", got)
	}
}

func TestTemplates(t *testing.T) {
	cfg := config.Default()
	s := New(cfg)
	cases := []struct {
		name    string
		finding audit.Finding
		tier    audit.Severity
		kind    string
		want    string
	}{
		{
			name: "binding",
			finding: audit.Finding{Category: audit.CategoryUndefinedBeforeUse, File: "api.php", Line: 4,
				Evidence: map[string]any{"binding": "$method", "suggested_definition": "$method = $_SERVER['REQUEST_METHOD'];"}},
			tier: audit.SeverityHigh, kind: PayloadStatement, want: "$method = $_SERVER['REQUEST_METHOD'];",
		},
		{
			name: "exposure",
			finding: audit.Finding{Category: audit.CategorySensitiveExposure, File: "dump.sql",
				Evidence: map[string]any{"directory": ".", "access_file": ".htaccess"}},
			tier: audit.SeverityMedium, kind: PayloadFile, want: cfg.Remediation.AccessTemplate,
		},
		{
			name: "sensitive writable",
			finding: audit.Finding{Category: audit.CategoryPermissionMismatch, File: "config",
				Evidence: map[string]any{"path": "config", "expected_writable": false, "sensitive": true, "writable": true}},
			tier: audit.SeverityMedium, kind: PayloadCommands, want: "chmod a-w config",
		},
		{
			name: "missing dir",
			finding: audit.Finding{Category: audit.CategoryPathMissing, File: "admin/logs",
				Evidence: map[string]any{"path": "admin/logs", "expected_writable": true, "expected_mode": "0755"}},
			tier: audit.SeverityHigh, kind: PayloadCommands, want: "mkdir -p admin/logs\nchmod 0755 admin/logs\nchmod u+w admin/logs",
		},
		{
			name: "entry",
			finding: audit.Finding{Category: audit.CategoryRouteEntryMissing, File: "backend/admin",
				Evidence: map[string]any{"directory": "backend/admin", "entry_file": "index.php", "target": "backend/admin/index.php"}},
			tier: audit.SeverityHigh, kind: PayloadFile, want: cfg.Remediation.EntryStub,
		},
		{
			name: "rewrite",
			finding: audit.Finding{Category: audit.CategoryRewriteRulesMissing, File: ".htaccess",
				Evidence: map[string]any{"missing_markers": []string{"RewriteEngine On"}, "exists": true}},
			tier: audit.SeverityMedium, kind: PayloadFile, want: cfg.Remediation.RewriteTemplate,
		},
		{
			name: "missing table",
			finding: audit.Finding{Category: audit.CategorySchemaMissingTable, File: "users",
				Evidence: map[string]any{"table": "users", "columns": []string{"id", "role"}}},
			tier: audit.SeverityCritical, kind: PayloadSQL,
			want: "CREATE TABLE users (\n  id INT AUTO_INCREMENT PRIMARY KEY,\n  role VARCHAR(255) NULL\n);",
		},
		{
			name: "missing column",
			finding: audit.Finding{Category: audit.CategorySchemaMissingColumn, File: "pages",
				Evidence: map[string]any{"table": "pages", "column": "created_by"}},
			tier: audit.SeverityCritical, kind: PayloadSQL, want: "ALTER TABLE pages ADD COLUMN created_by INT NULL;",
		},
		{
			name: "empty table",
			finding: audit.Finding{Category: audit.CategoryDataEmptyTable, File: "users",
				Evidence: map[string]any{"check": "admin_users", "table": "users", "where": "role = 'admin'"}},
			tier: audit.SeverityMedium, kind: PayloadSQL, want: "SELECT COUNT(*) FROM users WHERE role = 'admin';",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it, ok := s.itemFor(tc.finding)
			if !ok {
				t.Fatal("finding not fixable")
			}
			if it.Priority != tc.tier || it.PayloadKind != tc.kind || it.Payload != tc.want {
				t.Errorf("item = %s %s %q, want %s %s %q", it.Priority, it.PayloadKind, it.Payload, tc.tier, tc.kind, tc.want)
			}
			if it.Title == "" || it.Action == "" {
				t.Errorf("item without title or action: %+v", it)
			}
		})
	}
}

func TestDanglingReferenceFromArtifact(t *testing.T) {
	dir := artifact.Dir(t.TempDir())
	r := report("database-integrity", audit.Finding{
		Category: audit.CategoryDataDanglingReference, Severity: audit.SeverityHigh, File: "portfolio_images",
		Evidence: map[string]any{"table": "portfolio_images", "column": "media_id", "ref_table": "media",
			"ref_column": "id", "nullable": false, "dangling": int64(2)},
	})
	if err := dir.WriteReport(r); err != nil {
		t.Fatal(err)
	}
	p := New(config.Default()).Synthesize(dir, []string{"database-integrity"})
	if len(p.Items) != 1 {
		t.Fatalf("items = %+v", p.Items)
	}
	it := p.Items[0]
	if it.Title != "Repair 2 dangling portfolio_images.media_id references" {
		t.Errorf("title = %q", it.Title)
	}
	for _, want := range []string{
		"LEFT JOIN media ref ON src.media_id = ref.id",
		"-- column is NOT NULL",
		"UPDATE portfolio_images SET media_id = NULL WHERE media_id IS NOT NULL AND media_id NOT IN (SELECT id FROM media);",
	} {
		if !strings.Contains(it.Payload, want) {
			t.Errorf("payload missing %q:\n%s", want, it.Payload)
		}
	}
}

func TestSynthesizeMissingAndExtraReports(t *testing.T) {
	dir := artifact.Dir(t.TempDir())
	for _, r := range fixtureReports()[:2] {
		if err := dir.WriteReport(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := dir.WriteReport(report("routing")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir.ReportPath("permissions"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(config.Default()).Synthesize(dir, []string{"syntax-balance", "dependency-path", "permissions", "database-integrity"})
	var sources []string
	for _, s := range p.Sources {
		sources = append(sources, s.Category)
	}
	if strings.Join(sources, ",") != "syntax-balance,dependency-path,routing" {
		t.Errorf("sources = %v", sources)
	}
	if len(p.Missing) != 2 {
		t.Fatalf("missing = %+v", p.Missing)
	}
	if p.Missing[0].Category != "permissions" || !strings.HasPrefix(p.Missing[0].Reason, "unreadable") {
		t.Errorf("missing[0] = %+v", p.Missing[0])
	}
	if p.Missing[1] != (Missing{Category: "database-integrity", Reason: "no report"}) {
		t.Errorf("missing[1] = %+v", p.Missing[1])
	}
	if len(p.Items) != 1 {
		t.Errorf("items = %d, want 1", len(p.Items))
	}
}

func TestSynthesizeIdempotent(t *testing.T) {
	dir := artifact.Dir(t.TempDir())
	for _, r := range fixtureReports() {
		if err := dir.WriteReport(r); err != nil {
			t.Fatal(err)
		}
	}
	s := New(config.Default())
	categories := []string{"syntax-balance", "dependency-path", "permissions", "database-integrity"}

	path, err := s.Write(dir, s.Synthesize(dir, categories))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)
	if _, err := s.Write(dir, s.Synthesize(dir, categories)); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("plan differs between runs over unchanged reports")
	}
	if filepath.Base(path) != "solution-recommendations.json" {
		t.Errorf("plan path = %s", path)
	}

	loaded, err := ReadPlan(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Items) != 4 || loaded.Items[0].Priority != audit.SeverityCritical {
		t.Errorf("loaded plan = %+v", loaded.Items)
	}
	if len(loaded.Urgent()) != 3 {
		t.Errorf("urgent = %d, want 3", len(loaded.Urgent()))
	}
}

func TestMarkdown(t *testing.T) {
	p := New(config.Default()).Build(fixtureReports())
	p.Missing = []Missing{{Category: "routing", Reason: "no report"}}
	md := Markdown(p)

	crit := strings.Index(md, "## CRITICAL")
	high := strings.Index(md, "## HIGH")
	med := strings.Index(md, "## MEDIUM")
	if crit < 0 || high < crit || med < high {
		t.Fatalf("sections out of order:\n%s", md)
	}
	for _, want := range []string{"```sql\nCREATE TABLE users", "`routing`: no report", "1 findings have no automatic fix", "- Make uploads writable (uploads)"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	var buf bytes.Buffer
	if err := Print(&buf, md, 80); err != nil {
		t.Fatal(err)
	}
	if buf.String() != md {
		t.Error("non-terminal output should be plain markdown")
	}
}

func TestMarkdownNotesFailedCategories(t *testing.T) {
	var reports []audit.Report
	for _, r := range fixtureReports() {
		if r.Category != "database-integrity" {
			reports = append(reports, r)
		}
	}
	clean := New(config.Default()).Build(reports)
	reports = append(reports, audit.Failed("database-integrity", errors.New("dial tcp 127.0.0.1:3306: connection refused")))
	p := New(config.Default()).Build(reports)
	for _, it := range p.Items {
		if it.Source == "database-integrity" {
			t.Errorf("failed category produced item %+v", it)
		}
	}
	md := Markdown(p)
	want := "- `database-integrity`: database unreachable (dial tcp 127.0.0.1:3306: connection refused)"
	if !strings.Contains(md, want) {
		t.Errorf("markdown missing %q:\n%s", want, md)
	}

	if strings.Contains(Markdown(clean), "could not run") {
		t.Error("note rendered without a failed category")
	}
}

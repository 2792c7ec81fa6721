package artifact

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"deployaudit/internal/audit"
)

func sampleReport() audit.Report {
	var acc audit.Accumulator
	acc = acc.Add(audit.Item{Name: "a.php", Status: audit.StatusFail},
		audit.Finding{
			Category: audit.CategorySyntaxRisk,
			Severity: audit.SeverityHigh,
			File:     "a.php",
			Message:  "unbalanced braces",
			Evidence: map[string]any{"open_braces": 2, "close_braces": 1, "open_parens": 0, "close_parens": 0},
		})
	return acc.Build("syntax-balance", audit.Thresholds{{Min: 0, Label: "CRITICAL"}})
}

func TestWriteReadReport(t *testing.T) {
	d := Dir(filepath.Join(t.TempDir(), "out"))
	r := sampleReport()
	if err := d.WriteReport(r); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if _, err := os.Stat(filepath.Join(string(d), "syntax-balance-results.json")); err != nil {
		t.Fatalf("artifact not at expected path: %v", err)
	}
	got, err := d.ReadReport("syntax-balance")
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if got.Category != r.Category || got.Score != r.Score || len(got.Findings) != 1 {
		t.Errorf("round trip = %+v", got)
	}
	if got.Findings[0].Evidence["open_braces"] != float64(2) {
		t.Errorf("evidence = %v", got.Findings[0].Evidence)
	}
}

func TestWriteIsDeterministicAndOverwrites(t *testing.T) {
	d := Dir(t.TempDir())
	r := sampleReport()
	if err := d.WriteReport(r); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(d.ReportPath(r.Category))
	if err := d.WriteReport(r); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(d.ReportPath(r.Category))
	if !bytes.Equal(first, second) {
		t.Error("same report encoded differently")
	}

	r.Findings = nil
	if err := d.WriteReport(r); err != nil {
		t.Fatal(err)
	}
	got, _ := d.ReadReport(r.Category)
	if len(got.Findings) != 0 {
		t.Error("previous findings leaked into the new artifact")
	}

	entries, _ := os.ReadDir(string(d))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestReadMissingReport(t *testing.T) {
	_, err := Dir(t.TempDir()).ReadReport("routing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestReadCorruptReport(t *testing.T) {
	d := Dir(t.TempDir())
	if err := os.WriteFile(d.ReportPath("routing"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadReport("routing"); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestCategories(t *testing.T) {
	d := Dir(t.TempDir())
	for _, name := range []string{"routing-results.json", "permissions-results.json", "solution-recommendations.json"} {
		if err := os.WriteFile(filepath.Join(string(d), name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := d.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"permissions", "routing"}) {
		t.Errorf("categories = %v", got)
	}
	none, err := Dir(filepath.Join(string(d), "absent")).Categories()
	if err != nil || len(none) != 0 {
		t.Errorf("absent dir = %v %v", none, err)
	}
}

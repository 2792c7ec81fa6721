package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/remediation"
)

func callTool(t *testing.T, h mcpserver.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			sb.WriteString(tc.Text)
		case *mcp.TextContent:
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError
}

func seedArtifacts(t *testing.T) (artifact.Dir, string) {
	t.Helper()
	dir := artifact.Dir(t.TempDir())
	r := audit.Report{
		Category: "permissions",
		Status:   "GOOD",
		Score:    75,
		Summary:  audit.Summary{Passed: 3, Failed: 1, Total: 4},
		Items:    []audit.Item{},
		Findings: []audit.Finding{
			{Category: audit.CategoryPathMissing, Severity: audit.SeverityHigh, File: "uploads", Message: "directory does not exist",
				Evidence: map[string]any{"path": "uploads", "expected_writable": true}},
			{Category: audit.CategoryPermissionMismatch, Severity: audit.SeverityLow, File: "exports", Message: "mode 0700, expected 0755",
				Evidence: map[string]any{"path": "exports", "expected_mode": "0755"}},
		},
	}
	if err := dir.WriteReport(r); err != nil {
		t.Fatal(err)
	}
	s := remediation.New(config.Default())
	path, err := s.Write(dir, s.Synthesize(dir, []string{"permissions"}))
	if err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func TestMCPListReports(t *testing.T) {
	dir, _ := seedArtifacts(t)
	text, isErr := callTool(t, makeListReportsHandler(dir), nil)
	if isErr || !strings.Contains(text, "**permissions**: GOOD, score 75.0, 3/4 passed, 2 findings") {
		t.Errorf("list_reports = %q", text)
	}

	empty, _ := callTool(t, makeListReportsHandler(artifact.Dir(filepath.Join(t.TempDir(), "none"))), nil)
	if !strings.Contains(empty, "No reports yet") {
		t.Errorf("empty list_reports = %q", empty)
	}
}

func TestMCPGetReport(t *testing.T) {
	dir, _ := seedArtifacts(t)
	h := makeGetReportHandler(dir)

	text, isErr := callTool(t, h, map[string]any{"category": "permissions", "severity": "high"})
	if isErr || !strings.Contains(text, `"uploads"`) || strings.Contains(text, `"exports"`) {
		t.Errorf("filtered report = %s", text)
	}
	if _, isErr := callTool(t, h, map[string]any{"category": "routing"}); !isErr {
		t.Error("unknown category should be a tool error")
	}
	if _, isErr := callTool(t, h, map[string]any{}); !isErr {
		t.Error("missing category should be a tool error")
	}
	if _, isErr := callTool(t, h, map[string]any{"category": "permissions", "severity": "urgent"}); !isErr {
		t.Error("bad severity should be a tool error")
	}
}

func TestMCPPlan(t *testing.T) {
	_, path := seedArtifacts(t)
	h := makePlanHandler(path)

	md, _ := callTool(t, h, nil)
	if !strings.Contains(md, "# Remediation plan") || !strings.Contains(md, "Create directory uploads") {
		t.Errorf("markdown plan = %s", md)
	}
	js, _ := callTool(t, h, map[string]any{"format": "json"})
	if !strings.Contains(js, `"priority": "high"`) {
		t.Errorf("json plan = %s", js)
	}
	if _, isErr := callTool(t, h, map[string]any{"format": "xml"}); !isErr {
		t.Error("unknown format should be a tool error")
	}

	none, _ := callTool(t, makePlanHandler(filepath.Join(t.TempDir(), "plan.json")), nil)
	if !strings.Contains(none, "No remediation plan yet") {
		t.Errorf("missing plan = %q", none)
	}
	if newMCPServer(artifact.Dir(t.TempDir()), path) == nil {
		t.Error("server not built")
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"deployaudit/internal/artifact"
	"deployaudit/internal/audit"
	"deployaudit/internal/remediation"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing the audit reports and remediation plan",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := artifact.Dir(cfg.OutputPath())
	planPath := remediation.New(cfg).PlanPath(dir)
	return mcpserver.ServeStdio(newMCPServer(dir, planPath))
}

func newMCPServer(dir artifact.Dir, planPath string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("deployaudit", "1.0.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(listReportsTool(), makeListReportsHandler(dir))
	s.AddTool(getReportTool(), makeGetReportHandler(dir))
	s.AddTool(getPlanTool(), makePlanHandler(planPath))
	return s
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func listReportsTool() mcp.Tool {
	return mcp.NewTool("list_reports",
		mcp.WithDescription("List the persisted audit reports with their status, score and finding counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func getReportTool() mcp.Tool {
	return mcp.NewTool("get_report",
		mcp.WithDescription("Get one category's audit report: items, findings and evidence."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Report category, e.g. 'dependency-path' (see list_reports)"),
		),
		mcp.WithString("severity",
			mcp.Description("Only return findings of this severity (critical, high, medium, low)"),
		),
	)
}

func getPlanTool() mcp.Tool {
	return mcp.NewTool("get_remediation_plan",
		mcp.WithDescription("Get the prioritized remediation plan built from the reports."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("format",
			mcp.Description("'markdown' (default) or 'json'"),
		),
	)
}

// --- Handler factories ---

func makeListReportsHandler(dir artifact.Dir) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cats, err := dir.Categories()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list reports failed: %v", err)), nil
		}
		if len(cats) == 0 {
			return mcp.NewToolResultText("No reports yet. Run 'deployaudit check' first."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Reports (%d)\n\n", len(cats))
		for _, c := range cats {
			r, err := dir.ReadReport(c)
			if err != nil {
				fmt.Fprintf(&sb, "- **%s**: unreadable (%v)\n", c, err)
				continue
			}
			fmt.Fprintf(&sb, "- **%s**: %s, score %.1f, %d/%d passed, %d findings\n",
				c, r.Status, r.Score, r.Summary.Passed, r.Summary.Total, len(r.Findings))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeGetReportHandler(dir artifact.Dir) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category := req.GetString("category", "")
		if category == "" {
			return mcp.NewToolResultError("category is required"), nil
		}
		r, err := dir.ReadReport(category)
		if errors.Is(err, fs.ErrNotExist) {
			return mcp.NewToolResultError(fmt.Sprintf("no report for %q; call list_reports to see available categories", category)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read report failed: %v", err)), nil
		}

		if sev := req.GetString("severity", ""); sev != "" {
			want, err := audit.ParseSeverity(sev)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			kept := []audit.Finding{}
			for _, f := range r.Findings {
				if f.Severity == want {
					kept = append(kept, f)
				}
			}
			r.Findings = kept
		}

		data, err := artifact.Encode(r)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode report failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func makePlanHandler(planPath string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		plan, err := remediation.ReadPlan(planPath)
		if errors.Is(err, fs.ErrNotExist) {
			return mcp.NewToolResultText("No remediation plan yet. Run 'deployaudit synthesize' first."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read plan failed: %v", err)), nil
		}

		switch req.GetString("format", "markdown") {
		case "json":
			data, err := artifact.Encode(plan)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encode plan failed: %v", err)), nil
			}
			return mcp.NewToolResultText(string(data)), nil
		case "markdown", "":
			return mcp.NewToolResultText(remediation.Markdown(plan)), nil
		default:
			return mcp.NewToolResultError("format must be 'markdown' or 'json'"), nil
		}
	}
}

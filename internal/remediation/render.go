package remediation

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"deployaudit/internal/audit"
	"deployaudit/internal/dbcheck"
)

var tierOrder = []audit.Severity{audit.SeverityCritical, audit.SeverityHigh, audit.SeverityMedium, audit.SeverityLow}

// Markdown renders the plan for people: critical and high items in full,
// lower tiers as a checklist.
func Markdown(p Plan) string {
	var b strings.Builder
	b.WriteString("# Remediation plan\n\n")
	fmt.Fprintf(&b, "%d fixes from %d reports", len(p.Items), len(p.Sources))
	for _, t := range tierOrder {
		if n := p.Counts[t]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, t)
		}
	}
	b.WriteString(".\n")
	if p.Unfixable > 0 {
		fmt.Fprintf(&b, "%d findings have no automatic fix and need review.\n", p.Unfixable)
	}
	if len(p.Missing) > 0 {
		b.WriteString("\nReports not available:\n\n")
		for _, m := range p.Missing {
			fmt.Fprintf(&b, "- `%s`: %s\n", m.Category, m.Reason)
		}
	}
	writeFailed(&b, p.Sources)

	for _, t := range tierOrder {
		var items []Item
		for _, it := range p.Items {
			if it.Priority == t {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", strings.ToUpper(string(t)))
		detailed := t.Rank() <= audit.SeverityHigh.Rank()
		for _, it := range items {
			if !detailed {
				fmt.Fprintf(&b, "- %s (%s)\n", it.Title, location(it))
				continue
			}
			writeItem(&b, it)
		}
	}
	return b.String()
}

// writeFailed notes categories that aborted as a whole. They contribute no
// items, so their cause has to be fixed before anything else.
func writeFailed(b *strings.Builder, sources []Source) {
	var failed []Source
	for _, src := range sources {
		if src.Status == audit.ReportFailed {
			failed = append(failed, src)
		}
	}
	if len(failed) == 0 {
		return
	}
	b.WriteString("\nChecks that could not run:\n\n")
	for _, src := range failed {
		if src.Category == dbcheck.Category {
			fmt.Fprintf(b, "- `%s`: database unreachable (%s). Check `database.driver` and `database.dsn`, then run `deployaudit check %s` again.\n", src.Category, src.Error, src.Category)
			continue
		}
		fmt.Fprintf(b, "- `%s`: %s\n", src.Category, src.Error)
	}
}

func writeItem(b *strings.Builder, it Item) {
	fmt.Fprintf(b, "\n### %s\n\n", it.Title)
	fmt.Fprintf(b, "*%s* from `%s` at `%s`: %s\n\n", it.Category, it.Source, location(it), it.Finding.Message)
	b.WriteString(it.Action + "\n")
	if it.Payload == "" {
		return
	}
	if it.Target != "" && it.PayloadKind == PayloadFile {
		fmt.Fprintf(b, "\nWrite `%s`:\n", it.Target)
	}
	fmt.Fprintf(b, "\n```%s\n%s\n```\n", fence(it.PayloadKind), strings.TrimRight(it.Payload, "\n"))
}

// ItemMarkdown renders a single item in full.
func ItemMarkdown(it Item) string {
	var b strings.Builder
	writeItem(&b, it)
	return strings.TrimLeft(b.String(), "\n")
}

func location(it Item) string {
	if it.Line > 0 {
		return fmt.Sprintf("%s:%d", it.File, it.Line)
	}
	return it.File
}

func fence(kind string) string {
	switch kind {
	case PayloadSQL:
		return "sql"
	case PayloadCommands:
		return "sh"
	case PayloadStatement:
		return "php"
	}
	return ""
}

// Print writes md to w, styled with glamour when w is a terminal.
func Print(w io.Writer, md string, width int) error {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if out, err := RenderStyled(md, width); err == nil {
			_, err = io.WriteString(w, out)
			return err
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// RenderStyled renders md for a terminal of the given width.
func RenderStyled(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

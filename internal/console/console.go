// Package console prints human-readable progress for command-line runs.
package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"deployaudit/internal/audit"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// SeverityStyle returns the style used for a severity or priority tier.
func SeverityStyle(s audit.Severity) lipgloss.Style {
	switch s {
	case audit.SeverityCritical:
		return errorStyle.Bold(true)
	case audit.SeverityHigh:
		return errorStyle
	case audit.SeverityMedium:
		return warnStyle
	}
	return dimStyle
}

// Printer writes progress lines, styled or plain.
type Printer struct {
	w      io.Writer
	styled bool
}

func New(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// Stdout returns a printer on standard output, styled when it is a terminal.
func Stdout() *Printer {
	return New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

func (p *Printer) paint(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.paint(titleStyle, text))
}

func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.w, p.paint(dimStyle, fmt.Sprintf(format, args...)))
}

func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.paint(warnStyle, "warning: "+fmt.Sprintf(format, args...)))
}

// Report prints one line for a finished category.
func (p *Printer) Report(r audit.Report, path string, elapsed time.Duration) {
	if r.Status == audit.ReportFailed {
		fmt.Fprintf(p.w, "%s %-24s %s %s\n",
			p.paint(errorStyle, "✗"), r.Category, p.paint(errorStyle, r.Status), p.paint(dimStyle, r.Error))
		return
	}
	mark := p.paint(successStyle, "✓")
	if len(r.Findings) > 0 {
		mark = p.paint(warnStyle, "!")
	}
	fmt.Fprintf(p.w, "%s %-24s %5.1f %-10s %d/%d passed, %s %s\n",
		mark, r.Category, r.Score, r.Status, r.Summary.Passed, r.Summary.Total,
		p.findings(r.CountBySeverity(), len(r.Findings)),
		p.paint(dimStyle, fmt.Sprintf("(%s, %s)", path, elapsed.Round(time.Millisecond))))
}

// Totals prints the batch summary line.
func (p *Printer) Totals(categories, findings, failed int, bySeverity map[audit.Severity]int) {
	line := fmt.Sprintf("%d categories, %s", categories, p.findings(bySeverity, findings))
	if failed > 0 {
		line += ", " + p.paint(errorStyle, fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintln(p.w, line)
}

func (p *Printer) findings(bySeverity map[audit.Severity]int, total int) string {
	if total == 0 {
		return "no findings"
	}
	sevs := make([]audit.Severity, 0, len(bySeverity))
	for s := range bySeverity {
		sevs = append(sevs, s)
	}
	sort.Slice(sevs, func(i, j int) bool { return sevs[i].Rank() < sevs[j].Rank() })
	parts := make([]string, 0, len(sevs))
	for _, s := range sevs {
		parts = append(parts, p.paint(SeverityStyle(s), fmt.Sprintf("%d %s", bySeverity[s], s)))
	}
	return fmt.Sprintf("%d findings (%s)", total, strings.Join(parts, ", "))
}

package checks

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
	"deployaudit/internal/walker"
)

// UseBeforeDef reports variables read before their first assignment in a
// file. It follows line order only; branches and includes are not modelled.
type UseBeforeDef struct {
	scanner  *walker.Scanner
	bindings []config.Binding
	th       audit.Thresholds
}

func NewUseBeforeDef(cfg config.Config) *UseBeforeDef {
	return &UseBeforeDef{
		scanner: walker.New(cfg.Root, walker.Options{
			Extensions: cfg.UseBeforeDef.Extensions,
			Ignore:     scanIgnore(cfg),
		}),
		bindings: cfg.UseBeforeDef.Bindings,
		th:       cfg.UseBeforeDef.Thresholds,
	}
}

func (c *UseBeforeDef) Category() string { return UseBeforeDefinition }

func (c *UseBeforeDef) Description() string {
	return "Variables read before they are assigned"
}

func (c *UseBeforeDef) Run(ctx context.Context) audit.Report {
	acc, err := scanFiles(ctx, c.scanner, audit.Accumulator{}, c.checkFile)
	if err != nil {
		return audit.Failed(c.Category(), err)
	}
	return acc.Build(c.Category(), c.th)
}

func (c *UseBeforeDef) checkFile(acc audit.Accumulator, f *walker.FileRecord, content []byte) audit.Accumulator {
	for _, b := range c.bindings {
		if !bytes.Contains(content, []byte(b.Name)) {
			continue
		}
		u := scanUsage(content, b.Name)
		if u.occurrences == 0 {
			continue
		}
		name := fmt.Sprintf("%s %s", f.RelPath, b.Name)
		if u.earlyReads == 0 {
			acc = acc.Add(audit.Item{Name: name, Status: audit.StatusPass, Detail: map[string]any{"defined_at": u.definedAt}})
			continue
		}
		sev := b.Severity
		if sev == "" {
			sev = audit.SeverityHigh
		}
		evidence := map[string]any{
			"binding":                 b.Name,
			"context":                 u.firstContext,
			"reads_before_definition": u.earlyReads,
			"defined_at":              u.definedAt,
		}
		if b.Definition != "" {
			evidence["suggested_definition"] = b.Definition
		}
		msg := fmt.Sprintf("%s is read before it is assigned", b.Name)
		if u.definedAt == 0 {
			msg = fmt.Sprintf("%s is read but never assigned", b.Name)
		}
		acc = acc.Add(
			audit.Item{Name: name, Status: audit.StatusFail, Detail: map[string]any{"first_read": u.firstLine}},
			audit.Finding{
				Category: audit.CategoryUndefinedBeforeUse,
				Severity: sev,
				File:     f.RelPath,
				Line:     u.firstLine,
				Message:  msg,
				Evidence: evidence,
			},
		)
	}
	return acc
}

type usage struct {
	occurrences  int
	definedAt    int
	earlyReads   int
	firstLine    int
	firstContext string
}

// scanUsage walks content line by line keeping a defined flag. An assignment
// on a line defines the name before that line's reads are looked at, so
// `$x = f($x)` style lines never count as early reads.
func scanUsage(content []byte, name string) usage {
	var u usage
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	defined := false
	for sc.Scan() {
		line++
		text := sc.Text()
		assigns, reads := classifyLine(text, name)
		u.occurrences += assigns + reads
		if assigns > 0 && !defined {
			defined = true
			u.definedAt = line
		}
		if defined || reads == 0 {
			continue
		}
		u.earlyReads += reads
		if u.firstLine == 0 {
			u.firstLine = line
			u.firstContext = strings.TrimSpace(text)
		}
	}
	return u
}

// classifyLine counts the assignments and reads of name on one line. A name
// directly followed by an identifier character is a different variable.
func classifyLine(text, name string) (assigns, reads int) {
	rest := text
	for {
		i := strings.Index(rest, name)
		if i < 0 {
			return assigns, reads
		}
		after := rest[i+len(name):]
		rest = after
		if after != "" && isIdentByte(after[0]) {
			continue
		}
		trimmed := strings.TrimLeft(after, " \t")
		if strings.HasPrefix(trimmed, "=") && !strings.HasPrefix(trimmed, "==") && !strings.HasPrefix(trimmed, "=>") {
			assigns++
		} else {
			reads++
		}
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= 0x80
}

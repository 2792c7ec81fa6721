package remediation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/resolve"
)

// tiers fixes the priority of every finding category that has a template.
var tiers = map[audit.Category]audit.Severity{
	audit.CategorySchemaMissingTable:     audit.SeverityCritical,
	audit.CategorySchemaMissingColumn:    audit.SeverityCritical,
	audit.CategoryDataDanglingReference:  audit.SeverityCritical,
	audit.CategoryDependencyUnresolvable: audit.SeverityHigh,
	audit.CategoryDependencyRisk:         audit.SeverityHigh,
	audit.CategoryUndefinedBeforeUse:     audit.SeverityHigh,
	audit.CategoryRouteTargetMissing:     audit.SeverityHigh,
	audit.CategoryRouteEntryMissing:      audit.SeverityHigh,
	audit.CategoryPathMissing:            audit.SeverityHigh,
	audit.CategorySensitiveExposure:      audit.SeverityMedium,
	audit.CategoryPermissionMismatch:     audit.SeverityMedium,
	audit.CategoryRewriteRulesMissing:    audit.SeverityMedium,
	audit.CategoryDataEmptyTable:         audit.SeverityMedium,
}

// Tier returns the priority tier of a finding category. Categories without a
// template are not fixable.
func Tier(c audit.Category) (audit.Severity, bool) {
	s, ok := tiers[c]
	return s, ok
}

func (s *Synthesizer) itemFor(f audit.Finding) (Item, bool) {
	tier, ok := Tier(f.Category)
	if !ok {
		return Item{}, false
	}
	var it Item
	switch f.Category {
	case audit.CategoryDependencyUnresolvable, audit.CategoryDependencyRisk:
		it = s.dependencyFix(f)
	case audit.CategoryUndefinedBeforeUse:
		it = bindingFix(f)
	case audit.CategorySensitiveExposure:
		it = Item{
			Title:       "Deny web access to " + f.File,
			Action:      fmt.Sprintf("Add an access-control file to %s.", evString(f.Evidence, "directory", path.Dir(f.File))),
			Target:      evString(f.Evidence, "access_file", ""),
			PayloadKind: PayloadFile,
			Payload:     s.cfg.AccessTemplate,
		}
	case audit.CategoryPermissionMismatch, audit.CategoryPathMissing:
		it = permissionFix(f)
	case audit.CategoryRouteTargetMissing:
		it = Item{
			Title:       "Create route target " + f.File,
			Action:      fmt.Sprintf("Route %s points at %s, which does not exist.", evString(f.Evidence, "route", "?"), f.File),
			Target:      f.File,
			PayloadKind: PayloadFile,
			Payload:     s.cfg.EntryStub,
		}
	case audit.CategoryRouteEntryMissing:
		target := evString(f.Evidence, "target", f.File)
		it = Item{
			Title:       "Add entry file " + target,
			Action:      fmt.Sprintf("Directory %s serves requests but has no %s.", evString(f.Evidence, "directory", f.File), evString(f.Evidence, "entry_file", "entry file")),
			Target:      target,
			PayloadKind: PayloadFile,
			Payload:     s.cfg.EntryStub,
		}
	case audit.CategoryRewriteRulesMissing:
		action := "Create " + f.File + " with the rewrite rules."
		if evBool(f.Evidence, "exists") {
			action = fmt.Sprintf("Add the missing directives (%s) to %s.", strings.Join(evStrings(f.Evidence, "missing_markers"), ", "), f.File)
		}
		it = Item{
			Title:       "Restore rewrite rules in " + f.File,
			Action:      action,
			Target:      f.File,
			PayloadKind: PayloadFile,
			Payload:     s.cfg.RewriteTemplate,
		}
	case audit.CategorySchemaMissingTable:
		table := evString(f.Evidence, "table", f.File)
		it = Item{
			Title:       "Create table " + table,
			Action:      "Create the missing table; column types are placeholders to adjust before use.",
			PayloadKind: PayloadSQL,
			Payload:     createTable(table, evStrings(f.Evidence, "columns")),
		}
	case audit.CategorySchemaMissingColumn:
		table := evString(f.Evidence, "table", f.File)
		col := evString(f.Evidence, "column", "")
		it = Item{
			Title:       fmt.Sprintf("Add column %s.%s", table, col),
			Action:      "Add the missing column; the type is a placeholder.",
			PayloadKind: PayloadSQL,
			Payload:     fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, col, columnType(col)),
		}
	case audit.CategoryDataDanglingReference:
		it = danglingFix(f)
	case audit.CategoryDataEmptyTable:
		table := evString(f.Evidence, "table", f.File)
		q := "SELECT COUNT(*) FROM " + table
		if where := evString(f.Evidence, "where", ""); where != "" {
			q += " WHERE " + where
		}
		it = Item{
			Title:       "Seed " + table,
			Action:      fmt.Sprintf("Check %s expects at least one row; load the initial data, then confirm with the query.", evString(f.Evidence, "check", table)),
			PayloadKind: PayloadSQL,
			Payload:     q + ";",
		}
	}
	it.Priority = tier
	return it, true
}

// dependencyFix rewrites the reference with a file-anchored path. Substring
// rules win; otherwise the anchored path points from the declaring directory
// to the root-relative candidate.
func (s *Synthesizer) dependencyFix(f audit.Finding) Item {
	ref := evString(f.Evidence, "reference", "")
	kind := evString(f.Evidence, "kind", "")
	if kind == "" {
		kind = "require_once"
	}
	anchor := s.anchor
	if anchor == "" {
		anchor = "__DIR__"
	}

	var expr string
	for _, rule := range s.cfg.DependencyRules {
		if rule.Contains != "" && strings.Contains(ref, rule.Contains) {
			expr = strings.NewReplacer("{anchor}", anchor, "{base}", path.Base(ref)).Replace(rule.Template)
			break
		}
	}
	if expr == "" {
		lit := "/" + strings.TrimPrefix(strings.TrimPrefix(ref, "./"), "/")
		dir := evString(f.Evidence, "declaring_dir", "")
		if target := attemptPath(f.Evidence, string(resolve.RelativeToRoot)); dir != "" && target != "" {
			if l, err := resolve.AnchoredLiteral(dir, target); err == nil {
				lit = l
			}
		}
		expr = fmt.Sprintf("%s . '%s'", anchor, lit)
	}

	title := "Anchor dependency " + ref
	if f.Category == audit.CategoryDependencyUnresolvable {
		title = "Fix unresolvable dependency " + ref
	}
	return Item{
		Title:       title,
		Action:      fmt.Sprintf("Replace `%s` so the path is resolved from the declaring file.", evString(f.Evidence, "statement", ref)),
		Target:      f.File,
		PayloadKind: PayloadStatement,
		Payload:     fmt.Sprintf("%s %s;", kind, expr),
	}
}

func bindingFix(f audit.Finding) Item {
	name := evString(f.Evidence, "binding", "")
	it := Item{
		Title:  fmt.Sprintf("Define %s before use in %s", name, f.File),
		Action: fmt.Sprintf("Assign %s before line %d, where it is first read.", name, f.Line),
		Target: f.File,
	}
	if def := evString(f.Evidence, "suggested_definition", ""); def != "" {
		it.PayloadKind = PayloadStatement
		it.Payload = def
	}
	return it
}

func permissionFix(f audit.Finding) Item {
	p := evString(f.Evidence, "path", f.File)
	mode := evString(f.Evidence, "expected_mode", "")
	want := evBool(f.Evidence, "expected_writable")
	q := shellQuote(p)

	var title string
	var cmds []string
	switch {
	case f.Category == audit.CategoryPathMissing:
		title = "Create directory " + p
		cmds = append(cmds, "mkdir -p "+q)
		if mode != "" {
			cmds = append(cmds, "chmod "+mode+" "+q)
		}
		if want {
			cmds = append(cmds, "chmod u+w "+q)
		}
	case want && !evBool(f.Evidence, "writable"):
		title = "Make " + p + " writable"
		if mode != "" {
			cmds = append(cmds, "chmod "+mode+" "+q)
		}
		cmds = append(cmds, "chmod u+w "+q)
	case !want && evBool(f.Evidence, "sensitive") && evBool(f.Evidence, "writable"):
		title = "Remove write access from " + p
		cmds = append(cmds, "chmod a-w "+q)
	default:
		title = "Reset mode of " + p
		cmds = append(cmds, "chmod "+mode+" "+q)
	}
	return Item{
		Title:       title,
		Action:      "Run from the application root as the owner of the tree.",
		Target:      p,
		PayloadKind: PayloadCommands,
		Payload:     strings.Join(cmds, "\n"),
	}
}

func danglingFix(f audit.Finding) Item {
	table := evString(f.Evidence, "table", f.File)
	col := evString(f.Evidence, "column", "")
	refTable := evString(f.Evidence, "ref_table", "")
	refCol := evString(f.Evidence, "ref_column", "")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT src.* FROM %s src LEFT JOIN %s ref ON src.%s = ref.%s WHERE ref.%s IS NULL AND src.%s IS NOT NULL;\n",
		table, refTable, col, refCol, refCol, col)
	update := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s IS NOT NULL AND %s NOT IN (SELECT %s FROM %s);",
		table, col, col, col, refCol, refTable)
	if !evBool(f.Evidence, "nullable") {
		b.WriteString("-- column is NOT NULL: reassign these rows or relax the constraint before nulling\n")
	}
	b.WriteString(update)

	return Item{
		Title:       fmt.Sprintf("Repair %d dangling %s.%s references", evInt(f.Evidence, "dangling"), table, col),
		Action:      fmt.Sprintf("Review the rows pointing at missing %s.%s, then null the references. Nothing is executed for you.", refTable, refCol),
		PayloadKind: PayloadSQL,
		Payload:     b.String(),
	}
}

func createTable(table string, cols []string) string {
	if len(cols) == 0 {
		cols = []string{"id"}
	}
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, "  "+c+" "+columnType(c))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", table, strings.Join(defs, ",\n"))
}

func columnType(col string) string {
	switch {
	case col == "id":
		return "INT AUTO_INCREMENT PRIMARY KEY"
	case strings.HasSuffix(col, "_id"), strings.HasPrefix(col, "is_"), strings.HasSuffix(col, "_by"):
		return "INT NULL"
	default:
		return "VARCHAR(255) NULL"
	}
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Evidence accessors accept both the in-memory shapes and the shapes produced
// by decoding an artifact (float64 numbers, []any lists).

func evString(ev map[string]any, key, def string) string {
	if v, ok := ev[key].(string); ok && v != "" {
		return v
	}
	return def
}

func evBool(ev map[string]any, key string) bool {
	v, _ := ev[key].(bool)
	return v
}

func evInt(ev map[string]any, key string) int {
	switch v := ev[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func evStrings(ev map[string]any, key string) []string {
	switch v := ev[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// attemptPath returns the candidate path recorded for method.
func attemptPath(ev map[string]any, method string) string {
	attempts, _ := ev["attempts"].([]any)
	for _, a := range attempts {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if m["method"] == method {
			p, _ := m["path"].(string)
			return p
		}
	}
	return ""
}

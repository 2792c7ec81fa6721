// Package dbcheck verifies the audited application's database: expected
// schema, seed data, referential consistency and relationship cardinality.
// It only ever issues read queries.
package dbcheck

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"deployaudit/internal/audit"
	"deployaudit/internal/config"
)

// Category is the database checker's category and artifact stem.
const Category = "database-integrity"

// Report sections. Only schema feeds the overall score.
const (
	SectionSchema        = "schema"
	SectionColumns       = "columns"
	SectionData          = "data"
	SectionConsistency   = "consistency"
	SectionRelationships = "relationships"
)

// Checker runs the database integrity steps against one connection.
type Checker struct {
	cfg  config.DatabaseConfig
	open func(ctx context.Context) (Store, error)
}

func New(cfg config.DatabaseConfig) *Checker {
	c := &Checker{cfg: cfg}
	c.open = func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg.Driver, cfg.DSN, cfg.ConnectTimeout)
	}
	return c
}

func (c *Checker) Category() string { return Category }

func (c *Checker) Description() string {
	return "Expected tables and columns, seed data, dangling references"
}

// Run connects once. A connectivity failure fails the whole category with no
// partial results; after that every sub-check is error-scoped on its own,
// including the table listing.
func (c *Checker) Run(ctx context.Context) audit.Report {
	st, err := c.open(ctx)
	if err != nil {
		return audit.Failed(Category, err)
	}
	defer st.Close()

	tables, err := st.Tables(ctx)
	if err != nil {
		return c.unlisted(err)
	}

	var acc audit.Accumulator
	acc = c.checkSchema(ctx, st, tables, acc)
	acc = c.checkCounts(ctx, st, tables, acc)
	acc = c.checkReferences(ctx, st, tables, acc)
	acc = c.checkRelationships(ctx, st, tables, acc)
	return acc.Build(Category, c.cfg.Thresholds, SectionSchema)
}

// unlisted reports every expected table as ERROR when the table listing
// query fails, and skips the checks that depend on it.
func (c *Checker) unlisted(err error) audit.Report {
	var acc audit.Accumulator
	for _, t := range c.cfg.Tables {
		acc = acc.Add(audit.Item{Name: t.Name, Section: SectionSchema, Status: audit.StatusError, Detail: map[string]any{"error": err.Error()}})
	}
	reason := "table listing failed"
	for _, cc := range c.cfg.Counts {
		acc = acc.Add(audit.Item{Name: cc.Name, Section: SectionData, Status: audit.StatusSkipped, Detail: map[string]any{"table": cc.Table, "reason": reason}})
	}
	for _, rc := range c.cfg.References {
		acc = acc.Add(audit.Item{Name: rc.Name, Section: SectionConsistency, Status: audit.StatusSkipped, Detail: map[string]any{"description": rc.Description, "reason": reason}})
	}
	for _, rq := range c.cfg.Relationships {
		acc = acc.Add(audit.Item{Name: rq.Name, Section: SectionRelationships, Status: audit.StatusSkipped, Detail: map[string]any{"description": rq.Description, "reason": reason}})
	}
	return acc.Build(Category, c.cfg.Thresholds, SectionSchema)
}

func (c *Checker) checkSchema(ctx context.Context, st Store, tables map[string]bool, acc audit.Accumulator) audit.Accumulator {
	for _, t := range c.cfg.Tables {
		if !tables[t.Name] {
			acc = acc.Add(
				audit.Item{Name: t.Name, Section: SectionSchema, Status: audit.StatusMissing, Detail: map[string]any{"description": t.Description}},
				audit.Finding{
					Category: audit.CategorySchemaMissingTable,
					Severity: audit.SeverityCritical,
					File:     t.Name,
					Message:  fmt.Sprintf("table %s does not exist", t.Name),
					Evidence: map[string]any{
						"table":       t.Name,
						"description": t.Description,
						"columns":     stringsEvidence(t.Columns),
					},
				},
			)
			continue
		}
		acc = acc.Add(audit.Item{Name: t.Name, Section: SectionSchema, Status: audit.StatusPass})
		if len(t.Columns) > 0 {
			acc = c.checkColumns(ctx, st, t, acc)
		}
	}
	return acc
}

func (c *Checker) checkColumns(ctx context.Context, st Store, t config.TableSpec, acc audit.Accumulator) audit.Accumulator {
	cols, err := st.Columns(ctx, t.Name)
	if err != nil {
		return acc.Add(audit.Item{Name: t.Name, Section: SectionColumns, Status: audit.StatusError, Detail: map[string]any{"error": err.Error()}})
	}
	var missing []string
	for _, want := range t.Columns {
		if !slices.ContainsFunc(cols, func(have string) bool { return strings.EqualFold(have, want) }) {
			missing = append(missing, want)
		}
	}
	item := audit.Item{Name: t.Name, Section: SectionColumns, Status: audit.StatusPass, Detail: map[string]any{"column_count": len(cols)}}
	if len(missing) == 0 {
		return acc.Add(item)
	}
	item.Status = audit.StatusFail
	item.Detail["missing"] = stringsEvidence(missing)
	var findings []audit.Finding
	for _, col := range missing {
		findings = append(findings, audit.Finding{
			Category: audit.CategorySchemaMissingColumn,
			Severity: audit.SeverityHigh,
			File:     t.Name,
			Message:  fmt.Sprintf("table %s has no column %s", t.Name, col),
			Evidence: map[string]any{"table": t.Name, "column": col},
		})
	}
	return acc.Add(item, findings...)
}

func (c *Checker) checkCounts(ctx context.Context, st Store, tables map[string]bool, acc audit.Accumulator) audit.Accumulator {
	d := st.Dialect()
	for _, cc := range c.cfg.Counts {
		item := audit.Item{Name: cc.Name, Section: SectionData, Detail: map[string]any{"table": cc.Table}}
		if !tables[cc.Table] {
			item.Status = audit.StatusSkipped
			item.Detail["reason"] = "table missing"
			acc = acc.Add(item)
			continue
		}
		query := "SELECT COUNT(*) FROM " + d.Quote(cc.Table)
		if cc.Where != "" {
			query += " WHERE " + cc.Where
		}
		n, err := st.Count(ctx, query)
		if err != nil {
			item.Status = audit.StatusError
			item.Detail["error"] = err.Error()
			acc = acc.Add(item)
			continue
		}
		item.Detail["record_count"] = n
		if n >= int64(cc.MinRows) {
			item.Status = audit.StatusPass
			acc = acc.Add(item)
			continue
		}
		sev := cc.Severity
		if sev == "" {
			sev = audit.SeverityMedium
		}
		item.Status = audit.StatusFail
		acc = acc.Add(item, audit.Finding{
			Category: audit.CategoryDataEmptyTable,
			Severity: sev,
			File:     cc.Table,
			Message:  fmt.Sprintf("%s: %d rows, expected at least %d", cc.Name, n, cc.MinRows),
			Evidence: map[string]any{
				"check":        cc.Name,
				"table":        cc.Table,
				"where":        cc.Where,
				"record_count": n,
				"min_rows":     cc.MinRows,
			},
		})
	}
	return acc
}

func (c *Checker) checkReferences(ctx context.Context, st Store, tables map[string]bool, acc audit.Accumulator) audit.Accumulator {
	for _, rc := range c.cfg.References {
		item := audit.Item{Name: rc.Name, Section: SectionConsistency, Detail: map[string]any{"description": rc.Description}}
		if (rc.Table != "" && !tables[rc.Table]) || (rc.RefTable != "" && !tables[rc.RefTable]) {
			item.Status = audit.StatusSkipped
			item.Detail["reason"] = "table missing"
			acc = acc.Add(item)
			continue
		}
		query := rc.Query
		if query == "" {
			query = danglingQuery(st.Dialect(), rc)
		}
		n, err := st.Count(ctx, query)
		if err != nil {
			item.Status = audit.StatusError
			item.Detail["error"] = err.Error()
			acc = acc.Add(item)
			continue
		}
		item.Detail["inconsistent_records"] = n
		if n == 0 {
			item.Status = audit.StatusPass
			acc = acc.Add(item)
			continue
		}
		item.Status = audit.StatusFail
		acc = acc.Add(item, audit.Finding{
			Category: audit.CategoryDataDanglingReference,
			Severity: audit.SeverityHigh,
			File:     rc.Table,
			Message:  fmt.Sprintf("%s: %d rows reference a missing %s row", rc.Name, n, rc.RefTable),
			Evidence: map[string]any{
				"check":      rc.Name,
				"table":      rc.Table,
				"column":     rc.Column,
				"ref_table":  rc.RefTable,
				"ref_column": rc.RefColumn,
				"nullable":   rc.Nullable,
				"dangling":   n,
				"query":      query,
			},
		})
	}
	return acc
}

// danglingQuery counts rows whose reference column points at nothing.
func danglingQuery(d Dialect, rc config.ReferenceCheck) string {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s src LEFT JOIN %s ref ON src.%s = ref.%s WHERE ref.%s IS NULL",
		d.Quote(rc.Table), d.Quote(rc.RefTable), d.Quote(rc.Column), d.Quote(rc.RefColumn), d.Quote(rc.RefColumn))
	if rc.Nullable {
		q += fmt.Sprintf(" AND src.%s IS NOT NULL", d.Quote(rc.Column))
	}
	return q
}

func (c *Checker) checkRelationships(ctx context.Context, st Store, tables map[string]bool, acc audit.Accumulator) audit.Accumulator {
	for _, rq := range c.cfg.Relationships {
		item := audit.Item{Name: rq.Name, Section: SectionRelationships, Detail: map[string]any{"description": rq.Description}}
		if slices.ContainsFunc(rq.Tables, func(t string) bool { return !tables[t] }) {
			item.Status = audit.StatusSkipped
			item.Detail["reason"] = "table missing"
			acc = acc.Add(item)
			continue
		}
		row, err := st.Row(ctx, rq.Query)
		if err != nil {
			item.Status = audit.StatusError
			item.Detail["error"] = err.Error()
			acc = acc.Add(item)
			continue
		}
		item.Status = audit.StatusInfo
		for k, v := range row {
			item.Detail[k] = v
		}
		acc = acc.Add(item)
	}
	return acc
}

func stringsEvidence(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

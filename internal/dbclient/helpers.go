package dbclient

import (
	"github.com/valyala/fasttemplate"

	"dbconduit/internal/domain"
)

// Helper templates use {{table}}, {{schema}} and {{materialization}} placeholders.
var defaultHelpers = map[domain.DatabaseDriver]map[string]string{
	domain.DatabaseDriverPostgres: {
		"List":        `SELECT * FROM "{{schema}}"."{{table}}" LIMIT 500`,
		"Columns":     `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = '{{schema}}' AND table_name = '{{table}}' ORDER BY ordinal_position`,
		"Indexes":     `SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = '{{schema}}' AND tablename = '{{table}}'`,
		"Constraints": `SELECT constraint_name, constraint_type FROM information_schema.table_constraints WHERE table_schema = '{{schema}}' AND table_name = '{{table}}'`,
		"Count":       `SELECT count(*) FROM "{{schema}}"."{{table}}"`,
		"Drop":        `DROP {{materialization}} IF EXISTS "{{schema}}"."{{table}}"`,
	},
	domain.DatabaseDriverMySQL: {
		"List":    "SELECT * FROM `{{schema}}`.`{{table}}` LIMIT 500",
		"Columns": "DESCRIBE `{{schema}}`.`{{table}}`",
		"Indexes": "SHOW INDEXES FROM `{{schema}}`.`{{table}}`",
		"Count":   "SELECT COUNT(*) FROM `{{schema}}`.`{{table}}`",
		"Drop":    "DROP {{materialization}} IF EXISTS `{{schema}}`.`{{table}}`",
	},
	domain.DatabaseDriverSQLite: {
		"List":    `SELECT * FROM "{{table}}" LIMIT 500`,
		"Columns": `PRAGMA table_info('{{table}}')`,
		"Indexes": `PRAGMA index_list('{{table}}')`,
		"Count":   `SELECT COUNT(*) FROM "{{table}}"`,
		"Drop":    `DROP {{materialization}} IF EXISTS "{{table}}"`,
	},
	domain.DatabaseDriverMongoDB: {
		"List":  `{"collection": "{{table}}", "limit": 500}`,
		"Count": `{"collection": "{{table}}", "operation": "aggregate", "pipeline": [{"$count": "count"}]}`,
	},
}

// DefaultHelpers returns a copy of the built-in helper templates for a driver type.
func DefaultHelpers(typ string) map[string]string {
	src := defaultHelpers[normalizeType(typ)]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ExpandHelpers substitutes opts into every template.
// An empty materialization expands as "table"; unknown placeholders expand empty.
func ExpandHelpers(templates map[string]string, opts domain.HelperOptions) map[string]string {
	mat := opts.Materialization
	if mat == "" {
		mat = string(domain.StructureTypeTable)
	}
	values := map[string]any{
		"table":           opts.Table,
		"schema":          opts.Schema,
		"materialization": mat,
	}
	out := make(map[string]string, len(templates))
	for name, tpl := range templates {
		t, err := fasttemplate.NewTemplate(tpl, "{{", "}}")
		if err != nil {
			// unbalanced tags: hand back the template untouched
			out[name] = tpl
			continue
		}
		out[name] = t.ExecuteString(values)
	}
	return out
}

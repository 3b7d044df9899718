package loader

import (
	"fmt"
	"strings"
)

// buildUpsertPostgres builds a multi-row INSERT ... ON CONFLICT DO UPDATE
// statement so a rerun of a partially-applied batch stays idempotent (spec
// §4.6: "a plain insert is not sufficient and must not be emitted").
func buildUpsertPostgres(schema, table string, columns, primaryKey []string, rows [][]interface{}) (string, []interface{}) {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdentPG(c)
	}

	args := make([]interface{}, 0, len(rows)*len(columns))
	valueRows := make([]string, len(rows))
	placeholder := 1
	for i, row := range rows {
		placeholders := make([]string, len(columns))
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", placeholder)
			placeholder++
		}
		valueRows[i] = "(" + strings.Join(placeholders, ", ") + ")"
		args = append(args, row...)
	}

	pkSet := make(map[string]bool, len(primaryKey))
	for _, c := range primaryKey {
		pkSet[c] = true
	}
	quotedPK := make([]string, len(primaryKey))
	for i, c := range primaryKey {
		quotedPK[i] = quoteIdentPG(c)
	}

	updateClauses := make([]string, 0, len(columns))
	for _, c := range columns {
		if pkSet[c] {
			continue
		}
		updateClauses = append(updateClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdentPG(c), quoteIdentPG(c)))
	}

	target := fmt.Sprintf("%s.%s", quoteIdentPG(schema), quoteIdentPG(table))
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s)",
		target, strings.Join(quotedCols, ", "), strings.Join(valueRows, ", "), strings.Join(quotedPK, ", "))

	if len(updateClauses) > 0 {
		stmt += " DO UPDATE SET " + strings.Join(updateClauses, ", ")
	} else {
		stmt += " DO NOTHING"
	}

	return stmt, args
}

func quoteIdentPG(name string) string {
	return `"` + name + `"`
}

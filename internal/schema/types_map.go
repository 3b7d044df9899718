package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// ColumnDef describes one column as read from the source engine.
type ColumnDef struct {
	Name       string
	SourceType string // raw MySQL type, e.g. "int(11)", "tinyint(1)", "decimal(10,2)"
	Nullable   bool
}

// TableDef describes a table's shape on one side of the pipeline.
type TableDef struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
}

var typeWidthRe = regexp.MustCompile(`^([a-zA-Z]+)(?:\(([^)]*)\))?`)

// baseType strips a width/precision annotation, lowercasing the type name:
// "VARCHAR(255)" -> "varchar", "decimal(10,2)" -> "decimal".
func baseType(sourceType string) string {
	m := typeWidthRe.FindStringSubmatch(strings.TrimSpace(sourceType))
	if m == nil {
		return strings.ToLower(strings.TrimSpace(sourceType))
	}
	return strings.ToLower(m[1])
}

// isTinyintOne reports whether sourceType is exactly "tinyint(1)", the
// MySQL convention for a boolean column.
func isTinyintOne(sourceType string) bool {
	m := typeWidthRe.FindStringSubmatch(strings.TrimSpace(sourceType))
	if m == nil || strings.ToLower(m[1]) != "tinyint" {
		return false
	}
	width, err := strconv.Atoi(strings.TrimSpace(m[2]))
	return err == nil && width == 1
}

// StandardMap maps a MySQL-family base type to its warehouse (Postgres)
// equivalent under the fixed, non-sampled policy (spec §4.4, "Standard
// map"). Integer types default to their widest safe Postgres counterpart;
// the analyzed map narrows specific ambiguous cases.
var StandardMap = map[string]string{
	"tinyint":    "smallint",
	"smallint":   "smallint",
	"mediumint":  "integer",
	"int":        "integer",
	"integer":    "integer",
	"bigint":     "bigint",
	"decimal":    "numeric",
	"numeric":    "numeric",
	"float":      "real",
	"double":     "double precision",
	"bit":        "bytea",
	"char":       "text",
	"varchar":    "text",
	"tinytext":   "text",
	"text":       "text",
	"mediumtext": "text",
	"longtext":   "text",
	"binary":     "bytea",
	"varbinary":  "bytea",
	"blob":       "bytea",
	"tinyblob":   "bytea",
	"mediumblob": "bytea",
	"longblob":   "bytea",
	"date":       "date",
	"datetime":   "timestamp",
	"timestamp":  "timestamptz",
	"time":       "time",
	"year":       "smallint",
	"json":       "jsonb",
	"enum":       "text",
	"set":        "text",
}

// AmbiguousWidth reports whether sourceType's target width is unclear under
// the standard map and worth sampling: unbounded integer types and every
// tinyint column, since tinyint(1) may in fact hold booleans (spec §4.4).
func AmbiguousWidth(sourceType string) bool {
	base := baseType(sourceType)
	switch base {
	case "int", "integer", "mediumint", "smallint":
		return true
	case "tinyint":
		return true
	}
	return false
}

// Sample summarizes the observed values of a column, enough to pick a
// narrower analyzed-map target type.
type Sample struct {
	MinInt      int64
	MaxInt      int64
	SawOnlyZeroOrOne bool
	RowsSampled int
}

// AnalyzedType resolves an ambiguous column to its narrowed target type
// using a value sample. Falls back to the standard map's type when the
// sample offers no narrowing opportunity (e.g. zero rows sampled).
func AnalyzedType(col ColumnDef, sample Sample) string {
	base := baseType(col.SourceType)

	if base == "tinyint" && isTinyintOne(col.SourceType) {
		if sample.RowsSampled > 0 && sample.SawOnlyZeroOrOne {
			return "boolean"
		}
		return StandardMap["tinyint"]
	}

	if sample.RowsSampled == 0 {
		return StandardMap[base]
	}

	switch {
	case sample.MinInt >= -32768 && sample.MaxInt <= 32767:
		return "smallint"
	case sample.MinInt >= -2147483648 && sample.MaxInt <= 2147483647:
		return "integer"
	default:
		return "bigint"
	}
}

// ResolveType maps a column to its warehouse type, applying the analyzed
// map only for ambiguous widths and falling back to the standard map
// otherwise.
func ResolveType(col ColumnDef, sample *Sample) string {
	if !AmbiguousWidth(col.SourceType) || sample == nil {
		if t, ok := StandardMap[baseType(col.SourceType)]; ok {
			return t
		}
		return "text"
	}
	return AnalyzedType(col, *sample)
}

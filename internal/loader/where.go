package loader

import (
	"strings"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
)

// buildWhereClause implements spec §4.6 step 4: compose a WHERE clause to
// read from REPLICA (MySQL-family, `?` placeholders) using progress read
// from ANALYTICS tracking, not REPLICA tracking. Shape mirrors the
// Extractor's buildWhereClause; the only difference is the source of the
// cutoffs.
func buildWhereClause(spec *catalog.TableSpec, lastPrimaryValue string, lastLoaded time.Time) (string, []interface{}) {
	if len(spec.IncrementalColumns) == 0 {
		return "", nil
	}

	cutoffFor := func(col string) (string, bool) {
		if col == spec.PrimaryIncrementalCol {
			if lastPrimaryValue == "" {
				return "", false
			}
			return lastPrimaryValue, true
		}
		if lastLoaded.IsZero() {
			return "", false
		}
		return lastLoaded.UTC().Format("2006-01-02 15:04:05"), true
	}

	columns := spec.IncrementalColumns
	if spec.IncrementalStrategy == catalog.IncrementalSingleColumn {
		columns = []string{spec.PrimaryIncrementalCol}
	}

	var conditions []string
	var args []interface{}
	for _, col := range columns {
		cutoff, ok := cutoffFor(col)
		if !ok {
			continue
		}
		conditions = append(conditions, quoteIdentMySQL(col)+" > ?")
		args = append(args, cutoff)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	joiner := " OR "
	if spec.IncrementalStrategy == catalog.IncrementalAndLogic {
		joiner = " AND "
	}

	clause := strings.Join(conditions, joiner)
	if len(conditions) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args
}

func quoteIdentMySQL(name string) string {
	return "`" + name + "`"
}

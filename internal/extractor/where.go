package extractor

import (
	"strings"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
)

// buildWhereClause implements spec §4.5 step 2: compose a WHERE clause over
// incremental_columns per incremental_strategy. single_column filters on
// the primary incremental column alone, ignoring any other declared
// incremental_columns; or_logic and and_logic join every declared column
// with OR/AND respectively. The primary incremental column is compared
// against lastPrimaryValue (read from tracking); any other incremental
// column is treated as a timestamp and compared against lastCopied, the
// cutoff the spec calls "last load time".
//
// Returns an empty clause and nil args when there is nothing to filter on
// (e.g. no recorded progress yet), signalling callers to run unconditional.
func buildWhereClause(spec *catalog.TableSpec, lastPrimaryValue string, lastCopied time.Time) (string, []interface{}) {
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
		if lastCopied.IsZero() {
			return "", false
		}
		return lastCopied.UTC().Format("2006-01-02 15:04:05"), true
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
		conditions = append(conditions, quoteIdent(col)+" > ?")
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

func quoteIdent(name string) string {
	return "`" + name + "`"
}

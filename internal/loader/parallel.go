package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// parallelLoad implements spec §4.6's "parallel" strategy: precompute the
// total row count under the current filter (recovering to an unconditional
// count if it is zero while REPLICA is ahead of ANALYTICS), partition the
// primary key into contiguous ranges, and load each range concurrently.
func parallelLoad(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error) {
	if len(spec.PrimaryKey) != 1 {
		return l.loadBatched(ctx, spec, def, targetTypes, whereClause, args, l.batch.ParallelBatchSize)
	}
	pk := spec.PrimaryKey[0]

	total, err := l.countRows(ctx, spec, whereClause, args)
	if err != nil {
		return 0, "", err
	}

	effectiveWhere, effectiveArgs := whereClause, args
	if total == 0 && whereClause != "" {
		recover, err := l.needsRecovery(ctx, spec.Name)
		if err != nil {
			return 0, "", err
		}
		if recover {
			l.logger.Warn("loader: stale-state recovery triggered inside parallel strategy, rebuilding as unconditional", "table", spec.Name)
			effectiveWhere, effectiveArgs = "", nil
			total, err = l.countRows(ctx, spec, effectiveWhere, effectiveArgs)
			if err != nil {
				return 0, "", err
			}
		}
	}
	if total == 0 {
		return 0, "", nil
	}

	lo, hi, numeric, err := l.pkRange(ctx, spec, pk, effectiveWhere, effectiveArgs)
	if err != nil {
		return 0, "", err
	}
	if !numeric {
		// Non-numeric primary key: range partitioning doesn't apply cleanly,
		// fall back to a single paginated pass that still upserts correctly.
		return l.paginatedLoad(ctx, spec, def, targetTypes, effectiveWhere, effectiveArgs, pk, l.batch.ParallelBatchSize)
	}

	workerCount := l.workers.ParallelLoadWorkers
	if workerCount <= 0 {
		workerCount = 1
	}
	ranges := partitionRange(lo, hi, workerCount)

	g, gctx := errgroup.WithContext(ctx)
	rowCounts := make([]int64, len(ranges))
	maxValues := make([]string, len(ranges))

	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			rangeWhere, rangeArgs := withRangeCondition(effectiveWhere, effectiveArgs, pk, r.lo, r.hi)
			rows, maxValue, err := l.paginatedLoad(gctx, spec, def, targetTypes, rangeWhere, rangeArgs, pk, l.batch.ParallelBatchSize)
			if err != nil {
				return err
			}
			rowCounts[i] = rows
			maxValues[i] = maxValue
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, "", err
	}

	var totalProcessed int64
	var overallMax string
	for i := range ranges {
		totalProcessed += rowCounts[i]
		if maxValues[i] != "" && (overallMax == "" || compareNumericStrings(maxValues[i], overallMax) > 0) {
			overallMax = maxValues[i]
		}
	}

	return totalProcessed, overallMax, nil
}

// keyRange is one worker's contiguous slice of the primary key domain.
type keyRange struct {
	lo, hi int64
}

// partitionRange splits [lo, hi] into n contiguous, non-overlapping ranges.
func partitionRange(lo, hi int64, n int) []keyRange {
	if n <= 1 || hi <= lo {
		return []keyRange{{lo: lo, hi: hi}}
	}

	span := hi - lo + 1
	step := span / int64(n)
	if step == 0 {
		step = 1
	}

	ranges := make([]keyRange, 0, n)
	cur := lo
	for i := 0; i < n; i++ {
		rangeHi := cur + step - 1
		if i == n-1 || rangeHi > hi {
			rangeHi = hi
		}
		ranges = append(ranges, keyRange{lo: cur, hi: rangeHi})
		cur = rangeHi + 1
		if cur > hi {
			break
		}
	}
	return ranges
}

// withRangeCondition AND-joins "pk BETWEEN lo AND hi" onto whereClause.
func withRangeCondition(whereClause string, args []interface{}, pk string, lo, hi int64) (string, []interface{}) {
	cond := quoteIdentMySQL(pk) + " BETWEEN ? AND ?"
	newArgs := append(append([]interface{}{}, args...), lo, hi)
	if whereClause == "" {
		return cond, newArgs
	}
	return "(" + whereClause + ") AND " + cond, newArgs
}

// countRows runs a COUNT(*) against REPLICA honoring whereClause/args.
func (l *Loader) countRows(ctx context.Context, spec *catalog.TableSpec, whereClause string, args []interface{}) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentMySQL(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}

	var count int64
	err := l.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "loader.count", func(ctx context.Context) error {
		return l.pools.Replica.QueryRowContext(ctx, query, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoadQuery, err)
	}
	return count, nil
}

// pkRange reads MIN(pk)/MAX(pk) under whereClause/args, reporting whether
// both bounds parsed as integers (the only shape partitionRange can split).
func (l *Loader) pkRange(ctx context.Context, spec *catalog.TableSpec, pk string, whereClause string, args []interface{}) (int64, int64, bool, error) {
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", quoteIdentMySQL(pk), quoteIdentMySQL(pk), quoteIdentMySQL(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}

	var minVal, maxVal sql.NullString
	err := l.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "loader.pk_range", func(ctx context.Context) error {
		return l.pools.Replica.QueryRowContext(ctx, query, args...).Scan(&minVal, &maxVal)
	})
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: %v", ErrLoadQuery, err)
	}
	if !minVal.Valid || !maxVal.Valid {
		return 0, 0, false, nil
	}

	lo, errLo := strconv.ParseInt(minVal.String, 10, 64)
	hi, errHi := strconv.ParseInt(maxVal.String, 10, 64)
	if errLo != nil || errHi != nil {
		return 0, 0, false, nil
	}
	return lo, hi, true, nil
}

func compareNumericStrings(a, b string) int {
	an, errA := strconv.ParseInt(a, 10, 64)
	bn, errB := strconv.ParseInt(b, 10, 64)
	if errA != nil || errB != nil {
		if a > b {
			return 1
		}
		if a < b {
			return -1
		}
		return 0
	}
	switch {
	case an > bn:
		return 1
	case an < bn:
		return -1
	default:
		return 0
	}
}

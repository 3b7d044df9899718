package loader

import (
	"context"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// standardLoad implements spec §4.6's "standard" strategy: single query,
// batch upserts, tracking the running max of the primary column.
func standardLoad(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error) {
	return l.loadBatched(ctx, spec, def, targetTypes, whereClause, args, l.batch.StandardBatchSize)
}

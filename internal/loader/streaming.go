package loader

import (
	"context"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// streamingLoad implements spec §4.6's "streaming" strategy: a
// generator-of-batches read, memory-bounded by a smaller batch size than
// standard, upserted per batch as rows arrive.
func streamingLoad(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error) {
	return l.loadBatched(ctx, spec, def, targetTypes, whereClause, args, l.batch.StreamingBatchSize)
}

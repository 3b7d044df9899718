package extractor

import "github.com/sjksingh/clinical-warehouse-etl/internal/catalog"

// Method names the "how" of a copy, chosen purely from estimated size and
// orthogonal to the "what" (ExtractionStrategy). Every method streams one
// SELECT and upserts in batch_size batches; the method only sets the
// progress-logging cadence.
type Method string

const (
	MethodSmall  Method = "small"  // <= 1 MB: no per-batch logging
	MethodMedium Method = "medium" // 1-100 MB: no per-batch logging
	MethodLarge  Method = "large"  // > 100 MB: logs every batch flush
)

// resolveStrategy implements spec §4.5's strategy resolution: forceFull or
// an empty incremental column list forces full_table; otherwise the
// catalog's declared strategy applies.
func resolveStrategy(spec *catalog.TableSpec, forceFull bool) catalog.ExtractionStrategy {
	if forceFull || len(spec.IncrementalColumns) == 0 {
		return catalog.StrategyFullTable
	}
	if spec.ExtractionStrategy == catalog.StrategyIncrementalChunked {
		return catalog.StrategyIncrementalChunked
	}
	return catalog.StrategyIncremental
}

// resolveMethod picks the copy method from the table's estimated size.
func resolveMethod(spec *catalog.TableSpec) Method {
	switch {
	case spec.EstimatedSizeMB > 100:
		return MethodLarge
	case spec.EstimatedSizeMB > 1:
		return MethodMedium
	default:
		return MethodSmall
	}
}

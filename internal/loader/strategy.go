package loader

import "github.com/sjksingh/clinical-warehouse-etl/internal/catalog"

// Strategy names the Loader's "how to copy" decision, chosen from estimated
// size the way Method is for the Extractor (spec §4.6).
type Strategy string

const (
	StrategyStandard  Strategy = "standard"
	StrategyStreaming Strategy = "streaming"
	StrategyChunked   Strategy = "chunked"
	StrategyCopyBulk  Strategy = "copy_bulk"
	StrategyParallel  Strategy = "parallel"
)

// resolveStrategy implements spec §4.6 step 3's size-adaptive table.
func resolveStrategy(spec *catalog.TableSpec) Strategy {
	switch {
	case spec.EstimatedRows > 1_000_000:
		return StrategyParallel
	case spec.EstimatedSizeMB > 500:
		return StrategyCopyBulk
	case spec.EstimatedSizeMB > 200:
		return StrategyChunked
	case spec.EstimatedSizeMB > 50:
		return StrategyStreaming
	default:
		return StrategyStandard
	}
}

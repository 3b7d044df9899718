package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

var forceFull bool

var runTableCmd = &cobra.Command{
	Use:   "run-table <name>",
	Short: "Run Extract then Load for one table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTable,
}

var runCategoryCmd = &cobra.Command{
	Use:   "run-category <tiny|small|medium|large>",
	Short: "Run every table in one performance category",
	Args:  cobra.ExactArgs(1),
	RunE:  runCategory,
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Run every table in the catalog, grouped by performance category",
	Args:  cobra.NoArgs,
	RunE:  runAll,
}

func init() {
	for _, cmd := range []*cobra.Command{runTableCmd, runCategoryCmd, runAllCmd} {
		cmd.Flags().BoolVar(&forceFull, "force-full", false, "bypass incremental cutoffs and copy/load the full table")
	}
}

func runTable(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, catalogPath, configPath, dryRun)
	if err != nil {
		return err
	}
	defer p.close()

	result := p.runner.Run(ctx, args[0], forceFull)
	return printResult(result, !result.Success)
}

func runCategory(cmd *cobra.Command, args []string) error {
	category, err := parseCategory(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, catalogPath, configPath, dryRun)
	if err != nil {
		return err
	}
	defer p.close()

	result := p.scheduler.RunCategories(ctx, []catalog.PerformanceCategory{category}, forceFull, nil)
	return printResult(result, hasFailures(result))
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, catalogPath, configPath, dryRun)
	if err != nil {
		return err
	}
	defer p.close()

	result := p.scheduler.RunAll(ctx, forceFull)
	return printResult(result, hasFailures(result))
}

func parseCategory(s string) (catalog.PerformanceCategory, error) {
	switch catalog.PerformanceCategory(s) {
	case catalog.CategoryTiny, catalog.CategorySmall, catalog.CategoryMedium, catalog.CategoryLarge:
		return catalog.PerformanceCategory(s), nil
	default:
		return "", fmt.Errorf("unknown performance category %q (want tiny, small, medium, or large)", s)
	}
}

func hasFailures(result types.CategoryResult) bool {
	for _, outcome := range result {
		if len(outcome.Failed) > 0 {
			return true
		}
	}
	return false
}

// printResult writes v as indented JSON to stdout and exits 1 if failed is
// true. The CLI never panics on a per-table failure (spec §6); a non-zero
// exit code is the only signal back to the invoking DAG/shell.
func printResult(v interface{}, failed bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if failed {
		os.Exit(1)
	}
	return nil
}

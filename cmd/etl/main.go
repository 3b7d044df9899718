// Command etl is a thin CLI wrapper over the pipeline's exported entry
// points (TableRunner.Run, Scheduler.RunCategories, Scheduler.RunAll) — not the DAG engine
// itself, which remains an external collaborator (spec §1, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	catalogPath string
	configPath  string
	dryRun      bool
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Clinical warehouse Extract-Load pipeline",
	Long: `etl runs the Extract-Load pipeline that replicates a clinical
database from SOURCE through a local REPLICA into the ANALYTICS
warehouse, table by table or grouped by performance category.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "config/catalog.yaml", "path to the table catalog")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the runtime config file (optional; env vars apply regardless)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "resolve and log strategies without extracting or loading")

	rootCmd.AddCommand(runTableCmd, runCategoryCmd, runAllCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the way the
// Scheduler's between-category and between-table cancellation checks expect.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

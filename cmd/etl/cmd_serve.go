package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjksingh/clinical-warehouse-etl/internal/monitoring"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the monitoring snapshot HTTP endpoint",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8090", "address the monitoring HTTP server listens on")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, catalogPath, configPath, dryRun)
	if err != nil {
		return err
	}
	defer p.close()

	mon := monitoring.NewServer(p.monitor, p.logger)
	server := &http.Server{Addr: serveAddr, Handler: mon.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	p.logger.Info("monitoring server starting", "addr", serveAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	p.logger.Info("monitoring server stopped")
	return nil
}

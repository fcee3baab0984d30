package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/policy-core/permissioncore/internal/bootstrap"
	"github.com/policy-core/permissioncore/internal/config"
	"github.com/policy-core/permissioncore/internal/observability"
)

var metricsAddr string

var metricsServerCmd = &cobra.Command{
	Use:   "metrics-server",
	Short: "Serve Prometheus cache metrics until interrupted",
	Long: `metrics-server initializes the runtime and serves its cache
metrics (C6 hit/miss/size) on /metrics in the Prometheus exposition
format, for deployments that run policycored as a long-lived process
rather than invoking it once per decision. It runs until interrupted
with SIGINT/SIGTERM.`,
	RunE: runMetricsServer,
}

func init() {
	metricsServerCmd.Flags().StringVar(&metricsAddr, "addr", "127.0.0.1:9090", "address to serve /metrics on")
	rootCmd.AddCommand(metricsServerCmd)
}

func runMetricsServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	catalog, err := loadCatalog("")
	if err != nil {
		return err
	}

	rt, err := bootstrap.New(cfg, logger, catalog)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer rt.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(rt.PromRegistry))

	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/points"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API, the /metrics endpoint and the periodic integrity
auditor. Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	b, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open store", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	opts, err := coordinatorOptions(cfg, logger)
	if err != nil {
		return err
	}
	coordinator := points.New(b.store, opts...)

	handler := api.NewHandler(coordinator, b.pinger, logger)
	if cfg.Server.EnableScenarios {
		handler.Scenarios = &api.ScenarioLoader{Coordinator: coordinator}
		logger.Warn("demo scenario endpoints enabled")
	}
	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins})
	server := api.NewHTTPServer(cfg.Server.Addr, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	auditor := api.NewAuditor(coordinator, cfg.Audit.Interval, logger)
	auditor.Enabled = cfg.Audit.Enabled
	auditor.Start()
	defer auditor.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("driver", cfg.Storage.Driver),
			zap.String("timezone", cfg.Ledger.Timezone),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

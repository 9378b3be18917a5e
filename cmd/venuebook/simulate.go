package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/internal/trading/engine"
	"github.com/Aidin1998/venuebook/pkg/logger"
	"github.com/Aidin1998/venuebook/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type simulateOptions struct {
	scenario    string
	metricsAddr string
	serve       bool
}

// simulateOutput is the JSON document printed by simulate
type simulateOutput struct {
	Scenario string        `json:"scenario"`
	Summary  Summary       `json:"summary"`
	Report   engine.Report `json:"report"`
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a YAML scenario through the engine and print the combined report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "scenario file")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (overrides telemetry.metrics_addr)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "keep serving metrics after the report until interrupted")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts simulateOptions) error {
	paths, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return err
	}
	cfg, err := config.NewLoader(nil).Load(paths...)
	if err != nil {
		return err
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Tracing, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			zapLogger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	addr := cfg.Telemetry.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = opts.metricsAddr
	}
	if addr != "" {
		srv := startMetricsServer(addr, zapLogger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sc, err := loadScenario(opts.scenario)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg, zapLogger)
	if err != nil {
		return err
	}
	exec := engine.NewBookExecutor(e.Books(), e.Fees(), sc.LatencyUs)

	summary, err := runScenario(ctx, e, exec, sc, zapLogger)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	zapLogger.Info("Scenario replayed",
		zap.String("scenario", sc.Name),
		zap.Int("orders", summary.Orders),
		zap.Int("filled", summary.Filled),
		zap.Int("rejected", summary.Rejected))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(simulateOutput{Scenario: sc.Name, Summary: summary, Report: e.Report(time.Time{})}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if opts.serve && addr != "" {
		zapLogger.Info("Serving metrics until interrupted", zap.String("addr", addr))
		<-ctx.Done()
	}
	return nil
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/config"
	"github.com/klyr/wafcore/internal/engine"
	"github.com/klyr/wafcore/internal/gateway"
	"github.com/klyr/wafcore/internal/logging"
	"github.com/klyr/wafcore/internal/observability"
	"github.com/klyr/wafcore/internal/watch"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var modeOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inspection gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("config path is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if modeOverride != "" {
				cfg.Server.Mode = modeOverride
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			return runGateway(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&modeOverride, "mode", "", "Override server.mode (enforce|shadow)")

	return cmd
}

func runGateway(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var (
		reg     *prometheus.Registry
		metrics *observability.Metrics
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
	}

	var engineMetrics engine.Metrics
	if metrics != nil {
		engineMetrics = metrics
	}
	e, err := buildEngine(cfg, logger, engineMetrics)
	if err != nil {
		return err
	}
	defer func() { _ = e.Shutdown() }()

	gw, err := gateway.New(cfg.Server, e, logger)
	if err != nil {
		return err
	}
	if metrics != nil {
		gw.SetMetrics(metrics)
	}

	if cfg.Logging.VerdictLog != "" {
		verdicts, closer, err := logging.OpenVerdictLog(cfg.ResolvePath(cfg.Logging.VerdictLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		gw.SetVerdictLogger(verdicts)
	}

	metricsSrv := startMetricsServer(cfg, metrics, reg, logger)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func() {
		if err := e.ConfigureDatabase(cfg.RulesPath()); err != nil {
			logger.Error("rule reload failed, previous database still active", zap.Error(err))
		}
	}
	if cfg.Engine.Watch.Enabled {
		w, err := watch.New(watch.Options{
			Path:                cfg.RulesPath(),
			Reloader:            e,
			Sources:             e.Sources,
			Debounce:            cfg.Engine.Watch.Debounce,
			MaxReloadsPerMinute: cfg.Engine.Watch.MaxReloadsPerMinute,
			Logger:              logger,
		})
		if err != nil {
			return err
		}
		go func() {
			_ = w.Run(signalCtx)
		}()
		reload = w.Trigger
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS.Enabled {
			serverErr <- srv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- srv.ListenAndServe()
	}()

	st := e.Status()
	logger.Info("gateway started",
		zap.String("listen", cfg.Server.Listen),
		zap.String("upstream", cfg.Server.Upstream),
		zap.String("mode", cfg.Server.Mode),
		zap.Uint64("generation", st.Generation),
		zap.Int("rules", st.Rules),
	)

loop:
	for {
		select {
		case <-signalCtx.Done():
			break loop
		case <-hup:
			logger.Info("reload requested by signal")
			reload()
		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func startMetricsServer(cfg *config.Config, metrics *observability.Metrics, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	if metrics == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

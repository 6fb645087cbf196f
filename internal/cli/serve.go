package cli

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rcliao/mail-sentinel/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run monitor cycles on an interval",
		Long: "Run cycles on a fixed interval with a Prometheus /metrics endpoint.\n" +
			"The interval should exceed the expected cycle duration; cycles never\n" +
			"overlap within one process. Edits to the config file are picked up\n" +
			"between cycles.",
		Run: runServe,
	}

	cmd.Flags().Duration("interval", 0, "Override the configured cycle interval")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
		cfg.Serve.Interval = d
	}
	logger := newLogger(cfg.Logging)

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		exitErr("configure channels", err)
	}
	m := newMonitor(cfg, s, dispatcher, logger)

	// Config edits apply between cycles, never mid-cycle.
	var pendingMu sync.Mutex
	var pending *config.Config
	if configPath != "" {
		stop, err := config.Watch(configPath, logger, func(next *config.Config) {
			pendingMu.Lock()
			pending = next
			pendingMu.Unlock()
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer stop()
		}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: cfg.Serve.Listen, Handler: metricsMux()}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Serve.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("monitor started", "interval", cfg.Serve.Interval)
	ticker := time.NewTicker(cfg.Serve.Interval)
	defer ticker.Stop()

	for {
		m.RunCycle(ctx)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Shutdown(shutdownCtx)
			stop()
			dispatcher.Close()
			return
		case <-ticker.C:
		}

		pendingMu.Lock()
		next := pending
		pending = nil
		pendingMu.Unlock()
		if next != nil {
			nextDispatcher, err := newDispatcher(next, logger)
			if err != nil {
				logger.Error("reloaded channel config invalid, keeping previous", "error", err)
			} else {
				dispatcher.Close()
				dispatcher = nextDispatcher
				m = newMonitor(next, s, dispatcher, logger)
				ticker.Reset(next.Serve.Interval)
				logger.Info("applied reloaded config")
			}
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

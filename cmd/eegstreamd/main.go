package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/config"
	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"codeberg.org/mutker/eegstreamd/internal/pid"
	"codeberg.org/mutker/eegstreamd/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownTimeout = 2 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := pid.Write(""); err != nil {
		logger.ErrorWithCode(errors.FromError(err, errors.ErrInitApp)).Msg("failed to write PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(""); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := pipeline.New(cfg, pipeline.WithRegistry(reg))
	if err != nil {
		logger.ErrorWithCode(errors.FromError(err, errors.ErrInitApp)).Msg("failed to initialize pipeline")
		return 1
	}

	srv := serveMetrics(reg)

	if err := p.Start(ctx); err != nil {
		logger.ErrorWithCode(errors.FromError(err, errors.ErrInitApp)).Msg("failed to start pipeline")
		return 1
	}

	logger.Info().
		Str("peer", cfg.PeerAddress).
		Str("listen", cfg.ListenAddress).
		Msg("Streaming. Press Ctrl+C to stop.")

	<-ctx.Done()

	code := 0
	if err := p.Stop(pipeline.DefaultStopTimeout); err != nil {
		logger.ErrorWithCode(errors.FromError(err, errors.ErrShutdownFailed)).Msg("shutdown incomplete")
		code = 1
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to stop metrics server")
		}
	}

	logger.Info().Msg("Exiting...")

	return code
}

// serveMetrics exposes reg on /metrics when a listen address is configured.
func serveMetrics(reg *prometheus.Registry) *http.Server {
	if cfg.PrometheusListen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              cfg.PrometheusListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", cfg.PrometheusListen).Msg("metrics server failed")
		}
	}()

	logger.Info().Str("addr", cfg.PrometheusListen).Msg("Serving Prometheus metrics")

	return srv
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-agentd/internal/api"
	"github.com/lzjever/mbos-agentd/internal/bus"
	"github.com/lzjever/mbos-agentd/internal/config"
	"github.com/lzjever/mbos-agentd/internal/manager"
	"github.com/lzjever/mbos-agentd/internal/observability"
	"github.com/lzjever/mbos-agentd/internal/runtime"
)

func main() {
	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	// Replace global logger
	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := bus.New(log)
	store := config.NewStore(cfg, b)
	rt := runtime.New(runtime.Config{
		LaunchTimeout: cfg.LaunchTimeout,
		StopGrace:     cfg.StopGrace,
	}, log)
	mgr := manager.New(rt, store, b, log)

	// Main API server. WriteTimeout stays zero: the event feed and the
	// instance proxy hold connections open indefinitely.
	apiHandler := api.NewAPI(mgr, store, b, log)
	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     apiHandler.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("agentd server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("agentd server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down agentd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Terminate child instances after the HTTP surface is down so
	// in-flight proxy requests see clean connection teardown.
	mgr.Shutdown(shutdownCtx)
	b.Close()

	log.Info("agentd stopped")
}

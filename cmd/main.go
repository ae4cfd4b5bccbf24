package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/qustodio-bridge/internal/api"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/config"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/coordinator"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/metrics"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/models"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/scheduler"
	"github.com/tejusbharadwaj/qustodio-bridge/internal/server"
)

// Command qustodio-bridge polls the Qustodio parental-control API on a
// fixed interval and exposes per-profile usage as a read-only HTTP API
// and Prometheus gauges.
//
// Usage:
//
//	qustodio-bridge [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := logrus.New()
	if appConfig.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(appConfig.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"port":     appConfig.Server.Port,
		"interval": appConfig.Scheduler.Interval.String(),
	}).Info("Starting qustodio-bridge")
	logger.Debug("Effective configuration:\n" + appConfig.String())

	m := metrics.New(prometheus.DefaultRegisterer)

	client := api.NewClient(api.Config{
		BaseURL:        appConfig.Qustodio.BaseURL,
		SummaryBaseURL: appConfig.Qustodio.SummaryBaseURL,
		Username:       appConfig.Qustodio.Username,
		Password:       appConfig.Qustodio.Password,
		ClientID:       appConfig.Qustodio.ClientID,
		ClientSecret:   appConfig.Qustodio.ClientSecret,
		UserAgent:      appConfig.Qustodio.UserAgent,
		RequestRate:    appConfig.Qustodio.RequestRate,
		RequestBurst:   appConfig.Qustodio.RequestBurst,
		CacheRules:     appConfig.Qustodio.CacheRules,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Validate credentials up front: bad credentials are an operator
	// error and will not fix themselves by retrying.
	switch client.Login(ctx) {
	case models.LoginUnauthorized:
		logger.Fatal("Invalid credentials, check qustodio.username and qustodio.password")
	case models.LoginError:
		logger.Warn("Cannot reach Qustodio API, polling will keep retrying")
	}

	coord := coordinator.New(client, m, logger, appConfig.Scheduler.CycleTimeout)

	// First refresh before serving, so consumers see data immediately.
	if err := coord.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("Initial refresh failed, serving without data")
	} else if data, _, _ := coord.Snapshot(); len(data) == 0 {
		// An account without profiles is valid, it just has nothing to report.
		logger.Warn("No profiles found for account")
	}

	sched := scheduler.NewScheduler(ctx, coord, logger, appConfig.Scheduler.Interval)

	router := server.SetupRouter(coord, m, logger, server.ServerConfig{
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
	}, prometheus.DefaultGatherer)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port),
		Handler: router,
	}

	errChan := make(chan error, 1)

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	go handleShutdown(ctx, srv, sched, logger, errChan)

	if err := <-errChan; err != nil {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Info("Shutdown complete")
}

// Handle graceful shutdown
func handleShutdown(ctx context.Context, srv *http.Server, sched *scheduler.Scheduler, logger *logrus.Logger, errChan chan<- error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Info("Context canceled, initiating shutdown")
	case sig := <-sigChan:
		logger.Infof("Received signal %v, initiating shutdown", sig)
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("Gracefully stopping server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errChan <- fmt.Errorf("shutdown error: %w", err)
		return
	}
	errChan <- nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/medrex/caseledger/internal/api"
	"github.com/medrex/caseledger/internal/filestore"
	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/internal/signer"
	"github.com/medrex/caseledger/internal/store"
	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/monitoring"
	"github.com/medrex/caseledger/pkg/types"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	log := logger.New(cfg.LogLevel)
	log.WithFields(map[string]interface{}{
		"version": version,
		"backend": cfg.Ledger.Backend,
		"auth":    cfg.Auth.Mode,
		"files":   cfg.IPFS.Mode,
	}).Info("Starting case ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open %s state backend: %w", cfg.Ledger.Backend, err)
	}
	defer backend.Close()

	var metrics *monitoring.MetricsCollector
	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewMetricsCollector(serviceName)
	}

	var tracing *monitoring.TracingManager
	if cfg.Tracing.Enabled {
		tracing, err = monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: version,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			Environment:    cfg.Tracing.Environment,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Failed to flush traces")
			}
		}()
	}

	ledgerOpts := ledger.Options{
		RequireDoctorGrant: cfg.Ledger.RequireDoctorGrant,
		Logger:             log,
	}
	if metrics != nil {
		ledgerOpts.Observer = metrics
	}
	l := ledger.New(backend, ledgerOpts)

	admins := make([]types.Account, 0, len(cfg.Ledger.Admins))
	for _, raw := range cfg.Ledger.Admins {
		admin, err := types.ParseAccount("admin", raw)
		if err != nil {
			return err
		}
		admins = append(admins, admin)
	}
	if len(admins) > 0 {
		if err := l.Bootstrap(ctx, admins); err != nil {
			return fmt.Errorf("failed to designate admins: %w", err)
		}
	}

	publicURL := fmt.Sprintf("http://%s/api/v1/files", cfg.Server.Addr())
	files, err := filestore.Open(&cfg.IPFS, publicURL, log)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}
	defer files.Close()
	var recorder filestore.Recorder
	if metrics != nil {
		recorder = metrics
	}
	files = filestore.NewInstrumented(files, recorder, tracing)

	auth, err := signer.New(&cfg.Auth)
	if err != nil {
		return err
	}

	health := monitoring.NewHealthManager(serviceName, version)
	health.RegisterChecker("state", store.HealthChecker(cfg.Ledger.Backend, backend))
	health.RegisterChecker("files", filestore.HealthChecker(files))

	srv := api.NewServer(api.Options{
		Ledger:      l,
		Files:       files,
		Auth:        auth,
		Metrics:     metrics,
		Health:      health,
		Tracing:     tracing,
		Logger:      log,
		RateLimit:   cfg.Server.RateLimit,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		MetricsPath: cfg.Monitoring.MetricsPath,
		HealthPath:  cfg.Monitoring.HealthPath,
	})
	go srv.RunLimiterCleanup(ctx, 10*time.Minute)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down case ledger...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
		return err
	}

	log.Info("Case ledger stopped")
	return nil
}

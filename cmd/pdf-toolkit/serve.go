package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mr-kumar/pdf-toolkit/pkg/api"
	"github.com/Mr-kumar/pdf-toolkit/pkg/artifact"
	"github.com/Mr-kumar/pdf-toolkit/pkg/auth"
	"github.com/Mr-kumar/pdf-toolkit/pkg/cleanup"
	"github.com/Mr-kumar/pdf-toolkit/pkg/config"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/quota"
	"github.com/Mr-kumar/pdf-toolkit/pkg/scheduler"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PDF Toolkit server",
	Long: `Start the HTTP server with the worker pool, the cleanup sweeps and
the event broker. Configuration comes from the environment and an
optional .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("serve")

	st, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	files, err := storage.NewService(cfg.StorageBasePath)
	if err != nil {
		return fmt.Errorf("failed to prepare storage: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	attachEventLogger(broker)

	registry := processor.NewDefaultRegistry(processor.ToolPaths{
		Soffice:     cfg.SofficePath,
		Wkhtmltopdf: cfg.WkhtmltopdfPath,
		Ocrmypdf:    cfg.OcrmypdfPath,
		Pdftoppm:    cfg.PdftoppmPath,
	})

	finalizer := artifact.NewFinalizer(files, st)
	sched := scheduler.New(st, files, registry, finalizer, broker, scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		SubmitWait:    cfg.SubmitWait(),
		JobTimeout:    cfg.ProcessingTimeout(),
	})

	sweeper := cleanup.New(st, files, broker, cleanup.Config{
		Interval:   time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
		MaxFileAge: time.Duration(cfg.MaxFileAgeHours) * time.Hour,
		MaxTempAge: time.Duration(cfg.MaxTempFileAgeHours) * time.Hour,
		Retention:  time.Duration(cfg.TerminalJobRetentionDays) * 24 * time.Hour,
	})
	sweeper.Start()
	defer sweeper.Stop()

	authSvc := auth.NewService(st, cfg.SecretKey, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	gate := quota.NewGate(st)
	server := api.NewServer(cfg, st, files, authSvc, gate, sched, registry, broker)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	// Stop accepting requests, then drain the pool within the grace
	// period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Worker pool drained with cancellations")
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// attachEventLogger mirrors service events into the log stream
func attachEventLogger(broker *events.Broker) {
	sub := broker.Subscribe()
	go func() {
		logger := log.WithComponent("events")
		for event := range sub {
			logger.Debug().
				Str("type", string(event.Type)).
				Fields(map[string]any{"metadata": event.Metadata}).
				Msg(event.Message)
		}
	}()
}

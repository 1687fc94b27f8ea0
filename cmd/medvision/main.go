package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/handler"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/tracer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "medvision",
		Short:        "Diagnosis orchestration API for chest image analysis",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var demo demoSeed
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), &demo)
		},
	}
	cmd.Flags().BoolVar(&demo.enabled, "seed-demo", false, "create a demo clinician and patient at startup")
	demo.bindFlags(cmd)
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create schemas, tables and indexes in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires DB_DRIVER=%s", config.DriverPostgres)
			}
			db, err := database.Connect(cfg.Database, log)
			if err != nil {
				return err
			}
			return database.Migrate(db, log)
		},
	}
}

func seedCmd() *cobra.Command {
	demo := demoSeed{enabled: true}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo clinician and patient in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return demo.run(cmd.Context(), a)
		},
	}
	demo.bindFlags(cmd)
	return cmd
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log, cfg.App)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runServer(parent context.Context, demo *demoSeed) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracer.Init(ctx, cfg.Tracing, cfg.App.Version)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if demo.enabled {
		if err := demo.run(ctx, a); err != nil {
			return err
		}
	}

	router := handler.NewRouter(handler.Dependencies{
		Config:    cfg,
		Diagnoses: a.diagnoses,
		Reviews:   a.reviews,
		Queries:   a.queries,
		Auth:      a.auth,
		Images:    a.images,
		Tokens:    a.tokens,
		Metrics:   a.metrics,
		Log:       log,
		Ready:     a.ready,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("db_driver", cfg.Database.Driver),
			zap.String("image_store", cfg.Storage.Backend),
			zap.String("inference", cfg.Inference.Endpoint()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	// In-flight requests may still enqueue audit entries until Shutdown returns.
	a.audit.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

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
	"go.uber.org/zap"

	"bizfin-insight/internal/app"
	"bizfin-insight/internal/bootstrap"
	"bizfin-insight/internal/config"
	mysqlClient "bizfin-insight/internal/platform/mysql"
	"bizfin-insight/internal/pkg/logger"
	"bizfin-insight/internal/repository"
	httptransport "bizfin-insight/internal/transport/http"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "bizfin-insight",
		Short:        "role-aware financial analysis backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_FILE", configPath)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (overrides CONFIG_FILE)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := mysqlClient.New(cmd.Context(), cfg.MySQLDSN(), mysqlClient.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = mysqlClient.Close(db) }()
			if err := bootstrap.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			seeded := 0
			if cfg.Auth.SeedDemoUsers {
				auth := app.NewAuthService(repository.NewUserRepository(db), cfg.Auth.JWTSecret, cfg.JWTExpiration())
				if seeded, err = auth.SeedDemoUsers(cmd.Context(), app.DemoUsers(cfg.Auth.DemoPassword)); err != nil {
					return fmt.Errorf("seed demo users failed: %w", err)
				}
			}
			log.Info("migration finished", zap.String("db", cfg.MySQL.DB), zap.Int("demo_users_seeded", seeded))
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env)), nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("close resources failed", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           httptransport.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

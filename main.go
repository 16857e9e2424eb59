package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"newsletter-service/api/pkg/clients/email"
	"newsletter-service/api/pkg/config"
	"newsletter-service/api/pkg/db"
	"newsletter-service/api/pkg/metrics"
	"newsletter-service/api/pkg/middleware"
	"newsletter-service/api/services/newsletters"
	"newsletter-service/api/services/storage"
	"newsletter-service/api/services/subscriptions"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "newsletter",
		Short:         "Newsletter subscription and delivery service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"),
		"path to the YAML config file (env CONFIG_PATH); environment variables override it")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pool, err := db.Connect(cmd.Context(), dbConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool)
		},
	})
	return root
}

// loadConfig reads the config and installs the JSON logger at the configured level.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	level, _ := cfg.Log.SlogLevel()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(logHandler))
	return cfg, nil
}

func dbConfig(c config.Database) db.Config {
	dbCfg := db.DefaultConfig(c.URL)
	dbCfg.MaxConns = c.MaxConns
	dbCfg.MinConns = c.MinConns
	dbCfg.ConnMaxLifetime = c.ConnMaxLifetime
	dbCfg.ConnMaxIdleTime = c.ConnMaxIdleTime
	return dbCfg
}

// newEmailClient builds the provider selected by email.provider.
func newEmailClient(c config.Email) (email.Client, error) {
	switch c.Provider {
	case config.ProviderStub:
		return email.NewStubClient(c.Sender), nil
	case config.ProviderAPI:
		return email.NewAPIClient(email.APIConfig{
			BaseURL:            c.BaseURL,
			Sender:             c.Sender,
			AuthorizationToken: c.AuthorizationToken,
			Timeout:            c.Timeout,
			Attempts:           c.RetryAttempts,
		}, nil), nil
	case config.ProviderSMTP:
		return email.NewSMTPClient(email.SMTPConfig{
			Host:               c.SMTP.Host,
			Port:               c.SMTP.Port,
			User:               c.SMTP.User,
			Password:           c.SMTP.Password,
			Sender:             c.Sender,
			SenderName:         c.SMTP.SenderName,
			InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
			Attempts:           c.RetryAttempts,
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", c.Provider)
	}
}

// newRouter mounts every route of the service and wraps it with recovery and CORS.
func newRouter(ctx context.Context, cfg config.Config, store storage.Storage, mailer email.Client) (http.Handler, error) {
	mainRouter := mux.NewRouter()
	mainRouter.Use(middleware.RequestID)

	mainRouter.HandleFunc("/health_check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	mainRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	trustedProxies, err := cfg.RateLimit.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewIPRateLimiter(ctx, middleware.RateLimitConfig{
		Rate:           cfg.RateLimit.RequestsPerSecond,
		Burst:          cfg.RateLimit.Burst,
		TrustedProxies: trustedProxies,
	})
	subscriptionService, err := subscriptions.NewService(store, mailer, cfg.Application.BaseURL,
		subscriptions.WithRateLimiter(limiter))
	if err != nil {
		return nil, fmt.Errorf("create subscription service: %w", err)
	}
	subscriptionService.LoadRoutes(mainRouter)

	dispatcher, err := newsletters.NewDispatcher(store, mailer)
	if err != nil {
		return nil, fmt.Errorf("create newsletter dispatcher: %w", err)
	}
	if cfg.Application.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set, newsletter publishing is disabled")
	}
	dispatcher.LoadRoutes(mainRouter, cfg.Application.AdminToken)

	var h http.Handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(mainRouter)
	if len(cfg.Application.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.Application.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h)
	}
	return h, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	pool, err := db.Connect(ctx, dbConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer pool.Close()

	pgStore, err := storage.NewInstance(pool)
	if err != nil {
		return fmt.Errorf("create store instance: %w", err)
	}
	mailer, err := newEmailClient(cfg.Email)
	if err != nil {
		return err
	}
	handler, err := newRouter(ctx, cfg, pgStore, mailer)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Application.ListenAddress,
		Handler: handler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", srv.Addr, "emailProvider", cfg.Email.Provider)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Application.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/spf13/cobra"
	"safevoice/api/internal/app"
	"safevoice/api/internal/blob"
	"safevoice/api/internal/config"
	"safevoice/api/internal/email"
	"safevoice/api/internal/export"
	"safevoice/api/internal/logging"
	"safevoice/api/internal/search"
	"safevoice/api/internal/session"
	"safevoice/api/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:          "safevoice-api",
		Short:        "SafeVoice incident reporting API",
		SilenceUsage: true,
	}

	var memory bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Starts the API web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), config.Load(), memory)
		},
	}
	serve.Flags().BoolVar(&memory, "memory", false, "keep everything in memory (development only)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Applies database migrations and exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Setup(cfg.LogLevel)
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()
			return store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
		},
	}

	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config.Config, memory bool) error {
	logging.Setup(cfg.LogLevel)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	var (
		opts          []app.Option
		service       *app.Service
		searchService *search.Service
	)
	if memory {
		slog.Warn("running with the in-memory store; data is lost on exit")
		ms := store.NewMemoryStore()
		searchService = search.NewService(nil, nil)
		opts = append(opts, app.WithSearch(searchService))
		opts = append(opts, optionalServices(ctx, cfg)...)
		service = app.New(cfg, ms, opts...)
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}

		ps := store.NewPostgresStore(db)
		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()
		}
		pgfts := search.NewPgFTS(db)
		searchService = search.NewService(meiliClient, pgfts)
		opts = append(opts, app.WithSearch(searchService))

		if strings.TrimSpace(cfg.RedisURL) != "" {
			slog.Info("using redis for refresh sessions")
			redisStore, err := session.NewRedisStore(cfg.RedisURL, ps)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer redisStore.Close()
			opts = append(opts, app.WithSessionStore(redisStore))
		} else {
			slog.Info("using postgres for refresh sessions")
		}
		opts = append(opts, optionalServices(ctx, cfg)...)
		service = app.New(cfg, ps, opts...)

		go searchService.Reindex(context.WithoutCancel(ctx), pgfts.LoadAllRecords)
	}

	var handler http.Handler = app.NewHTTPServer(service, cfg.CORSOrigin).Handler()
	if cfg.SentryDSN != "" {
		handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("safevoice api listening", "addr", cfg.Addr, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	case <-sigCh:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// optionalServices wires attachments, certificates and mail. Missing
// configuration disables the feature rather than failing startup.
func optionalServices(ctx context.Context, cfg config.Config) []app.Option {
	opts := []app.Option{app.WithCertificates(export.NewService())}

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	switch {
	case errors.Is(err, blob.ErrStorageUnavailable):
		slog.Info("attachments disabled: no object storage configured")
	case err != nil:
		slog.Warn("attachments disabled", "error", err)
	default:
		opts = append(opts, app.WithAttachments(blobs))
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mail.IsConfigured() {
		slog.Info("email disabled: SMTP not configured")
	}
	return append(opts, app.WithMailer(mail))
}

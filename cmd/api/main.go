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

	"go.uber.org/zap"

	"council/api/internal/app"
	"council/api/internal/blob"
	"council/api/internal/config"
	"council/api/internal/email"
	"council/api/internal/export"
	"council/api/internal/logging"
	"council/api/internal/realtime"
	"council/api/internal/revisions"
	"council/api/internal/search"
	"council/api/internal/session"
	"council/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpen:     cfg.DBMaxOpen,
		MaxIdle:     cfg.DBMaxIdle,
		MaxLifetime: cfg.DBMaxLifetime,
		ConnectWait: cfg.DBConnectWait,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		return fmt.Errorf("create revisions dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	opts := app.Options{
		Revisions: revisions.New(cfg.RevisionsDir),
		Logger:    logger,
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			AppURL:   cfg.AppURL,
		}),
		Exporter: export.NewService(cfg.ChromeDisabled),
	}

	pgSearch := search.NewPgSearch(db)
	var meili *search.Meili
	if cfg.MeiliEnabled() {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		opts.Search = search.NewService(meili, pgSearch, logger)
	} else {
		opts.Search = search.NewService(nil, pgSearch, logger)
	}

	if cfg.RedisEnabled() {
		logger.Info("using redis for sessions and chat fan-out")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, dataStore)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		opts.Sessions = redisStore

		hub, err := realtime.NewHub(ctx, redisStore.Client(), logger)
		if err != nil {
			return fmt.Errorf("realtime hub: %w", err)
		}
		defer hub.Close()
		opts.Hub = hub
	} else {
		logger.Info("using postgres for sessions, chat fan-out is in-process")
	}

	if cfg.MinioEnabled() {
		blobs, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		opts.Blobs = blobs
	} else {
		logger.Warn("MINIO_ENDPOINT not set, uploads are disabled")
	}

	service := app.New(cfg, dataStore, opts)
	if meili != nil {
		go opts.Search.ReindexAllFromPG(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("council api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

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
	"time"

	"github.com/redis/go-redis/v9"

	"authorsapi/internal/tracing"
	"authorsapi/internal/util"
	"authorsapi/pkg/queue"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
	"authorsapi/services/catalog/internal/app"
	"authorsapi/services/catalog/internal/config"
	"authorsapi/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "service", cfg.ServiceName, "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		util.Fatal("failed to init tracing", "err", err)
	}

	var catalogStore store.Store
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store; data is lost on restart")
		catalogStore = store.NewMemoryStore()
	} else {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to open database", "err", err)
		}
		defer gormStore.Close()
		catalogStore = gormStore
	}

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	var events app.DeletionPublisher
	var deletions *queue.DeletionStream
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		revoker = store.NewRedisTokenRevoker(client, cfg.SessionTTLDuration)
		hostname, _ := os.Hostname()
		deletions, err = queue.NewDeletionStream(client, queue.StreamConfig{
			Stream:   cfg.DeletionStream,
			Group:    cfg.DeletionGroup,
			Consumer: hostname,
		})
		if err != nil {
			util.Fatal("failed to init deletion stream", "err", err)
		}
		events = deletions
	} else {
		logger.Warn("redis not configured; sessions are revoked in memory and covers are cleaned inline")
	}

	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTLDuration, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeewayDuration,
	})
	if err != nil {
		util.Fatal("failed to init sessions", "err", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		objects = minioStore
	}

	appCore, err := app.New(app.Config{
		Store:         catalogStore,
		Sessions:      sessions,
		Objects:       objects,
		Events:        events,
		ImageURLTTL:   cfg.ImageURLTTLDuration,
		MaxImageBytes: cfg.MaxImageBytes,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	if deletions != nil {
		deletions.Start(ctx, 2, appCore.CleanupCovers)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		ServiceName:    cfg.ServiceName,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxImageBytes:  cfg.MaxImageBytes,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	slog.Info("catalog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		stop()
	}
	<-stopped
}

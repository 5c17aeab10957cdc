// Command perfcollect is the perfprobe fleet's optional collector server.
// It accepts streamed session events over gRPC from any number of
// perfprobe instances, persists them, and serves a JWT-guarded REST API for
// querying session history, mirroring the lifecycle of the TripWire
// dashboard server binary: load config, open storage, start gRPC and HTTP
// listeners, shut down gracefully on SIGTERM/SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elus10n/profiler/internal/collector"
	"github.com/elus10n/profiler/internal/collector/rest"
)

type serverConfig struct {
	GRPCAddr string
	HTTPAddr string

	Insecure bool
	CertPath string
	KeyPath  string
	CAPath   string

	SQLitePath string
	PostgresDSN string

	JWTPublicKeyPath string
	LogLevel         string
}

func main() {
	var cfg serverConfig

	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", ":4443", "gRPC listener address for incoming perfprobe event streams")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP REST API listener address")
	flag.BoolVar(&cfg.Insecure, "insecure", false, "disable TLS on the gRPC listener (development only)")
	flag.StringVar(&cfg.CertPath, "tls-cert", "", "PEM server certificate path")
	flag.StringVar(&cfg.KeyPath, "tls-key", "", "PEM server private key path")
	flag.StringVar(&cfg.CAPath, "tls-ca", "", "PEM CA certificate path (verifies perfprobe client certs)")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", "", "path to a SQLite database file (mutually exclusive with -postgres-dsn)")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN (mutually exclusive with -sqlite-path)")
	flag.StringVar(&cfg.JWTPublicKeyPath, "jwt-pubkey", "", "path to PEM RSA public key for JWT validation (optional)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	ingestSvc := collector.NewIngestService(store, logger)
	grpcSrv, err := collector.NewServer(collector.ServerConfig{
		Addr:     cfg.GRPCAddr,
		Insecure: cfg.Insecure,
		CertPath: cfg.CertPath,
		KeyPath:  cfg.KeyPath,
		CAPath:   cfg.CAPath,
	}, ingestSvc, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", "error", err)
		os.Exit(1)
	}

	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", "error", err)
			os.Exit(1)
		}
		pubKey, err = rest.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", "error", err)
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt-pubkey not configured; REST API authentication disabled (dev mode)")
	}

	restSrv := rest.NewServer(store)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      rest.NewRouter(restSrv, pubKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		grpcErrCh <- grpcSrv.Serve(ctx)
		close(grpcErrCh)
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP REST server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("shutting down servers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}

	select {
	case err := <-grpcErrCh:
		if err != nil {
			logger.Warn("gRPC server drain error", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("gRPC graceful stop timed out; forcing stop")
		grpcSrv.Stop()
	}

	logger.Info("perfcollect exited cleanly")
}

func openStore(ctx context.Context, cfg serverConfig) (collector.Store, func(), error) {
	switch {
	case cfg.PostgresDSN != "" && cfg.SQLitePath != "":
		return nil, nil, fmt.Errorf("perfcollect: -sqlite-path and -postgres-dsn are mutually exclusive")
	case cfg.PostgresDSN != "":
		store, err := collector.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close(context.Background()) }, nil
	case cfg.SQLitePath != "":
		store, err := collector.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("perfcollect: one of -sqlite-path or -postgres-dsn is required")
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

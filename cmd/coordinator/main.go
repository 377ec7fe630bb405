// Package main implements the settlement coordinator server: the REST
// surface, the transaction pipeline, and the read-repair reconciler over a
// conditional-disbursement ledger contract.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/proofpay/settlement-coordinator/internal/app"
	"github.com/proofpay/settlement-coordinator/internal/app/httpapi"
	"github.com/proofpay/settlement-coordinator/internal/app/services/funds"
	"github.com/proofpay/settlement-coordinator/internal/app/storage"
	"github.com/proofpay/settlement-coordinator/internal/app/storage/memory"
	"github.com/proofpay/settlement-coordinator/internal/app/storage/postgres"
	redisstore "github.com/proofpay/settlement-coordinator/internal/app/storage/redis"
	"github.com/proofpay/settlement-coordinator/internal/config"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
	"github.com/proofpay/settlement-coordinator/internal/signer"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML config file")
	flag.Parse()

	// Load .env for local development; production sets env vars directly.
	_ = godotenv.Load()

	log := logger.NewDefault("coordinator")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	meta, cleanup, err := buildMetadataStore(cfg, log)
	if err != nil {
		log.WithError(err).Error("configure metadata store")
		os.Exit(1)
	}
	defer cleanup()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		RPCURL:            cfg.Ledger.RPCURL,
		ContractID:        cfg.Ledger.ContractID,
		Timeout:           cfg.Ledger.RequestTimeout,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
	})
	if err != nil {
		log.WithError(err).Error("configure ledger client")
		os.Exit(1)
	}

	sgn, err := buildSigner(cfg, log)
	if err != nil {
		log.WithError(err).Error("configure signer")
		os.Exit(1)
	}

	application := app.New(app.Dependencies{
		Ledger:   ledgerClient,
		Signer:   sgn,
		Metadata: meta,
		Pipeline: funds.PipelineConfig{
			SigningTimeout:     cfg.Pipeline.SigningTimeout,
			SubmitRetryBackoff: cfg.Pipeline.SubmitRetryBackoff,
			PollInterval:       cfg.Pipeline.PollInterval,
			MaxPollAttempts:    cfg.Pipeline.MaxPollAttempts,
		},
		ReconcileInterval: cfg.ReconcileInterval,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.NewHandler(application),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("coordinator API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("coordinator stopped")
}

func buildMetadataStore(cfg *config.Config, log *logger.Logger) (storage.MetadataStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		store := postgres.New(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		log.Info("using postgres metadata store")
		return store, func() { db.Close() }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		log.Info("using redis metadata store")
		return redisstore.New(client), func() { client.Close() }, nil

	default:
		log.Info("using in-memory metadata store")
		return memory.New(), noop, nil
	}
}

func buildSigner(cfg *config.Config, log *logger.Logger) (funds.Signer, error) {
	if cfg.Signer.KeySeed == "" {
		log.Warn("SIGNER_KEY_SEED not set; using an ephemeral signing key")
		return signer.NewEphemeral()
	}
	return signer.NewLocal(cfg.Signer.KeySeed)
}

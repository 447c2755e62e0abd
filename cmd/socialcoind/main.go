package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"socialcoin/config"
	"socialcoin/gateway"
	"socialcoin/ledger"
	"socialcoin/observability/logging"
	"socialcoin/proofs"
	"socialcoin/rewards"
	"socialcoin/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SOCIALCOIN_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("socialcoind", env, "").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("socialcoind", env, cfg.LogFile)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	db, err := openDatabase(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		logger.Error("migrate schema", "error", err)
		os.Exit(1)
	}
	store := storage.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ledger.New(ctx, cfg)
	if err != nil {
		logger.Error("connect settlement backend", "error", err)
		os.Exit(1)
	}
	logger.Info("settlement backend ready", "backend", client.Backend())

	adminKey, err := cfg.AdminKey()
	if err != nil {
		logger.Error("resolve admin key", "error", err)
		os.Exit(1)
	}
	jwtSecret, err := cfg.JWTSecret()
	if err != nil {
		logger.Error("resolve session secret", "error", err)
		os.Exit(1)
	}

	if err := ensureAdmin(ctx, store, cfg.AdminAddress); err != nil {
		logger.Error("bootstrap administrator", "error", err)
		os.Exit(1)
	}

	svc := rewards.NewService(client, store, rewards.Admin{Address: cfg.AdminAddress, Key: adminKey})
	proofClient := proofs.NewClient(cfg.IPFS.AddURL, cfg.IPFS.Enabled)
	srv := gateway.New(store, svc, proofClient, gateway.NewTokenIssuer(jwtSecret, 24*time.Hour))

	go snapshotLoop(ctx, store, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

// snapshotLoop records one KPI snapshot per action per day, giving the
// reporting queries a stable time series.
func snapshotLoop(ctx context.Context, store *storage.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := store.SnapshotKPIs(ctx, now); err != nil {
				logger.Warn("kpi snapshot failed", "error", err)
			}
		}
	}
}

func openDatabase(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
}

// ensureAdmin guarantees the configured settlement account has a participant
// row, so audit queries can resolve it like any other address.
func ensureAdmin(ctx context.Context, store *storage.Store, address string) error {
	if _, err := store.GetUserByAddress(ctx, address); err == nil {
		return nil
	}
	return store.CreateUser(ctx, &storage.User{
		Name:    "Administrator",
		Email:   "admin@socialcoin.local",
		Role:    storage.RoleAdministrator,
		Address: address,
	})
}

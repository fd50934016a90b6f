/**
 * @description
 * Entry point for the ledger worker: one partition-owning node of the sharded
 * account ledger. Initializes configuration, logging and the file-backed
 * stores, seeds a demo partition on first start, and serves the worker API
 * until SIGINT/SIGTERM.
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/api"
	"github.com/shardbank/ledger-worker/internal/app"
	"github.com/shardbank/ledger-worker/internal/config"
	"github.com/shardbank/ledger-worker/internal/domain"
	"github.com/shardbank/ledger-worker/internal/store"
)

func main() {
	// .env is optional; the process environment is the source of truth.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("data directory unavailable", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	ledger := store.NewLedgerStore(cfg.AccountsPath(), logger)
	if cfg.SeedDemoData {
		if err := ledger.Seed(demoAccounts()); err != nil {
			logger.Fatal("seeding ledger failed", zap.Error(err))
		}
	}

	txlog, err := store.OpenTransactionLog(cfg.TransactionsPath(), logger)
	if err != nil {
		logger.Fatal("opening transaction log failed", zap.Error(err))
	}

	credits, err := store.OpenCreditRegistry(cfg.CreditRefsPath(), logger)
	if err != nil {
		logger.Fatal("opening credit registry failed", zap.Error(err))
	}

	service := app.NewService(ledger, txlog, credits, logger)
	handlers := api.NewHandlers(service, cfg.WorkerID, logger)
	router := api.NewRouter(handlers, logger)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("worker listening",
			zap.String("addr", server.Addr),
			zap.String("worker_id", cfg.WorkerID),
			zap.String("ledger", cfg.AccountsPath()),
			zap.String("transaction_log", cfg.TransactionsPath()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// demoAccounts are the records seeded on a fresh partition, matching what
// provisioning hands a worker in the reference deployment.
func demoAccounts() []domain.Account {
	return []domain.Account{
		{AccountID: "1", OwnerID: "1", Balance: decimal.RequireFromString("1500.00"), AccountType: "Ahorros"},
		{AccountID: "2", OwnerID: "2", Balance: decimal.RequireFromString("3200.50"), AccountType: "Corriente"},
		{AccountID: "3", OwnerID: "1", Balance: decimal.RequireFromString("100.00"), AccountType: "Ahorros"},
	}
}

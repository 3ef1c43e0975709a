// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arturshev/solana-volume-bot/internal/app"
	"github.com/arturshev/solana-volume-bot/internal/chain"
	"github.com/arturshev/solana-volume-bot/internal/config"
	"github.com/arturshev/solana-volume-bot/internal/events"
	"github.com/arturshev/solana-volume-bot/internal/ledger"
	"github.com/arturshev/solana-volume-bot/internal/logger"
	"github.com/arturshev/solana-volume-bot/internal/market"
	"github.com/arturshev/solana-volume-bot/internal/server"
	"github.com/arturshev/solana-volume-bot/internal/session"
	"github.com/arturshev/solana-volume-bot/internal/storage/badgerstore"
	"github.com/arturshev/solana-volume-bot/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting volume bot",
		zap.String("config", *configPath),
		zap.String("data_dir", cfg.DataDir))

	allowlist, err := config.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		log.Fatal("Failed to load allowlist", zap.Error(err))
	}

	store, err := badgerstore.New(cfg.DataDir, log.Logger)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}

	chainClient, err := chain.NewRPCClient(cfg.RPCURLs, log.Logger)
	if err != nil {
		log.Fatal("Failed to build RPC client", zap.Error(err))
	}

	provider := market.NewHTTPProvider(cfg.SwapAPIURL, cfg.CallTimeout(), log.Logger)
	wallets := wallet.NewManager(nil, log.Logger)
	splits := ledger.New(store, cfg.FeeAddress,
		decimal.NewFromFloat(cfg.MinDepositSol),
		decimal.NewFromFloat(cfg.PrivilegedMinDepositSol),
		allowlist, log.Logger)
	bus := events.NewBus(log.Logger, 256)
	events.RegisterAuditLog(bus, log.Logger)

	orch := session.NewOrchestrator(cfg, store, wallets, splits,
		chainClient, provider, provider, bus, log.Logger)
	if err := orch.Start(context.Background()); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	srv := server.New(cfg.MetricsAddr, orch, log.Logger)

	// Closed in reverse order: HTTP first so no new work arrives while the
	// loops drain, store last.
	shutdown := app.NewShutdownHandler(log.Logger, 45*time.Second)
	shutdown.Add("store", store)
	shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bus.Shutdown(ctx)
	})
	shutdown.AddFunc("orchestrator", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return orch.Shutdown(ctx)
	})
	shutdown.AddFunc("http_server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		shutdown.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

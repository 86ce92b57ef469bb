package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dou-wallet/dou-gateway/internal/api"
	"github.com/dou-wallet/dou-gateway/internal/app"
	"github.com/dou-wallet/dou-gateway/internal/config"
	"github.com/dou-wallet/dou-gateway/internal/custody"
	"github.com/dou-wallet/dou-gateway/internal/eth"
	"github.com/dou-wallet/dou-gateway/internal/keyprotect"
	"github.com/dou-wallet/dou-gateway/internal/logger"
	"github.com/dou-wallet/dou-gateway/internal/middleware"
	"github.com/dou-wallet/dou-gateway/internal/sms"
	"github.com/dou-wallet/dou-gateway/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Initialize key protection backend
	protector, err := keyprotect.New(&keyprotect.Config{
		Provider:          cfg.KeyProtectProvider,
		LocalMasterKeyHex: cfg.LocalMasterKeyHex,
		MasterKeyShares:   cfg.MasterKeyShares,
		AWSKMSKeyID:       cfg.AWSKMSKeyID,
		AWSKMSRegion:      cfg.AWSKMSRegion,
		VaultAddress:      cfg.VaultAddress,
		VaultToken:        cfg.VaultToken,
		VaultTransitKey:   cfg.VaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize key protection", "error", err)
		os.Exit(1)
	}
	slog.Info("initialized key protection", "provider", cfg.KeyProtectProvider)

	// Connect to the chain
	chain, err := eth.NewClient(cfg.RPCURL)
	if err != nil {
		slog.Error("failed to connect to chain RPC", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := storage.NewUserRepository(store)
	addressRepo := storage.NewAddressRepository(store)
	applicationRepo := storage.NewApplicationRepository(store)
	signRepo := storage.NewSignRepository(store)
	transactionRepo := storage.NewTransactionRepository(store)
	contractRepo := storage.NewContractRepository(store)

	custodyStore := custody.NewStore(addressRepo, protector)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.JWTTTL)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)

	// Application services
	smsManager := sms.NewManager(sms.NewLogSender(slog.Default()), cfg.SMSCodeTTL)
	signService := app.NewSignService(store, applicationRepo, userRepo, custodyStore, signRepo, slog.Default())
	txService := app.NewTxService(chain, transactionRepo, cfg.TxConfirmTimeout, slog.Default())
	userService := app.NewUserService(store, userRepo, custodyStore, smsManager, authMiddleware, chain, transactionRepo, slog.Default())

	// API server
	server := api.NewServer(
		cfg,
		userService,
		signService,
		txService,
		custodyStore,
		applicationRepo,
		contractRepo,
		authMiddleware,
		rateLimiter,
		slog.Default(),
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

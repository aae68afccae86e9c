package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"alpha-trade-engine/config"
	"alpha-trade-engine/internal/agent"
	"alpha-trade-engine/internal/aggregator"
	"alpha-trade-engine/internal/api"
	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/datasync"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/executor"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/monitor"
	"alpha-trade-engine/internal/notification"
	"alpha-trade-engine/internal/risk"
	"alpha-trade-engine/internal/scheduler"
	"alpha-trade-engine/internal/scoring"
	"alpha-trade-engine/internal/secrets"
)

// tickerStreamURL is the Binance combined-stream endpoint the price cache
// warmer subscribes to. Only used when redis caching is on.
const tickerStreamURL = "wss://stream.binance.com:9443/ws"

func main() {
	// .env is optional; deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootstrapLogger := zerolog.New(os.Stderr)
		bootstrapLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := buildLogger(cfg.LoggingConfig)
	logger.Info().Msg("Starting alpha trade engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Migrations failed")
	}
	repo := database.NewRepository(db)

	// Service credentials come from Vault when it is reachable and fall
	// back to the environment otherwise.
	secretStore, err := secrets.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("Vault unavailable, using environment credentials")
		secretStore = secrets.NewDisabledClient()
	}
	privyAppSecret := secretStore.GetOrDefault(ctx, secrets.KeyPrivyAppSecret, cfg.PrivyConfig.AppSecret)
	aggregatorKey := secretStore.GetOrDefault(ctx, secrets.KeyAggregatorAPIKey, cfg.AggregatorConfig.APIKey)
	alphaAPISecret := secretStore.GetOrDefault(ctx, secrets.KeyAlphaAPISecret, cfg.MarketDataConfig.AlphaAPISecret)
	telegramToken := secretStore.GetOrDefault(ctx, secrets.KeyTelegramBotToken, cfg.NotificationConfig.Telegram.BotToken)

	registry := chain.NewRegistry(cfg.ChainConfig.BSCRPCURL, cfg.ChainConfig.BaseRPCURL)
	privy := chain.NewPrivyClient(cfg.PrivyConfig.AppID, privyAppSecret, cfg.PrivyConfig.BaseURL, cfg.PrivyConfig.Timeout, logger)
	gateway := chain.NewGateway(registry, privy, logger)
	defer gateway.Close()

	router := aggregator.NewClient(cfg.AggregatorConfig.BaseURL, aggregatorKey, cfg.AggregatorConfig.Timeout, logger)

	var provider marketdata.Provider
	if cfg.MarketDataConfig.MockMode {
		provider = marketdata.NewMockProvider()
		logger.Warn().Msg("Market data mock mode enabled, prices are simulated")
	} else {
		var cache *marketdata.PriceCache
		if cfg.RedisConfig.Enabled {
			cache, err = marketdata.NewPriceCache(cfg.RedisConfig, cfg.MarketDataConfig.PriceCacheTTL, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("Price cache unavailable, running REST-only")
				cache = nil
			}
		}
		alphaClient := marketdata.NewAlphaClient(cfg.MarketDataConfig.AlphaAPIKey, alphaAPISecret, cfg.MarketDataConfig.AlphaBaseURL)
		dexClient := marketdata.NewDexScreenerClient(cfg.MarketDataConfig.DexScreenerBaseURL)
		provider = marketdata.NewService(alphaClient, dexClient, cache, logger)

		if cache != nil {
			stream := marketdata.NewTickerStream(tickerStreamURL, cache, logger)
			stream.Start()
			defer stream.Stop()
		}
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	notifier := notification.NewManager(logger, cfg.NotificationConfig.Enabled)
	telegramCfg := cfg.NotificationConfig.Telegram
	telegramCfg.BotToken = telegramToken
	if telegram, err := notification.NewTelegramNotifier(telegramCfg, logger); err != nil {
		logger.Error().Err(err).Msg("Telegram notifier misconfigured, continuing without it")
	} else {
		notifier.AddNotifier(telegram)
	}
	notifier.AttachBus(bus)
	defer notifier.Detach()

	loader := scoring.NewLoader(repo, logger)

	riskCtl := risk.NewController(repo, provider, bus, logger)

	exec := executor.New(repo, gateway, router, provider, registry, bus, logger)
	if cfg.AgentConfig.DryRun {
		exec.SetDryRun(true)
		logger.Warn().Msg("Dry run enabled, entries stop at the quote")
	}

	priceWatcher := monitor.NewPriceWatcher(repo, provider, exec, bus, logger)
	exitMonitor := monitor.NewExitMonitor(repo, provider, router, gateway, registry, bus, cfg.ChainConfig.ReceiptTimeout, logger)
	txMonitor := monitor.NewTxMonitor(repo, gateway, registry, bus, logger)

	syncSvc := datasync.NewService(repo, gateway, registry, provider, exitMonitor, exitMonitor, bus, logger)
	txMonitor.SetProjector(syncSvc)
	exitMonitor.SetProjector(syncSvc)

	engine := agent.New(agent.Deps{
		Store:             repo,
		Risk:              riskCtl,
		Entries:           priceWatcher,
		Exits:             exitMonitor,
		TxSweep:           txMonitor,
		Sync:              syncSvc,
		Tokens:            provider,
		Weights:           loader,
		Scheduler:         scheduler.New(logger),
		Bus:               bus,
		VerifyTables:      db.VerifyTables,
		DefaultStrategyID: cfg.AgentConfig.DefaultStrategyID,
		Logger:            logger,
	})
	if err := engine.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Engine initialization failed")
	}

	opsServer := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.LoggingConfig.JSONFormat,
	}, engine, repo, loader, risk.NewCreditService(repo, logger), bus, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- opsServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Ops server exited")
		}
	}

	// Stop taking new work before draining the HTTP side
	engine.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ops server shutdown failed")
	}
	logger.Info().Msg("Engine stopped")
}

// buildLogger derives the root logger from config: JSON in production,
// console writer for local development.
func buildLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	if cfg.JSONFormat {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

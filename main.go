package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-trading-agent/config"
	"futures-trading-agent/internal/advisory"
	"futures-trading-agent/internal/ai/llm"
	"futures-trading-agent/internal/api"
	"futures-trading-agent/internal/auth"
	"futures-trading-agent/internal/binance"
	"futures-trading-agent/internal/cache"
	"futures-trading-agent/internal/circuit"
	"futures-trading-agent/internal/control"
	"futures-trading-agent/internal/database"
	"futures-trading-agent/internal/events"
	"futures-trading-agent/internal/exchange"
	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/notification"
	"futures-trading-agent/internal/portfolio"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/presentation"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/scheduler"
	"futures-trading-agent/internal/strategy"
	"futures-trading-agent/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Agent stopped with error")
	}
	logger.Info("Agent stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting futures trading agent",
		"run_mode", cfg.Trading.RunMode,
		"symbols", cfg.Trading.Symbols,
		"interval", cfg.Trading.CycleInterval().String())

	health := make(map[string]api.HealthChecker)

	// Credentials from Vault fill anything the environment left empty
	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		creds, err := vc.LoadCredentials(ctx)
		switch {
		case err == nil:
			creds.ApplyTo(cfg)
			logger.Info("Credentials loaded from Vault")
		case errors.Is(err, vault.ErrNotFound):
			logger.Warn("No credentials stored in Vault, using environment")
		default:
			return fmt.Errorf("vault: %w", err)
		}
		health["vault"] = vc.Health
	}
	if cfg.Trading.RunMode != config.RunModePaper && (cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "") {
		return fmt.Errorf("%w: exchange credentials are required in %s mode", config.ErrInvalid, cfg.Trading.RunMode)
	}
	if cfg.Advisory.Enabled && cfg.Advisory.APIKey == "" {
		return fmt.Errorf("%w: advisory API key not found in environment or Vault", config.ErrInvalid)
	}

	bus := events.NewEventBus()

	if cfg.Notification.Enabled {
		alerts := notification.NewManager(cfg.Notification.RatePerMinute, logger)
		if tg := notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.Notification.TelegramBotToken,
			ChatID:   cfg.Notification.TelegramChatID,
		}); tg != nil {
			alerts.AddNotifier(tg)
		}
		if dc := notification.NewDiscordNotifier(cfg.Notification.DiscordWebhookURL); dc != nil {
			alerts.AddNotifier(dc)
		}
		if alerts.Len() == 0 {
			logger.Warn("Notifications enabled but no channel is configured")
		} else {
			alerts.Attach(bus)
			go alerts.Run(ctx)
			logger.Info("Operator alerts enabled", "channels", alerts.Len())
		}
	}

	var redisSvc *cache.CacheService
	if cfg.Redis.Enabled {
		var err error
		redisSvc, err = cache.NewCacheService(cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisSvc.Close()
		health["redis"] = redisSvc.Ping
	}

	var db *database.DB
	if cfg.Database.Enabled {
		var err error
		db, err = database.NewDB(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		}, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("database migrations: %w", err)
		}
		health["database"] = db.HealthCheck
	}

	// Position state survives restarts through Redis first, Postgres second
	var store position.Store
	switch {
	case redisSvc != nil:
		store = position.NewRedisStore(redisSvc, logger)
	case db != nil:
		store = database.NewPositionRepository(db)
	default:
		store = position.NewMemoryStore()
		logger.Warn("No persistent store configured, positions will not survive a restart")
	}

	// Market data always comes from the venue; orders go to the venue or the paper book
	client := binance.NewClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Trading.RunMode == config.RunModeTestnet, logger)
	client.SyncTime(ctx)
	provider := market.NewCachingProvider(market.NewFeed(client, cfg.Exchange.KlineLimit, logger), logger)

	var futuresAPI binance.FuturesAPI = client
	equity := cfg.Trading.StartingEquity
	if cfg.Trading.RunMode == config.RunModePaper {
		futuresAPI = binance.NewPaperClient(func(symbol string) (float64, error) {
			if p, ok := provider.LastPrice(symbol); ok {
				return p, nil
			}
			return 0, fmt.Errorf("no price observed for %s", symbol)
		}, cfg.Exchange.PaperSlippageBps)
		logger.Info("Paper trading enabled", "starting_equity", equity)
	} else {
		wallet, available, err := client.USDTBalance(ctx)
		if err != nil {
			return fmt.Errorf("fetch account balance: %w", err)
		}
		equity = wallet
		logger.Info("Account balance loaded", "wallet", wallet, "available", available)
	}

	positions := position.NewManager(equity, store, logger)
	restored, err := positions.Restore(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to restore positions")
	} else if restored > 0 {
		logger.Info("Positions restored", "count", restored)
	}

	riskGate := risk.NewGate(risk.Config{
		MaxEquityUsagePct: cfg.Risk.MaxEquityUsagePct,
		MaxLeverage:       cfg.Risk.MaxLeverage,
		DailyLossCapPct:   cfg.Risk.DailyLossCapPct,
		Cooldown:          time.Duration(cfg.Risk.CooldownSeconds) * time.Second,
	}, logger)

	var breaker *circuit.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuit.NewBreaker(circuit.Config{
			Enabled:              true,
			MaxConsecutiveLosses: cfg.CircuitBreaker.MaxConsecutiveLosses,
			MaxDailyLossPct:      cfg.CircuitBreaker.MaxDailyLossPct,
			CooldownMinutes:      cfg.CircuitBreaker.CooldownMinutes,
		}, bus)
	}

	allocator := portfolio.NewAllocator(portfolio.Config{
		MaxEquityUsagePct: cfg.Risk.MaxEquityUsagePct,
		SwingTargetPct:    cfg.Allocation.SwingTargetPct,
		ScalpTargetPct:    cfg.Allocation.ScalpTargetPct,
		MinAllocationUSD:  cfg.Allocation.MinAllocationUSD,
	}, positions)

	var reviewer, holds advisory.Reviewer
	if cfg.Advisory.Enabled {
		completer := llm.NewClient(&llm.ClientConfig{
			Provider:    llm.Provider(cfg.Advisory.Provider),
			APIKey:      cfg.Advisory.APIKey,
			Model:       cfg.Advisory.Model,
			BaseURL:     cfg.Advisory.BaseURL,
			MaxTokens:   300,
			Temperature: 0.2,
		})
		filter := advisory.NewFilter(completer, advisory.Config{
			BaseTimeout:   time.Duration(cfg.Advisory.BaseTimeoutSecs) * time.Second,
			TimeoutStep:   time.Duration(cfg.Advisory.TimeoutStepSecs) * time.Second,
			MaxRetries:    cfg.Advisory.MaxRetries,
			RatePerMinute: cfg.Advisory.RatePerMinute,
		}, advisory.NewCache(time.Duration(cfg.Advisory.CacheTTLSecs)*time.Second, cfg.Advisory.CachePriceTolerance), logger)
		reviewer = filter
		if cfg.Advisory.ReviewHolds {
			holds = advisory.NewBatcher(filter, time.Duration(cfg.Advisory.BatchWindowMs)*time.Millisecond, cfg.Advisory.BatchMaxSize, logger)
		}
		logger.Info("Advisory filter enabled", "provider", cfg.Advisory.Provider, "model", cfg.Advisory.Model)
	}

	view := presentation.NewStore(cfg.Risk.HistoryNoiseFloor, 0, 0, logger)

	sinks := []scheduler.TradeSink{view}
	var history api.TradeHistory
	if db != nil {
		trades := database.NewTradeRepository(db)
		sinks = append(sinks, trades)
		history = trades
	}

	processor := scheduler.NewProcessor(scheduler.ProcessorConfig{
		Symbols:           cfg.Trading.Symbols,
		MaxEquityUsagePct: cfg.Risk.MaxEquityUsagePct,
		MaxLeverage:       cfg.Risk.MaxLeverage,
		ReviewHolds:       cfg.Advisory.ReviewHolds,
		ScalpAutoFlip:     cfg.Trading.ScalpAutoFlip,
		SkipUnchangedLLM:  cfg.Trading.SkipUnchangedLLM,
	}, scheduler.Deps{
		Swing:     strategy.NewSwing(cfg.Risk.MaxEquityUsagePct, logger),
		Scalp:     strategy.NewScalp(cfg.Risk.MaxEquityUsagePct, time.Duration(cfg.Risk.ScalpMinHoldSecs)*time.Second, logger),
		Advisory:  reviewer,
		Holds:     holds,
		Risk:      riskGate,
		Allocator: allocator,
		Gateway: exchange.NewFuturesGateway(futuresAPI, exchange.Config{
			PollAttempts: cfg.Exchange.FillPollAttempts,
			PollInterval: time.Duration(cfg.Exchange.FillPollIntervalMs) * time.Millisecond,
		}, logger),
		Positions: positions,
		Breaker:   breaker,
		Bus:       bus,
		Notifier:  view,
		Sinks:     sinks,
		Logger:    logger,
	})

	var flags control.Source = control.NewFileFlags(cfg.Flags.PauseFile, cfg.Flags.EmergencyFile)
	if redisSvc != nil {
		flags = control.NewComposite(flags, control.NewRedisFlags(redisSvc))
	}

	sched := scheduler.New(scheduler.Config{
		Symbols:    cfg.Trading.Symbols,
		Interval:   cfg.Trading.CycleInterval(),
		MaxWorkers: cfg.Trading.MaxWorkers,
	}, provider, processor, flags, view, breaker, bus, logger)
	if db != nil {
		sched.AddCycleSink(database.NewCycleLogRepository(db))
	}

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		var authSvc *auth.Service
		if cfg.Auth.Enabled {
			authSvc = auth.NewService(auth.Config{
				JWTSecret:           cfg.Auth.JWTSecret,
				AccessTokenDuration: cfg.Auth.AccessTokenDuration,
				OperatorUser:        cfg.Auth.OperatorUser,
				OperatorPassword:    cfg.Auth.OperatorPassword,
			}, logger)
		}
		server = api.NewServer(api.ServerConfig{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ProductionMode: cfg.Trading.RunMode == config.RunModeLive,
			AllowedOrigins: api.ParseOrigins(cfg.Server.AllowedOrigins),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}, api.Deps{
			View:      view,
			Scheduler: sched,
			Flags:     flags,
			Breaker:   breaker,
			Risk:      riskGate,
			History:   history,
			Bus:       bus,
			Auth:      authSvc,
			Health:    health,
			Logger:    logger,
		})
		go func() {
			serverErr <- server.Start()
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("Agent running")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("API server failed")
		}
	}

	if err := sched.Stop(); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
	}
	return nil
}

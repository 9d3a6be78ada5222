package main

import (
	"context"
	"log" // Use standard log only for fatal errors before the logger is set up

	"scalpbot/config"
	"scalpbot/internal/adapters/binanceclient"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/adapters/telegram"
	"scalpbot/internal/app"
	"scalpbot/internal/ports"
	"scalpbot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Exchange Client (Binance Adapter)
	exchangeClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 4. Initialize Notifier (Telegram when configured, log-only otherwise)
	var notifier ports.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err = telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		appLogger.Info(context.Background(), "Telegram notifier initialized")
	} else {
		notifier = &telegram.LogNotifier{Logger: appLogger}
		appLogger.Warn(context.Background(), "Telegram credentials not configured, notifications go to the log")
	}

	// 5. Initialize Signal Engine
	signals, err := strategy.NewCrossover(strategy.Config{
		FastLength: cfg.FastSMA,
		SlowLength: cfg.SlowSMA,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal engine")
		log.Fatalf("FATAL: Failed to initialize signal engine: %v", err)
	}
	appLogger.Info(context.Background(), "Signal engine initialized", map[string]interface{}{
		"fastSMA": cfg.FastSMA, "slowSMA": cfg.SlowSMA,
	})

	// 6. Initialize and start the Orchestrator
	service, err := app.NewService(cfg, appLogger, exchangeClient, notifier, signals)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Orchestrator exited with error")
		log.Fatalf("FATAL: Orchestrator exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pugmate/pugmate/server"
	"github.com/pugmate/pugmate/service"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Failed to load configuration", zap.String("path", *configPath), zap.Error(err))
	}

	logger := server.NewLogger(config.Logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var storage server.Storage
	if config.Database.Address != "" {
		pg, err := server.NewPostgresStorage(ctx, config.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to the database", zap.Error(err))
		}
		defer pg.Close()
		storage = pg
	} else {
		logger.Warn("No database configured, state will not survive a restart")
		storage = server.NewMemoryStorage()
	}

	var messenger server.Messenger = server.NopMessenger{}
	var identity server.IdentityProvider = server.NopIdentity{}
	var bot *service.DiscordBot
	if config.Discord.Token != "" {
		bot, err = service.NewDiscordBot(config, logger)
		if err != nil {
			logger.Fatal("Failed to create the chat adapter", zap.Error(err))
		}
		messenger, identity = bot, bot
	}

	core, err := server.NewCore(ctx, logger, config, storage, messenger, identity)
	if err != nil {
		logger.Fatal("Failed to initialize the core", zap.Error(err))
	}

	if bot != nil {
		bot.SetCore(core)
		if err := bot.Start(ctx); err != nil {
			logger.Fatal("Failed to start the chat adapter", zap.Error(err))
		}
	}

	server.NewDriver(core, logger).Run(ctx)
	logger.Info("Shutdown complete")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forumbridge/chatbridge/internal/config"
	"github.com/forumbridge/chatbridge/internal/engine"
	"github.com/forumbridge/chatbridge/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	serverAddr := flag.String("addr", "", "Admin HTTP server address")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, *serverAddr, *logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	loggingConfig := logging.DefaultConfig()
	loggingConfig.Level = logging.LogLevel(cfg.Logging.Level)
	loggingConfig.Format = logging.LogFormat(cfg.Logging.Format)
	loggingConfig.IncludeCaller = cfg.Logging.IncludeCaller
	loggingConfig.GlobalFields = cfg.Logging.GlobalFields
	if err := logging.Setup(loggingConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Engine exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}
}

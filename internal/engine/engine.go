package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/forumbridge/chatbridge/internal/api"
	"github.com/forumbridge/chatbridge/internal/bayeux"
	"github.com/forumbridge/chatbridge/internal/bot"
	"github.com/forumbridge/chatbridge/internal/bridge"
	"github.com/forumbridge/chatbridge/internal/config"
	"github.com/forumbridge/chatbridge/internal/directory"
	"github.com/forumbridge/chatbridge/internal/forum"
	"github.com/forumbridge/chatbridge/internal/gitter"
	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
	"github.com/forumbridge/chatbridge/internal/store"
	"github.com/forumbridge/chatbridge/internal/telemetry"
)

// Engine wires the store, chat clients, command bot, stream bridge and
// admin API together and manages their lifecycle.
type Engine struct {
	config      *config.Config
	store       *store.Store
	bridge      *bridge.Bridge
	api         *api.API
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	telemetryFn func(context.Context) error
}

// CreateEngine builds all components from the configuration.
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ruleStore, err := store.New(store.Config{DataDir: cfg.Store.DataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	chat := gitter.NewClient(gitter.Config{
		APIBaseURL: cfg.Gitter.APIBaseURL,
		Token:      cfg.Gitter.Token,
		Timeout:    time.Duration(cfg.Gitter.RequestTimeoutSeconds) * time.Second,
	})

	rooms := directory.New(chat)

	forumClient, err := forum.NewClient(forum.Config{
		BaseURL:     cfg.Forum.BaseURL,
		APIKey:      cfg.Forum.APIKey,
		APIUsername: cfg.Forum.APIUsername,
		CacheSize:   cfg.Forum.CacheSize,
		Timeout:     time.Duration(cfg.Forum.RequestTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize forum client: %w", err)
	}

	commandBot := bot.NewHandler(bot.Config{
		CommandPrefix:  cfg.Bot.CommandPrefix,
		PermittedUsers: cfg.Bot.PermittedUserList(),
	}, ruleStore, forumClient, chat)

	streamBridge := bridge.New(bridge.Config{
		Enabled: cfg.Bot.Enabled,
		Token:   cfg.Gitter.Token,
		Stream: bayeux.Config{
			URL:              cfg.Gitter.StreamURL,
			HandshakeTimeout: time.Duration(cfg.Stream.HandshakeTimeoutSeconds) * time.Second,
			RetryInterval:    time.Duration(cfg.Stream.RetryIntervalSeconds) * time.Second,
			MaxRetries:       cfg.Stream.MaxRetries,
		},
	}, ruleStore, rooms, commandBot)

	adminAPI := api.New(api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeout) * time.Second,
		TokenConfigured: cfg.Gitter.Token != "",
		MetricsEnabled:  cfg.Metrics.Enabled,
	}, ruleStore, streamBridge, chat)

	return &Engine{
		config:  cfg,
		store:   ruleStore,
		bridge:  streamBridge,
		api:     adminAPI,
		logger:  logging.Component("engine"),
		metrics: metrics.GetMetrics(),
	}, nil
}

// Start runs all components until the context is canceled.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Msg("Starting chatbridge engine")

	telConfig := telemetry.DefaultConfig()
	telConfig.Enabled = e.config.Telemetry.Enabled
	telConfig.ServiceName = e.config.Telemetry.ServiceName
	telConfig.Endpoint = e.config.Telemetry.Endpoint
	telConfig.SamplingRatio = e.config.Telemetry.SamplingRatio

	telShutdown, err := telemetry.Setup(ctx, telConfig)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	// The bridge manages its own stream goroutine; stop it when the
	// engine context ends.
	g.Go(func() error {
		e.bridge.Start()
		<-ctx.Done()
		e.bridge.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Engine shut down successfully")
	return nil
}

// Shutdown stops all components in dependency order.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down chatbridge engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	e.bridge.Stop()

	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close store")
		return err
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}

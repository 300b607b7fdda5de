package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/bayeux"
	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
)

// streamClient is the slice of the streaming client the bridge drives.
type streamClient interface {
	Run(ctx context.Context) error
	Subscribe(channel string, handler bayeux.Handler)
	Unsubscribe(channel string)
}

// MessageHandler consumes inbound chat events on the reactor goroutine.
type MessageHandler interface {
	HandleMessage(ctx context.Context, event domain.ChatEvent)
}

// Config contains bridge settings
type Config struct {
	// Administrative enable flag
	Enabled bool

	// Bearer credential for the streaming handshake
	Token string

	// Streaming connection policy
	Stream bayeux.Config
}

// Bridge owns the long-lived streaming connection and multiplexes one
// subscription per integrated room over it. Start, Stop and the per-room
// subscribe calls are safe to use from any goroutine; inbound messages
// are handled one at a time on the connection's reactor goroutine.
type Bridge struct {
	config    Config
	store     domain.IntegrationStore
	directory domain.RoomResolver
	handler   MessageHandler
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// newStream builds the streaming client; replaceable in tests.
	newStream func() streamClient

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	stream  streamClient
	rooms   map[string]string // room name -> subscription channel
}

// New creates a bridge
func New(config Config, store domain.IntegrationStore, directory domain.RoomResolver, handler MessageHandler) *Bridge {
	b := &Bridge{
		config:    config,
		store:     store,
		directory: directory,
		handler:   handler,
		logger:    logging.Component("bridge"),
		metrics:   metrics.GetMetrics(),
		rooms:     make(map[string]string),
	}
	b.newStream = func() streamClient {
		return bayeux.NewClient(config.Stream, &bayeux.TokenAuth{Token: config.Token})
	}
	return b
}

// Start brings the streaming connection up and subscribes every room that
// has an integration. It is a no-op when already running, administratively
// disabled, or missing the bearer credential.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	if !b.config.Enabled {
		b.logger.Debug().Msg("Bridge disabled, not starting")
		return
	}
	if b.config.Token == "" {
		b.logger.Warn().Msg("No bearer credential configured, not starting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.runCtx = ctx
	b.cancel = cancel
	b.stream = b.newStream()
	b.rooms = make(map[string]string)

	integrations, err := b.store.ListIntegrations()
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to list integrations")
	}
	for _, integration := range integrations {
		b.subscribeLocked(integration.RoomName)
	}

	stream := b.stream
	go func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error().Err(err).Msg("Streaming connection ended")
			b.streamExited(ctx)
		}
	}()

	b.running = true
	b.logger.Info().Int("rooms", len(b.rooms)).Msg("Bridge started")
}

// SetEnabled flips the administrative enable flag. It does not start or
// stop the connection by itself; callers pair it with Start or Stop.
func (b *Bridge) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Enabled = enabled
}

// streamExited clears the running state after the connection goroutine
// gives up for good. The context identifies the session, so a stale
// goroutine cannot tear down a newer one.
func (b *Bridge) streamExited(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running || b.runCtx != ctx {
		return
	}

	b.cancel()
	b.runCtx = nil
	b.cancel = nil
	b.stream = nil
	b.rooms = make(map[string]string)
	b.metrics.SubscriptionsActive.Set(0)
	b.running = false
	b.logger.Warn().Msg("Bridge stopped after connection failure")
}

// Stop tears the connection down. Idempotent; safe when not running.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.cancel()
	b.runCtx = nil
	b.cancel = nil
	b.stream = nil
	b.rooms = make(map[string]string)
	b.metrics.SubscriptionsActive.Set(0)
	b.running = false
	b.logger.Info().Msg("Bridge stopped")
}

// Running reports whether the bridge currently holds a connection.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// SubscribeRoom adds a single room's subscription at runtime, without
// disturbing the others. A room whose id cannot be resolved is skipped.
func (b *Bridge) SubscribeRoom(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	if _, exists := b.rooms[name]; exists {
		return
	}
	b.subscribeLocked(name)
}

// UnsubscribeRoom drops a single room's subscription at runtime.
func (b *Bridge) UnsubscribeRoom(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	channel, ok := b.rooms[name]
	if !ok {
		return
	}
	b.stream.Unsubscribe(channel)
	delete(b.rooms, name)
	b.metrics.SubscriptionsActive.Set(float64(len(b.rooms)))
	b.logger.Info().Str("room", name).Msg("Room unsubscribed")
}

// subscribeLocked resolves a room and registers its message channel.
// Callers hold b.mu.
func (b *Bridge) subscribeLocked(name string) {
	id, ok := b.directory.Resolve(b.runCtx, name)
	if !ok {
		// Non-fatal: the room is skipped until the next subscribe attempt.
		b.logger.Warn().Str("room", name).Msg("Cannot resolve room id, skipping subscription")
		return
	}

	channel := fmt.Sprintf("/api/v1/rooms/%s/chatMessages", id)
	b.rooms[name] = channel
	b.stream.Subscribe(channel, b.roomHandler(b.runCtx, name, id))
	b.metrics.SubscriptionsActive.Set(float64(len(b.rooms)))
	b.logger.Info().Str("room", name).Str("room_id", id).Msg("Room subscribed")
}

// chatPayload is the inbound message shape on a room's message channel.
type chatPayload struct {
	Model struct {
		Text     string `json:"text"`
		FromUser struct {
			Username string `json:"username"`
		} `json:"fromUser"`
	} `json:"model"`
}

// roomHandler adapts one room's stream messages into chat events.
func (b *Bridge) roomHandler(ctx context.Context, room, roomID string) bayeux.Handler {
	return func(data json.RawMessage) {
		var payload chatPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			b.logger.Warn().Err(err).Str("room", room).Msg("Dropping unparsable chat message")
			return
		}

		b.handler.HandleMessage(ctx, domain.ChatEvent{
			Room:     room,
			RoomID:   roomID,
			Text:     payload.Model.Text,
			FromUser: payload.Model.FromUser.Username,
		})
	}
}

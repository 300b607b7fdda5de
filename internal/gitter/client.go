package gitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
)

// Ensure Client implements the outbound messenger boundary
var _ domain.Messenger = (*Client)(nil)

// Config contains chat service REST client settings
type Config struct {
	// Base URL for REST calls
	APIBaseURL string

	// Bearer credential for the bot user
	Token string

	// Per-request timeout
	Timeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		APIBaseURL: "https://api.gitter.im",
		Timeout:    10 * time.Second,
	}
}

// Room is one chat room visible to the bot's credential.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the chat service's REST endpoints.
type Client struct {
	config  Config
	http    *http.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new REST client
func NewClient(config Config) *Client {
	if config.APIBaseURL == "" {
		config.APIBaseURL = DefaultConfig().APIBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		logger:  logging.Component("gitter"),
		metrics: metrics.GetMetrics(),
	}
}

// ListRooms returns every room visible to the bot's credential.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	url := c.config.APIBaseURL + "/v1/rooms"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rooms request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rooms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rooms request returned status %d", resp.StatusCode)
	}

	var rooms []Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("failed to decode rooms response: %w", err)
	}

	return rooms, nil
}

// Send posts one plain-text message into a room. It reports true only on a
// 200 response; failures are logged and not retried.
func (c *Client) Send(ctx context.Context, roomID, text string) bool {
	url := fmt.Sprintf("%s/v1/rooms/%s/chatMessages", c.config.APIBaseURL, roomID)

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal chat message")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build chat message request")
		return false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Chat message send failed")
		c.metrics.MessagesSentTotal.WithLabelValues("error").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("room_id", roomID).
			Msg("Chat message rejected")
		c.metrics.MessagesSentTotal.WithLabelValues("rejected").Inc()
		return false
	}

	c.metrics.MessagesSentTotal.WithLabelValues("ok").Inc()
	return true
}

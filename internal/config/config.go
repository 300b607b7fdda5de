package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Gitter    GitterConfig    `yaml:"gitter"`
	Forum     ForumConfig     `yaml:"forum"`
	Bot       BotConfig       `yaml:"bot"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains admin HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// StoreConfig contains rule store settings
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// GitterConfig contains chat service credentials and endpoints
type GitterConfig struct {
	APIBaseURL            string `yaml:"api_base_url"`
	StreamURL             string `yaml:"stream_url"`
	Token                 string `yaml:"token"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// ForumConfig contains forum API settings for category and tag lookups
type ForumConfig struct {
	BaseURL               string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
	APIUsername           string `yaml:"api_username"`
	CacheSize             int    `yaml:"cache_size"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// BotConfig contains in-chat command bot settings
type BotConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CommandPrefix  string `yaml:"command_prefix"`
	PermittedUsers string `yaml:"permitted_users"`
}

// StreamConfig contains streaming connection policy knobs
type StreamConfig struct {
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	RetryIntervalSeconds    int `yaml:"retry_interval_seconds"`
	MaxRetries              int `yaml:"max_retries"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Store: StoreConfig{
			DataDir: "./data",
		},
		Gitter: GitterConfig{
			APIBaseURL:            "https://api.gitter.im",
			StreamURL:             "wss://ws.gitter.im/faye",
			RequestTimeoutSeconds: 10,
		},
		Forum: ForumConfig{
			BaseURL:               "http://localhost:3000",
			CacheSize:             512,
			RequestTimeoutSeconds: 10,
		},
		Bot: BotConfig{
			Enabled:       false,
			CommandPrefix: "/discourse",
		},
		Stream: StreamConfig{
			HandshakeTimeoutSeconds: 60,
			RetryIntervalSeconds:    1,
			MaxRetries:              5,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "chatbridge",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	// Command line flags take highest priority
	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}

	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("CHATBRIDGE_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if dataDir := os.Getenv("CHATBRIDGE_STORE_DATA_DIR"); dataDir != "" {
		config.Store.DataDir = dataDir
	}

	if token := os.Getenv("CHATBRIDGE_GITTER_TOKEN"); token != "" {
		config.Gitter.Token = token
	}
	if url := os.Getenv("CHATBRIDGE_GITTER_API_URL"); url != "" {
		config.Gitter.APIBaseURL = url
	}
	if url := os.Getenv("CHATBRIDGE_GITTER_STREAM_URL"); url != "" {
		config.Gitter.StreamURL = url
	}

	if url := os.Getenv("CHATBRIDGE_FORUM_URL"); url != "" {
		config.Forum.BaseURL = url
	}
	if key := os.Getenv("CHATBRIDGE_FORUM_API_KEY"); key != "" {
		config.Forum.APIKey = key
	}
	if user := os.Getenv("CHATBRIDGE_FORUM_API_USERNAME"); user != "" {
		config.Forum.APIUsername = user
	}

	if enabledStr := os.Getenv("CHATBRIDGE_BOT_ENABLED"); enabledStr != "" {
		if val, err := strconv.ParseBool(enabledStr); err == nil {
			config.Bot.Enabled = val
		}
	}
	if users := os.Getenv("CHATBRIDGE_BOT_USERS"); users != "" {
		config.Bot.PermittedUsers = users
	}

	if level := os.Getenv("CHATBRIDGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CHATBRIDGE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// PermittedUserList splits the comma-separated permitted-user setting into
// trimmed usernames, dropping empty entries.
func (c *BotConfig) PermittedUserList() []string {
	var users []string
	for _, u := range strings.Split(c.PermittedUsers, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

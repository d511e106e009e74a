// Package config loads triagedeck configuration from a JSON file or from
// TRIAGE_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level daemon configuration.
type Config struct {
	Backend BackendConfig `json:"backend"`
	Stream  StreamConfig  `json:"stream"`
	Poll    PollConfig    `json:"poll"`
	API     APIConfig     `json:"api"`
	Notify  NotifyConfig  `json:"notify"`
}

// BackendConfig locates the automation backend's REST surface.
type BackendConfig struct {
	BaseURL string `json:"base_url"`
}

// StreamConfig holds event stream connection settings.
type StreamConfig struct {
	URL               string `json:"url"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty"` // default 3
	MaxRetries        int    `json:"max_retries,omitempty"`         // default 10
}

// PollConfig holds ticket snapshot refresh settings.
type PollConfig struct {
	IntervalSeconds int `json:"interval_seconds,omitempty"` // default 5
}

// APIConfig holds the daemon's own HTTP server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"` // empty disables auth
}

// NotifyConfig holds optional outbound alert channels.
type NotifyConfig struct {
	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// SlackConfig configures the Slack alert channel.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from TRIAGE_-prefixed environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Backend: BackendConfig{
			BaseURL: getenv("TRIAGE_BACKEND_URL", "http://localhost:8000"),
		},
		Stream: StreamConfig{
			URL:               os.Getenv("TRIAGE_STREAM_URL"),
			RetryDelaySeconds: getenvInt("TRIAGE_STREAM_RETRY_DELAY", 0),
			MaxRetries:        getenvInt("TRIAGE_STREAM_MAX_RETRIES", 0),
		},
		Poll: PollConfig{
			IntervalSeconds: getenvInt("TRIAGE_POLL_INTERVAL", 0),
		},
		API: APIConfig{
			Host: getenv("TRIAGE_API_HOST", "0.0.0.0"),
			Port: getenvInt("TRIAGE_API_PORT", 8090),
			Key:  os.Getenv("TRIAGE_API_KEY"),
		},
	}

	if token := os.Getenv("TRIAGE_SLACK_TOKEN"); token != "" {
		cfg.Notify.Slack = &SlackConfig{
			Token:   token,
			Channel: os.Getenv("TRIAGE_SLACK_CHANNEL"),
		}
	}
	if token := os.Getenv("TRIAGE_TELEGRAM_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(os.Getenv("TRIAGE_TELEGRAM_CHAT_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TRIAGE_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.Telegram = &TelegramConfig{Token: token, ChatID: chatID}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Stream.URL == "" && c.Backend.BaseURL != "" {
		c.Stream.URL = deriveStreamURL(c.Backend.BaseURL)
	}
	if c.Stream.RetryDelaySeconds <= 0 {
		c.Stream.RetryDelaySeconds = 3
	}
	if c.Stream.MaxRetries <= 0 {
		c.Stream.MaxRetries = 10
	}
	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = 5
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
}

// deriveStreamURL maps the backend's HTTP base to its websocket endpoint.
func deriveStreamURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}

// Validate checks for required fields, reporting all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Stream.URL == "" {
		errs = append(errs, "stream.url is required")
	}
	if c.Notify.Slack != nil {
		if c.Notify.Slack.Token == "" {
			errs = append(errs, "notify.slack.token is required")
		}
		if c.Notify.Slack.Channel == "" {
			errs = append(errs, "notify.slack.channel is required")
		}
	}
	if c.Notify.Telegram != nil {
		if c.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required")
		}
		if c.Notify.Telegram.ChatID == 0 {
			errs = append(errs, "notify.telegram.chat_id is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath        = "configs/config.toml"
	DefaultAPIEndpoint = "https://nof1.ai/api/positions"

	ChannelWeChat    = "wechat"
	ChannelTelegram  = "telegram"
	ChannelKafka     = "kafka"
	ChannelConsole   = "console"
	ChannelWebSocket = "websocket"

	BackendFile   = "file"
	BackendPebble = "pebble"
)

type ChannelConfig struct {
	Type string `toml:"type" yaml:"type"`
	// Name overrides the channel name used in logs and metrics.
	Name           string `toml:"name" yaml:"name"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`

	// wechat
	WebhookURL   string `toml:"webhook_url" yaml:"webhook_url"`
	ModelURLBase string `toml:"model_url_base" yaml:"model_url_base"`

	// telegram
	BotToken string `toml:"bot_token" yaml:"bot_token"`
	ChatID   string `toml:"chat_id" yaml:"chat_id"`
	Proxy    string `toml:"proxy" yaml:"proxy"`
	BaseURL  string `toml:"base_url" yaml:"base_url"`

	// kafka
	Brokers []string `toml:"brokers" yaml:"brokers"`
	Topic   string   `toml:"topic" yaml:"topic"`
}

// Timeout returns the configured timeout, or def when unset.
func (c ChannelConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return def
}

type Config struct {
	App struct {
		TickIntervalSeconds int    `toml:"tick_interval_seconds" yaml:"tick_interval_seconds"`
		LogLevel            string `toml:"log_level" yaml:"log_level"`
		LogFile             string `toml:"log_file" yaml:"log_file"`
		PortalURL           string `toml:"portal_url" yaml:"portal_url"`
	} `toml:"app" yaml:"app"`

	Source struct {
		APIEndpoint    string `toml:"api_endpoint" yaml:"api_endpoint"`
		TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	} `toml:"source" yaml:"source"`

	Monitor struct {
		Models []string `toml:"models" yaml:"models"`
	} `toml:"monitor" yaml:"monitor"`

	Storage struct {
		Backend string `toml:"backend" yaml:"backend"`
		Dir     string `toml:"dir" yaml:"dir"`
	} `toml:"storage" yaml:"storage"`

	History struct {
		SQLite struct {
			Enabled bool   `toml:"enabled" yaml:"enabled"`
			Path    string `toml:"path" yaml:"path"`
		} `toml:"sqlite" yaml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled" yaml:"enabled"`
			DSN     string `toml:"dsn" yaml:"dsn"`
		} `toml:"postgres" yaml:"postgres"`

		Redis struct {
			Enabled    bool   `toml:"enabled" yaml:"enabled"`
			Addr       string `toml:"addr" yaml:"addr"`
			Password   string `toml:"password" yaml:"password"`
			DB         int    `toml:"db" yaml:"db"`
			Prefix     string `toml:"prefix" yaml:"prefix"`
			TTLSeconds int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
		} `toml:"redis" yaml:"redis"`
	} `toml:"history" yaml:"history"`

	Channels []ChannelConfig `toml:"channels" yaml:"channels"`

	Dashboard struct {
		Enabled        bool   `toml:"enabled" yaml:"enabled"`
		Addr           string `toml:"addr" yaml:"addr"`
		RefreshSeconds int    `toml:"refresh_seconds" yaml:"refresh_seconds"`
	} `toml:"dashboard" yaml:"dashboard"`

	Metrics struct {
		Enabled bool   `toml:"enabled" yaml:"enabled"`
		Addr    string `toml:"addr" yaml:"addr"`
	} `toml:"metrics" yaml:"metrics"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.App.TickIntervalSeconds) * time.Second
}

func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// Load reads path (TOML, or YAML by extension), applies environment overrides,
// defaults, and validates. An empty path skips the file; .env is loaded best-effort.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv 环境变量覆盖（兼容旧版 .env 变量名）
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("API_URL"); ok {
		cfg.Source.APIEndpoint = v
	}
	if v, ok := get("MONITORED_MODELS"); ok {
		cfg.Monitor.Models = strings.Split(v, ",")
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.App.LogLevel = v
	}
	if v, ok := get("TICK_INTERVAL_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.App.TickIntervalSeconds = n
		}
	}
	if v, ok := get("SAVE_HISTORY_DATA"); ok {
		if b, err := strconv.ParseBool(v); err == nil && b {
			cfg.History.SQLite.Enabled = true
		}
	}

	if v, ok := get("WECHAT_WEBHOOK_URL"); ok {
		ch := channelOfType(cfg, ChannelWeChat)
		ch.WebhookURL = v
	}
	token, hasToken := get("TELEGRAM_BOT_TOKEN")
	chatID, hasChat := get("TELEGRAM_CHAT_ID")
	if hasToken || hasChat {
		ch := channelOfType(cfg, ChannelTelegram)
		if hasToken {
			ch.BotToken = token
		}
		if hasChat {
			ch.ChatID = chatID
		}
		if v, ok := get("TELEGRAM_PROXY"); ok {
			ch.Proxy = v
		}
	}
}

// channelOfType returns the first channel of type t, appending one if none exists.
func channelOfType(cfg *Config, t string) *ChannelConfig {
	for i := range cfg.Channels {
		if strings.EqualFold(cfg.Channels[i].Type, t) {
			return &cfg.Channels[i]
		}
	}
	cfg.Channels = append(cfg.Channels, ChannelConfig{Type: t})
	return &cfg.Channels[len(cfg.Channels)-1]
}

func applyDefaults(cfg *Config) {
	if cfg.App.TickIntervalSeconds <= 0 {
		cfg.App.TickIntervalSeconds = 60
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFile == "" {
		cfg.App.LogFile = "logs/alphawatch.log"
	}
	if cfg.Source.APIEndpoint == "" {
		cfg.Source.APIEndpoint = DefaultAPIEndpoint
	}
	if cfg.Source.TimeoutSeconds <= 0 {
		cfg.Source.TimeoutSeconds = 30
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}
	if cfg.History.SQLite.Path == "" {
		cfg.History.SQLite.Path = filepath.Join(cfg.Storage.Dir, "history.db")
	}
	if cfg.History.Redis.Addr == "" {
		cfg.History.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.History.Redis.Prefix == "" {
		cfg.History.Redis.Prefix = "alphawatch"
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = ":8080"
	}
	if cfg.Dashboard.RefreshSeconds <= 0 {
		cfg.Dashboard.RefreshSeconds = 15
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9100"
	}
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		ch.Type = strings.ToLower(strings.TrimSpace(ch.Type))
		if ch.Type == ChannelKafka && ch.Topic == "" {
			ch.Topic = "alphawatch.trades"
		}
	}
}

func validate(cfg *Config) error {
	cfg.Monitor.Models = normalizeModels(cfg.Monitor.Models)
	cfg.Source.APIEndpoint = strings.TrimSpace(cfg.Source.APIEndpoint)

	switch cfg.Storage.Backend {
	case BackendFile, BackendPebble:
	default:
		return fmt.Errorf("storage.backend %q is not one of file, pebble", cfg.Storage.Backend)
	}
	if cfg.History.Postgres.Enabled && strings.TrimSpace(cfg.History.Postgres.DSN) == "" {
		return errors.New("history.postgres.dsn empty but enabled")
	}

	for i, ch := range cfg.Channels {
		key := fmt.Sprintf("channels[%d]", i)
		switch ch.Type {
		case ChannelWeChat:
			if strings.TrimSpace(ch.WebhookURL) == "" {
				return fmt.Errorf("%s.webhook_url is empty", key)
			}
		case ChannelTelegram:
			if strings.TrimSpace(ch.BotToken) == "" {
				return fmt.Errorf("%s.bot_token is empty", key)
			}
			if strings.TrimSpace(ch.ChatID) == "" {
				return fmt.Errorf("%s.chat_id is empty", key)
			}
		case ChannelKafka:
			if len(ch.Brokers) == 0 {
				return fmt.Errorf("%s.brokers is empty", key)
			}
		case ChannelConsole:
		case ChannelWebSocket:
			if !cfg.Dashboard.Enabled {
				return fmt.Errorf("%s: websocket channel needs dashboard.enabled", key)
			}
		case "":
			return fmt.Errorf("%s.type is empty", key)
		default:
			return fmt.Errorf("%s.type %q is unknown", key, ch.Type)
		}
	}
	return nil
}

func normalizeModels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		id := strings.TrimSpace(s)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

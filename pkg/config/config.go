// Package config loads courier configuration from a YAML file overlaid
// with COURIER_* environment variables; environment wins.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from "300s"/"5m" strings in
// both YAML and environment variables.
type Duration time.Duration

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full runtime configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Store      StoreConfig      `yaml:"store"`
	Slack      SlackConfig      `yaml:"slack"`
	Discord    DiscordConfig    `yaml:"discord"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Console    ConsoleConfig    `yaml:"console"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"COURIER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"COURIER_LOG_PRETTY"`
}

// DispatcherConfig controls routing behavior.
type DispatcherConfig struct {
	// Queued switches dispatch from inline to queued execution.
	Queued bool `yaml:"queued" env:"COURIER_QUEUED"`
	// QueueName names the job queue in queued mode.
	QueueName string `yaml:"queue_name" env:"COURIER_QUEUE_NAME"`
	// QueueCapacity bounds the queue backlog.
	QueueCapacity int `yaml:"queue_capacity" env:"COURIER_QUEUE_CAPACITY"`
	// Workers is the number of queue consumers in queued mode.
	Workers int `yaml:"workers" env:"COURIER_WORKERS"`
	// DedupTTL bounds the duplicate-delivery window.
	DedupTTL Duration `yaml:"dedup_ttl" env:"COURIER_DEDUP_TTL"`
}

// StoreConfig selects and configures the state backend.
type StoreConfig struct {
	// Driver is one of "memory", "file" or "sqlite"; "" disables the
	// backend entirely (no dedup, no locking, no subscriptions).
	Driver string `yaml:"driver" env:"COURIER_STORE_DRIVER"`
	// Path is the file-store directory or the sqlite database file.
	Path string `yaml:"path" env:"COURIER_STORE_PATH"`
	// JanitorSchedule is the sqlite expired-key sweep cron expression.
	JanitorSchedule string `yaml:"janitor_schedule" env:"COURIER_STORE_JANITOR_SCHEDULE"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled" env:"COURIER_SLACK_ENABLED"`
	BotToken string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"SLACK_APP_TOKEN"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"COURIER_DISCORD_ENABLED"`
	Token   string `yaml:"token" env:"DISCORD_TOKEN"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env:"COURIER_TELEGRAM_ENABLED"`
	Token   string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"COURIER_CONSOLE_ENABLED"`
}

// Default returns the built-in configuration: memory store, inline
// dispatch, console channel only.
func Default() *Config {
	return &Config{
		Log:        LogConfig{Level: "info", Pretty: true},
		Dispatcher: DispatcherConfig{QueueName: "default", QueueCapacity: 100, Workers: 2, DedupTTL: Duration(300 * time.Second)},
		Store:      StoreConfig{Driver: "memory"},
		Console:    ConsoleConfig{Enabled: true},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is ""), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent configuration early.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store driver %q needs store.path", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Store.JanitorSchedule != "" && !gronx.New().IsValid(c.Store.JanitorSchedule) {
		return fmt.Errorf("config: invalid janitor schedule %q", c.Store.JanitorSchedule)
	}

	if c.Dispatcher.Queued && c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("config: queued dispatch needs at least one worker")
	}
	if c.Slack.Enabled && (c.Slack.BotToken == "" || c.Slack.AppToken == "") {
		return fmt.Errorf("config: slack needs bot_token and app_token")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("config: discord needs token")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("config: telegram needs token")
	}
	return nil
}

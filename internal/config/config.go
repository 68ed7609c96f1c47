package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	HN         HNConfig         `yaml:"hackernews"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Detection  DetectionConfig  `yaml:"detection"`
	Benchmarks BenchmarksConfig `yaml:"benchmarks"`
	Digest     DigestConfig     `yaml:"digest"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HNConfig configures the Hacker News API client.
type HNConfig struct {
	BaseURL     string  `yaml:"base_url"`
	FetchLimit  int     `yaml:"fetch_limit"`
	Concurrency int     `yaml:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second
}

// ScheduleConfig configures the daemon cadences.
type ScheduleConfig struct {
	FetchInterval     string `yaml:"fetch_interval"`
	BenchmarkInterval string `yaml:"benchmark_interval"`
	DigestInterval    string `yaml:"digest_interval"`
}

// ParseFetchInterval returns the fetch cadence as time.Duration.
func (s ScheduleConfig) ParseFetchInterval() time.Duration {
	return parseDuration(s.FetchInterval, 5*time.Minute)
}

// ParseBenchmarkInterval returns the benchmark recomputation cadence.
func (s ScheduleConfig) ParseBenchmarkInterval() time.Duration {
	return parseDuration(s.BenchmarkInterval, 24*time.Hour)
}

// ParseDigestInterval returns the digest batching cadence.
func (s ScheduleConfig) ParseDigestInterval() time.Duration {
	return parseDuration(s.DigestInterval, 4*time.Hour)
}

// DetectionConfig configures the breakout detector.
type DetectionConfig struct {
	PercentileThreshold float64 `yaml:"percentile_threshold"`
	ActiveWindow        string  `yaml:"active_window"`
	Concurrency         int     `yaml:"concurrency"`
}

// ParseActiveWindow returns the active-post window as time.Duration.
func (d DetectionConfig) ParseActiveWindow() time.Duration {
	return parseDuration(d.ActiveWindow, 48*time.Hour)
}

// BenchmarksConfig configures percentile benchmark recomputation.
type BenchmarksConfig struct {
	LookbackDays  int    `yaml:"lookback_days"`
	PairingWindow string `yaml:"pairing_window"`
	MinSamples    int    `yaml:"min_samples"`
}

// ParseLookback returns the sampling lookback as time.Duration.
func (b BenchmarksConfig) ParseLookback() time.Duration {
	if b.LookbackDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(b.LookbackDays) * 24 * time.Hour
}

// ParsePairingWindow returns the snapshot pairing window.
func (b BenchmarksConfig) ParsePairingWindow() time.Duration {
	return parseDuration(b.PairingWindow, 10*time.Minute)
}

// DigestConfig configures batching of alerts into notifications.
type DigestConfig struct {
	BatchSize int    `yaml:"batch_size"`
	MaxPerDay int    `yaml:"max_per_day"`
	Lookback  string `yaml:"lookback"`
}

// ParseLookback returns the unsent-alert eligibility window.
func (d DigestConfig) ParseLookback() time.Duration {
	return parseDuration(d.Lookback, 4*time.Hour)
}

// AlertsConfig configures digest destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook digests.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook digests.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook digests.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with the standard defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./hnpulse.db"},
		HN: HNConfig{
			BaseURL:     "https://hacker-news.firebaseio.com/v0",
			FetchLimit:  200,
			Concurrency: 10,
			RateLimit:   20,
		},
		Schedule: ScheduleConfig{
			FetchInterval:     "5m",
			BenchmarkInterval: "24h",
			DigestInterval:    "4h",
		},
		Detection: DetectionConfig{
			PercentileThreshold: 95,
			ActiveWindow:        "48h",
			Concurrency:         8,
		},
		Benchmarks: BenchmarksConfig{
			LookbackDays:  7,
			PairingWindow: "10m",
			MinSamples:    10,
		},
		Digest: DigestConfig{
			BatchSize: 10,
			MaxPerDay: 5,
			Lookback:  "4h",
		},
		Alerts: AlertsConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HNPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HN_API_BASE_URL"); v != "" {
		cfg.HN.BaseURL = v
	}
	if v := os.Getenv("ALERT_PERCENTILE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.PercentileThreshold = f
		}
	}
	if v := os.Getenv("MAX_DIGESTS_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Digest.MaxPerDay = n
		}
	}
	if v := os.Getenv("DIGEST_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Digest.BatchSize = n
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("DIGEST_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("DIGEST_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

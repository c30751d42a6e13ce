// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Credentials are not required by Load; use ValidateTwitch and ValidateDiscord before connecting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultCommandPrefix = "!"
	DefaultHTTPAddr      = ":8080"
	DefaultStateDSN      = "file://data"
	DefaultRenewInterval = time.Hour
	DefaultRenewWithin   = 24 * time.Hour
	DefaultDedupWindow   = 15 * time.Minute
	DefaultLeaseSeconds  = 864000
)

type Config struct {
	// Discord
	DiscordToken  string
	CommandPrefix string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	CallbackURL        string
	LeaseSeconds       int

	// HTTP
	HTTPAddr string

	// State storage
	StateDSN           string
	StateEncryptionKey string
	GCSEndpoint        string

	// Dedup backend; empty keeps the window in memory.
	RedisURL string

	// Timing
	RenewInterval time.Duration
	RenewWithin   time.Duration
	DedupWindow   time.Duration
}

// Load reads environment variables and applies defaults. Malformed durations or
// numbers are errors; missing credentials are not.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DiscordToken = strings.TrimPrefix(os.Getenv("DISCORD_TOKEN"), "Bot ")
	cfg.CommandPrefix = os.Getenv("COMMAND_PREFIX")
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = DefaultCommandPrefix
	}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.CallbackURL = os.Getenv("WEBHOOK_CALLBACK_URL")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	cfg.StateDSN = os.Getenv("STATE_DSN")
	if cfg.StateDSN == "" {
		cfg.StateDSN = DefaultStateDSN
	}
	cfg.StateEncryptionKey = os.Getenv("STATE_ENCRYPTION_KEY")
	cfg.GCSEndpoint = os.Getenv("GCS_ENDPOINT")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var err error
	if cfg.RenewInterval, err = duration("RENEW_INTERVAL", DefaultRenewInterval); err != nil {
		return nil, err
	}
	if cfg.RenewWithin, err = duration("RENEW_WITHIN", DefaultRenewWithin); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = duration("DEDUP_WINDOW", DefaultDedupWindow); err != nil {
		return nil, err
	}

	cfg.LeaseSeconds = DefaultLeaseSeconds
	if v := os.Getenv("HUB_LEASE_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid HUB_LEASE_SECONDS %q: want a positive integer", v)
		}
		cfg.LeaseSeconds = n
	}

	return cfg, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (Go duration like 1h or 15m): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// ValidateTwitch checks the credentials needed for Helix calls and hub subscriptions.
func (c *Config) ValidateTwitch() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" || c.CallbackURL == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, WEBHOOK_CALLBACK_URL")
	}
	if !strings.HasPrefix(c.CallbackURL, "https://") && !strings.HasPrefix(c.CallbackURL, "http://") {
		return fmt.Errorf("invalid WEBHOOK_CALLBACK_URL %q: must be an absolute http(s) URL", c.CallbackURL)
	}
	return nil
}

// ValidateDiscord checks the bot token is present.
func (c *Config) ValidateDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("missing discord env: require DISCORD_TOKEN")
	}
	return nil
}

// Package config loads partysync settings from a YAML file, a .env file and
// PARTYSYNC_* environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

const (
	TransportWS   = "ws"
	TransportNATS = "nats"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LocalPlayerID string          `yaml:"local_player_id"`
	Transport     TransportConfig `yaml:"transport"`
	Lobby         LobbyConfig     `yaml:"lobby"`
	PairingFile   string          `yaml:"pairing_file"`
	ManifestPath  string          `yaml:"manifest_path"`
	HTTPAddr      string          `yaml:"http_addr"`
	Timing        TimingConfig    `yaml:"timing"`
	Log           LogConfig       `yaml:"log"`
}

type TransportConfig struct {
	Kind          string        `yaml:"kind"`
	WSURL         string        `yaml:"ws_url"`
	NATSURL       string        `yaml:"nats_url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type LobbyConfig struct {
	URL          string        `yaml:"url"`
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TimingConfig struct {
	MaxShareAge           time.Duration `yaml:"max_share_age"`
	SessionStaleThreshold time.Duration `yaml:"session_stale_threshold"`
	DebounceWindow        time.Duration `yaml:"debounce_window"`
	SwiftPlayWait         time.Duration `yaml:"swiftplay_wait"`
	EffectTimeout         time.Duration `yaml:"effect_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Transport: TransportConfig{
			Kind:          TransportWS,
			WSURL:         "ws://127.0.0.1:7878/party",
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "party.skins",
			ReconnectWait: 2 * time.Second,
		},
		Lobby: LobbyConfig{
			URL:          "http://127.0.0.1:7879",
			Path:         "/lobby/state",
			PollInterval: 500 * time.Millisecond,
		},
		PairingFile:  "pairing.yaml",
		ManifestPath: "overlay/manifest.json",
		HTTPAddr:     "127.0.0.1:8787",
		Timing: TimingConfig{
			MaxShareAge:           engine.DefaultMaxShareAge,
			SessionStaleThreshold: engine.DefaultSessionStaleThreshold,
			DebounceWindow:        engine.DefaultDebounceWindow,
			SwiftPlayWait:         engine.DefaultSwiftPlayWait,
			EffectTimeout:         3 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadEnvFile copies a .env file into the process environment without
// overriding variables that are already set. No paths means ./.env.
func LoadEnvFile(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LocalPlayerID = getEnv("PARTYSYNC_LOCAL_PLAYER_ID", c.LocalPlayerID)
	c.Transport.Kind = getEnv("PARTYSYNC_TRANSPORT", c.Transport.Kind)
	c.Transport.WSURL = getEnv("PARTYSYNC_WS_URL", c.Transport.WSURL)
	c.Transport.NATSURL = getEnv("PARTYSYNC_NATS_URL", c.Transport.NATSURL)
	c.Lobby.URL = getEnv("PARTYSYNC_LOBBY_URL", c.Lobby.URL)
	c.PairingFile = getEnv("PARTYSYNC_PAIRING_FILE", c.PairingFile)
	c.ManifestPath = getEnv("PARTYSYNC_MANIFEST_PATH", c.ManifestPath)
	c.HTTPAddr = getEnv("PARTYSYNC_HTTP_ADDR", c.HTTPAddr)
	c.Log.Level = getEnv("PARTYSYNC_LOG_LEVEL", c.Log.Level)

	var err error
	if c.Log.Development, err = getEnvAsBool("PARTYSYNC_LOG_DEVELOPMENT", c.Log.Development); err != nil {
		return err
	}
	if c.Timing.DebounceWindow, err = getEnvAsDuration("PARTYSYNC_DEBOUNCE_WINDOW", c.Timing.DebounceWindow); err != nil {
		return err
	}
	if c.Timing.SwiftPlayWait, err = getEnvAsDuration("PARTYSYNC_SWIFTPLAY_WAIT", c.Timing.SwiftPlayWait); err != nil {
		return err
	}
	if c.Lobby.PollInterval, err = getEnvAsDuration("PARTYSYNC_POLL_INTERVAL", c.Lobby.PollInterval); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.LocalPlayerID) == "" {
		return fmt.Errorf("%w: local_player_id is required", ErrInvalidConfig)
	}
	switch c.Transport.Kind {
	case TransportWS:
		if c.Transport.WSURL == "" {
			return fmt.Errorf("%w: transport.ws_url is required", ErrInvalidConfig)
		}
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("%w: transport.nats_url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"transport.reconnect_wait", c.Transport.ReconnectWait},
		{"lobby.poll_interval", c.Lobby.PollInterval},
		{"timing.max_share_age", c.Timing.MaxShareAge},
		{"timing.session_stale_threshold", c.Timing.SessionStaleThreshold},
		{"timing.debounce_window", c.Timing.DebounceWindow},
		{"timing.swiftplay_wait", c.Timing.SwiftPlayWait},
		{"timing.effect_timeout", c.Timing.EffectTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	return nil
}

// Limits returns the validation limits in engine form.
func (c Config) Limits() engine.Limits {
	return engine.Limits{
		MaxShareAge:           c.Timing.MaxShareAge,
		SessionStaleThreshold: c.Timing.SessionStaleThreshold,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return b, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

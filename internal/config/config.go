// Package config loads runtime configuration for the listening history service.
//
// Values are layered: struct defaults, then an optional YAML file (CONFIG_PATH,
// ./config.yaml or ./config.yml), then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// MaxRecentPlays is the most the recently-played endpoint will return per call.
const MaxRecentPlays = 50

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// ErrMissingCredentials is returned when the Spotify client ID or secret is not set.
var ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET")

// Config is the root configuration.
type Config struct {
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	HTTP     HTTPConfig     `koanf:"http"`
	Log      LogConfig      `koanf:"log"`
}

// SpotifyConfig configures the recently-played source.
type SpotifyConfig struct {
	ClientID          string  `koanf:"id"`
	ClientSecret      string  `koanf:"secret"`
	RedirectURI       string  `koanf:"redirect_uri"`
	TokenPath         string  `koanf:"token_path"`
	PageLimit         int     `koanf:"page_limit"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// DatabaseConfig configures the PostgreSQL event store.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	Migrate  bool   `koanf:"migrate"`
}

// SyncConfig configures the periodic sync worker.
type SyncConfig struct {
	Interval   time.Duration `koanf:"interval"`
	Timeout    time.Duration `koanf:"timeout"`
	RunOnStart bool          `koanf:"run_on_start"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr          string        `koanf:"addr"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	SyncRateLimit int           `koanf:"sync_rate_limit"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURI:       "http://127.0.0.1:8080/callback",
			PageLimit:         MaxRecentPlays,
			RequestsPerSecond: 2,
		},
		Database: DatabaseConfig{
			URL:      "postgres://localhost:5432/spotify_history?sslmode=disable",
			MaxConns: 4,
			Migrate:  true,
		},
		Sync: SyncConfig{
			Interval:   30 * time.Second,
			Timeout:    20 * time.Second,
			RunOnStart: true,
		},
		HTTP: HTTPConfig{
			Addr:          "127.0.0.1:8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			SyncRateLimit: 6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps flat environment variable names to config keys.
var envMappings = map[string]string{
	"spotify_id":                  "spotify.id",
	"spotify_secret":              "spotify.secret",
	"spotify_redirect_uri":        "spotify.redirect_uri",
	"spotify_token_path":          "spotify.token_path",
	"spotify_page_limit":          "spotify.page_limit",
	"spotify_requests_per_second": "spotify.requests_per_second",
	"database_url":                "database.url",
	"database_max_conns":          "database.max_conns",
	"database_migrate":            "database.migrate",
	"sync_interval":               "sync.interval",
	"sync_timeout":                "sync.timeout",
	"sync_run_on_start":           "sync.run_on_start",
	"http_addr":                   "http.addr",
	"http_read_timeout":           "http.read_timeout",
	"http_write_timeout":          "http.write_timeout",
	"http_sync_rate_limit":        "http.sync_rate_limit",
	"log_level":                   "log.level",
	"log_format":                  "log.format",
	"log_caller":                  "log.caller",
}

// envTransformFunc returns "" for variables that are not ours so koanf skips them.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks invariants that the rest of the program relies on.
// Spotify credentials are checked separately by RequireCredentials since
// read-only commands don't need them.
func (c *Config) Validate() error {
	if c.Spotify.PageLimit < 1 || c.Spotify.PageLimit > MaxRecentPlays {
		return fmt.Errorf("spotify.page_limit must be between 1 and %d, got %d", MaxRecentPlays, c.Spotify.PageLimit)
	}
	if c.Spotify.RequestsPerSecond <= 0 {
		return fmt.Errorf("spotify.requests_per_second must be positive")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// RequireCredentials returns ErrMissingCredentials if the Spotify app credentials are unset.
func (c *Config) RequireCredentials() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

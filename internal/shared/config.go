package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Sessions    SessionsConfig    `toml:"sessions"`
	Database    DatabaseConfig    `toml:"database"`
	Cache       CacheConfig       `toml:"cache"`
	Collections CollectionsConfig `toml:"collections"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify application credentials and endpoints.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	APIBaseURL   string   `toml:"api_base_url"`
	Scopes       []string `toml:"scopes"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host                 string `toml:"host"`
	Port                 int    `toml:"port"`
	CookieSecure         bool   `toml:"cookie_secure"`
	SessionLifetimeHours int    `toml:"session_lifetime_hours"`
	PostLoginRedirect    string `toml:"post_login_redirect"`
}

// UpstreamConfig controls the resilient request layer.
type UpstreamConfig struct {
	TimeoutSeconds      int `toml:"timeout_seconds"`
	MaxRateLimitRetries int `toml:"max_rate_limit_retries"`
	BaseBackoffMS       int `toml:"base_backoff_ms"`
	MaxBackoffMS        int `toml:"max_backoff_ms"`
}

// SessionsConfig selects where per-session token pairs are persisted.
type SessionsConfig struct {
	Backend       string `toml:"backend"` // memory, sqlite, redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
	TTLHours      int    `toml:"ttl_hours"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CacheConfig contains metadata cache settings.
type CacheConfig struct {
	TTLSeconds   int  `toml:"ttl_seconds"`
	MaxEntries   int  `toml:"max_entries"`
	SingleFlight bool `toml:"single_flight"`
}

// CollectionsConfig lists the curated playlist ids and the fan-out limits used to aggregate them.
type CollectionsConfig struct {
	IDs       []string `toml:"ids"`
	Workers   int      `toml:"workers"`
	RateLimit float64  `toml:"rate_limit"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides Spotify credentials with SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET and SPOTIFY_REDIRECT_URI when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		c.Credentials.Spotify.RedirectURI = v
	}
}

// Validate checks the settings the proxy cannot start without.
func (c *Config) Validate() error {
	sp := c.Credentials.Spotify
	if sp.ClientID == "" || sp.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret must be set", ErrMissingCredentials)
	}
	if sp.TokenURL == "" || sp.APIBaseURL == "" {
		return fmt.Errorf("%w: spotify token_url and api_base_url must be set", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Sessions.Backend) {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("%w: unknown sessions backend %q", ErrInvalidConfig, c.Sessions.Backend)
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeout returns the per-attempt HTTP timeout for upstream calls.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// BaseBackoff returns the first rate-limit backoff interval.
func (u UpstreamConfig) BaseBackoff() time.Duration {
	return time.Duration(u.BaseBackoffMS) * time.Millisecond
}

// MaxBackoff returns the ceiling for rate-limit backoff intervals.
func (u UpstreamConfig) MaxBackoff() time.Duration {
	return time.Duration(u.MaxBackoffMS) * time.Millisecond
}

// TTL returns the metadata cache time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TTL returns how long a stored session token pair is kept by expiring backends.
func (s SessionsConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

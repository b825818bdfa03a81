package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable, e.g. OVERLAY_SERVER_PORT.
const EnvPrefix = "OVERLAY"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Surface   SurfaceConfig   `yaml:"surface" toml:"surface"`
	Loader    LoaderConfig    `yaml:"loader" toml:"loader"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" split_words:"true"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `yaml:"host" toml:"host" split_words:"true"`
	Port           string   `yaml:"port" toml:"port" split_words:"true"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" split_words:"true"`
	Compress       bool     `yaml:"compress" toml:"compress" split_words:"true"`
	StartURL       string   `yaml:"start_url" toml:"start_url" split_words:"true"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" toml:"level" split_words:"true"`
	Development bool   `yaml:"development" toml:"development" split_words:"true"`
}

// BridgeConfig holds script bridge configuration.
type BridgeConfig struct {
	Name        string   `yaml:"name" toml:"name" split_words:"true"`
	EvalTimeout Duration `yaml:"eval_timeout" toml:"eval_timeout" split_words:"true"`
}

// SurfaceConfig holds page runtime configuration.
type SurfaceConfig struct {
	ScriptTimeout  Duration `yaml:"script_timeout" toml:"script_timeout" split_words:"true"`
	ConsoleLimit   int      `yaml:"console_limit" toml:"console_limit" split_words:"true"`
	RunPageScripts bool     `yaml:"run_page_scripts" toml:"run_page_scripts" split_words:"true"`
}

// LoaderConfig holds page loading configuration.
type LoaderConfig struct {
	AssetRoot      string   `yaml:"asset_root" toml:"asset_root" split_words:"true"`
	AllowPatterns  []string `yaml:"allow_patterns" toml:"allow_patterns" split_words:"true"`
	FetchTimeout   Duration `yaml:"fetch_timeout" toml:"fetch_timeout" split_words:"true"`
	RetryCount     int      `yaml:"retry_count" toml:"retry_count" split_words:"true"`
	MaxBytes       int64    `yaml:"max_bytes" toml:"max_bytes" split_words:"true"`
	UserAgent      string   `yaml:"user_agent" toml:"user_agent" split_words:"true"`
	SanitizeRemote bool     `yaml:"sanitize_remote" toml:"sanitize_remote" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"requests_per_second" toml:"requests_per_second" split_words:"true"`
	Burst             int  `yaml:"burst" toml:"burst" split_words:"true"`
	Enabled           bool `yaml:"enabled" toml:"enabled" split_words:"true"`
}

// Duration is a time.Duration written as "250ms" or "5s" in files and env.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Load builds the configuration from defaults, then the optional file at
// path (YAML or TOML by extension), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Bridge.EvalTimeout <= 0 {
		return fmt.Errorf("bridge eval timeout must be positive, got %s", c.Bridge.EvalTimeout)
	}
	if c.Surface.ScriptTimeout <= 0 {
		return fmt.Errorf("surface script timeout must be positive, got %s", c.Surface.ScriptTimeout)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled, got %d", c.RateLimit.RequestsPerSecond)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           "8000",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			Compress:       true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Bridge: BridgeConfig{
			Name:        "MinkoNativeInterface",
			EvalTimeout: Duration(5 * time.Second),
		},
		Surface: SurfaceConfig{
			ScriptTimeout:  Duration(2 * time.Second),
			ConsoleLimit:   500,
			RunPageScripts: true,
		},
		Loader: LoaderConfig{
			AssetRoot:     "assets",
			AllowPatterns: []string{"**/*.html", "**/*.htm", "**/*.html.gz"},
			FetchTimeout:  Duration(15 * time.Second),
			RetryCount:    2,
			MaxBytes:      5 << 20,
			UserAgent:     "overlayd/1.0",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

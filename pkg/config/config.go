// Package config loads the file configuration of the shop server.
// TOML is the default format; files ending in .yaml or .yml are read as YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Shop      ShopConfig      `toml:"shop" yaml:"shop"`
}

// ServerConfig holds the HTTP server and middleware settings.
type ServerConfig struct {
	Addr            string        `toml:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `toml:"request_timeout" yaml:"request_timeout"`
	SlowThreshold   time.Duration `toml:"slow_threshold" yaml:"slow_threshold"`
	MaxBodySize     int64         `toml:"max_body_size" yaml:"max_body_size"`
	TraceID         bool          `toml:"trace_id" yaml:"trace_id"`

	// MatchMode is "prefix" (plain string prefix) or "segment" (prefix ending on a path segment).
	MatchMode string `toml:"match_mode" yaml:"match_mode"`

	IP        middleware.IPConfig         `toml:"ip" yaml:"ip"`
	CORS      *middleware.CORSConfig      `toml:"cors" yaml:"cors"`
	Throttle  middleware.ThrottleConfig   `toml:"throttle" yaml:"throttle"`
	RateLimit *middleware.RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// LogConfig holds logger settings. Level is hot reloadable.
type LogConfig struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// WebSocketConfig holds settings of the /ws endpoint.
type WebSocketConfig struct {
	Enabled        bool          `toml:"enabled" yaml:"enabled"`
	MaxMessageSize int64         `toml:"max_message_size" yaml:"max_message_size"`
	MaxInFlight    int           `toml:"max_in_flight" yaml:"max_in_flight"`
	PingInterval   time.Duration `toml:"ping_interval" yaml:"ping_interval"`
	AllowedOrigins []string      `toml:"allowed_origins" yaml:"allowed_origins"`
}

// ShopConfig holds settings of the demo shop.
type ShopConfig struct {
	Title string `toml:"title" yaml:"title"`

	// The admin pages require basic auth when both are set.
	AdminUser     string `toml:"admin_user" yaml:"admin_user"`
	AdminPassword string `toml:"admin_password" yaml:"admin_password"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from path, applying defaults first.
// If the file doesn't exist, returns a config with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(path, data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses data into cfg, picking the format from the extension of path.
func Decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse toml config: %w", err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.Server.Mode(); err != nil {
		return err
	}
	if _, err := c.Log.ParseLevel(); err != nil {
		return err
	}
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("invalid max_body_size %d", c.Server.MaxBodySize)
	}
	if (c.Shop.AdminUser == "") != (c.Shop.AdminPassword == "") {
		return errors.New("admin_user and admin_password must be set together")
	}
	return nil
}

// Mode returns the dispatch match mode.
func (s ServerConfig) Mode() (dispatch.MatchMode, error) {
	switch strings.ToLower(s.MatchMode) {
	case "", "prefix":
		return dispatch.MatchPrefix, nil
	case "segment":
		return dispatch.MatchSegment, nil
	default:
		return dispatch.MatchPrefix, fmt.Errorf("invalid match_mode %q", s.MatchMode)
	}
}

// ParseLevel parses the configured log level.
func (l LogConfig) ParseLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

// Build creates a logger whose level is controlled by level.
func (l LogConfig) Build(level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 2 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = 1 << 20
	}
	if c.Server.IP.Source == "" {
		c.Server.IP.Source = middleware.IPSourceRemoteAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "shop"
	}
	if c.Shop.Title == "" {
		c.Shop.Title = "Shop"
	}
}

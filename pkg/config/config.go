// Package config loads the proxy configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/web-cache/pkg/logging"
	"github.com/Sternrassler/web-cache/pkg/store"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values like "30s" or "2m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the full proxy configuration.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`

		// ClientTimeout bounds reading a request and writing its reply.
		ClientTimeout Duration `yaml:"clientTimeout"`
	} `yaml:"server"`

	// Admin serves /health, /ready and /metrics. Empty disables it.
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`

	Origin struct {
		DialTimeout Duration `yaml:"dialTimeout"`
		IOTimeout   Duration `yaml:"ioTimeout"`
	} `yaml:"origin"`

	Store struct {
		Backend  string   `yaml:"backend"`
		Addr     string   `yaml:"addr"`
		Password string   `yaml:"password"`
		DB       int      `yaml:"db"`
		Prefix   string   `yaml:"prefix"`
		Path     string   `yaml:"path"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"store"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.ClientTimeout = Duration(30 * time.Second)
	cfg.Admin.Addr = ":9090"
	cfg.Origin.DialTimeout = Duration(5 * time.Second)
	cfg.Origin.IOTimeout = Duration(30 * time.Second)

	so := store.DefaultOptions()
	cfg.Store.Backend = so.Backend
	cfg.Store.Addr = so.Addr
	cfg.Store.Prefix = so.Prefix
	cfg.Store.Timeout = Duration(so.Timeout)

	cfg.Log.Level = string(logging.LevelInfo)
	return cfg
}

// Overrides are command-line values applied over the file and environment.
// Zero fields are ignored.
type Overrides struct {
	Host string
	Port int
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with ov applied after the environment and
// before validation. An environment value that ov replaces is not parsed.
func LoadWithOverrides(path string, ov Overrides) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(ov); err != nil {
		return Config{}, err
	}
	if ov.Host != "" {
		cfg.Server.Host = ov.Host
	}
	if ov.Port != 0 {
		cfg.Server.Port = ov.Port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(ov Overrides) error {
	c.Server.Host = getEnv("WEBCACHE_HOST", c.Server.Host)
	c.Admin.Addr = getEnv("WEBCACHE_ADMIN_ADDR", c.Admin.Addr)
	c.Store.Backend = getEnv("WEBCACHE_STORE", c.Store.Backend)
	c.Store.Addr = getEnv("REDIS_URL", c.Store.Addr)
	c.Store.Path = getEnv("WEBCACHE_STORE_PATH", c.Store.Path)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("WEBCACHE_PORT"); v != "" && ov.Port == 0 {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBCACHE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}

	switch c.Store.Backend {
	case store.BackendRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for the redis backend")
		}
	case store.BackendLevelDB, store.BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be one of redis, leveldb, sqlite (got %q)", c.Store.Backend)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	timeouts := map[string]Duration{
		"server.clientTimeout": c.Server.ClientTimeout,
		"origin.dialTimeout":   c.Origin.DialTimeout,
		"origin.ioTimeout":     c.Origin.IOTimeout,
		"store.timeout":        c.Store.Timeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ListenAddr returns the proxy listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:  c.Store.Backend,
		Addr:     c.Store.Addr,
		Password: c.Store.Password,
		DB:       c.Store.DB,
		Prefix:   c.Store.Prefix,
		Path:     c.Store.Path,
		Timeout:  time.Duration(c.Store.Timeout),
	}
}

// LoggingConfig converts the log section.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.Log.Level)
	lc.Pretty = c.Log.Pretty
	return lc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Package config loads the server configuration from defaults, an optional
// YAML file, a .env file and the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tecu23/match-server/pkg/chess"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all the configuration of the server
type Config struct {
	Port            string   `yaml:"port"`
	Debug           bool     `yaml:"debug"`
	FrontendOrigins []string `yaml:"frontend_origins"`
	APIKeys         []string `yaml:"api_keys"`

	TickInterval       time.Duration     `yaml:"tick_interval"`
	GracePeriod        time.Duration     `yaml:"grace_period"`
	EvictAfter         time.Duration     `yaml:"evict_after"`
	DefaultTimeControl chess.TimeControl `yaml:"default_time_control"`

	Persist PersistConfig `yaml:"persist"`
	Store   StoreConfig   `yaml:"store"`
	NATS    NATSConfig    `yaml:"nats"`
}

// PersistConfig controls snapshot save retries
type PersistConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// StoreConfig selects and configures the snapshot store
type StoreConfig struct {
	Driver   string        `yaml:"driver"`
	DB       DBConfig      `yaml:"db"`
	RedisURL string        `yaml:"redis_url"`
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL with the credentials escaped
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}

	return u.String()
}

// NATSConfig enables event export when URL is set
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Port:               "8080",
		TickInterval:       time.Second,
		GracePeriod:        30 * time.Second,
		EvictAfter:         60 * time.Second,
		DefaultTimeControl: chess.TimeControl{InitialMillis: 5 * 60 * 1000},
		Persist: PersistConfig{
			MaxAttempts: 5,
			MinBackoff:  200 * time.Millisecond,
			MaxBackoff:  10 * time.Second,
			SaveTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			DB: DBConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "matches",
				SSLMode:  "disable",
			},
			RedisTTL: 7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			SubjectPrefix: "match.events",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that would make the server misbehave
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.GracePeriod <= 0 {
		return errors.New("grace period must be positive")
	}
	if c.EvictAfter < 0 {
		return errors.New("evict after must not be negative")
	}
	if err := c.DefaultTimeControl.Validate(); err != nil {
		return fmt.Errorf("default time control: %w", err)
	}

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("redis store needs a redis url")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DB.Host = getEnv("DB_HOST", c.Store.DB.Host)
	c.Store.DB.User = getEnv("DB_USER", c.Store.DB.User)
	c.Store.DB.Password = getEnv("DB_PASSWORD", c.Store.DB.Password)
	c.Store.DB.Database = getEnv("DB_NAME", c.Store.DB.Database)
	c.Store.DB.SSLMode = getEnv("DB_SSLMODE", c.Store.DB.SSLMode)
	c.Store.RedisURL = getEnv("REDIS_URL", c.Store.RedisURL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	if keys := getEnvList("API_KEYS"); keys != nil {
		c.APIKeys = keys
	}
	if origins := getEnvList("FRONTEND_ORIGINS"); origins != nil {
		c.FrontendOrigins = origins
	}
	if path := os.Getenv("FRONTEND_PATH"); path != "" {
		c.FrontendOrigins = append(c.FrontendOrigins, path)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(envBool("DEBUG", &c.Debug))
	collect(envDuration("TICK_INTERVAL", &c.TickInterval))
	collect(envDuration("GRACE_PERIOD", &c.GracePeriod))
	collect(envDuration("EVICT_AFTER", &c.EvictAfter))
	collect(envInt64("DEFAULT_INITIAL_MS", &c.DefaultTimeControl.InitialMillis))
	collect(envInt64("DEFAULT_INCREMENT_MS", &c.DefaultTimeControl.IncrementMillis))
	collect(envInt("PERSIST_MAX_ATTEMPTS", &c.Persist.MaxAttempts))
	collect(envDuration("PERSIST_MIN_BACKOFF", &c.Persist.MinBackoff))
	collect(envDuration("PERSIST_MAX_BACKOFF", &c.Persist.MaxBackoff))
	collect(envDuration("PERSIST_SAVE_TIMEOUT", &c.Persist.SaveTimeout))
	collect(envInt("DB_PORT", &c.Store.DB.Port))
	collect(envDuration("REDIS_TTL", &c.Store.RedisTTL))

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvList splits a comma-separated variable, nil when unset
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

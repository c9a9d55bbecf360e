package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TASKBEAT_"

// RedisConfig enables the cross-replica task lock when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"10m"`
}

// SMTPConfig holds outbound mail settings for the email channel.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

// NotifyConfig holds notification delivery settings.
type NotifyConfig struct {
	SendTimeout    time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	RatePerSec     int           `env:"RATE_PER_SEC" envDefault:"5"`
	SMTP           SMTPConfig    `envPrefix:"SMTP_"`
	TelegramToken  string        `env:"TELEGRAM_TOKEN"`
	NotifyXBaseURL string        `env:"NOTIFYX_BASE_URL" envDefault:"https://www.notifyx.cn/api/v1/send"`
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Addr          string        `env:"ADDR" envDefault:"127.0.0.1:7070"`
	AuthToken     string        `env:"AUTH_TOKEN"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogRetention  int           `env:"LOG_RETENTION" envDefault:"500"`
	StateDir      string        `env:"STATE_DIR"`
	Timezone      string        `env:"TIMEZONE" envDefault:"Local"`
	TickSpec      string        `env:"TICK_SPEC" envDefault:"* * * * *"`
	Workers       int           `env:"WORKERS" envDefault:"4"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Notify NotifyConfig `envPrefix:"NOTIFY_"`
}

// Load reads .env files (if any) and TASKBEAT_* environment variables.
// Priority: CLI flags (applied by the caller) > environment > .env file > defaults.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "taskbeat", ".env"))
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
	return FromEnviron(nil)
}

// FromEnviron parses configuration from environ, or the process environment when nil.
func FromEnviron(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Finalize fills derived defaults and validates the result. Call it after flag overrides.
func (c *Config) Finalize() error {
	if c.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return fmt.Errorf("resolve default state dir: %w", err)
		}
		c.StateDir = dir
	}
	if c.LogRetention < 0 {
		return errors.New("log retention must be non-negative")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. "Local" and empty mean the system zone.
func (c *Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "taskbeat"), nil
}

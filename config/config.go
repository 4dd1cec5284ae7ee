// Package config loads taskd settings from an optional YAML file, a .env
// file and TASKD_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"

	"github.com/chhz0/taskd/retry"
)

type Config struct {
	HTTPAddr string   `yaml:"http_addr"`
	Log      Log      `yaml:"log"`
	Storage  Storage  `yaml:"storage"`
	Executor Executor `yaml:"executor"`
	Dispatch Dispatch `yaml:"dispatch"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type Storage struct {
	Backend  string   `yaml:"backend"` // memory | bolt | sqlite | redis | postgres
	Path     string   `yaml:"path"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	Cache    Cache    `yaml:"cache"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type Cache struct {
	Enabled      bool          `yaml:"enabled"`
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl"`
}

type Executor struct {
	// Schedule is a robfig/cron spec driving ticks in serve mode.
	Schedule    string        `yaml:"schedule"`
	Workers     int           `yaml:"workers"`
	TickTimeout time.Duration `yaml:"tick_timeout"`
	// ReconcileAfter fails running tasks untouched for this long. 0 disables.
	ReconcileAfter time.Duration `yaml:"reconcile_after"`
	// StatusRetryPolicy is exponential, fixed or none. StatusRetryDelay is
	// the first (exponential) or every (fixed) wait between attempts.
	StatusRetryPolicy string        `yaml:"status_retry_policy"`
	StatusRetryDelay  time.Duration `yaml:"status_retry_delay"`
	StatusRetries     int           `yaml:"status_retries"`
}

// RetryPolicy builds the policy used to retry terminal status writes.
func (e Executor) RetryPolicy() (retry.RetryPolicy, error) {
	return retry.NewPolicy(e.StatusRetryPolicy, e.StatusRetryDelay, e.StatusRetries)
}

type Dispatch struct {
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	// RatePerSec caps outbound dispatches. 0 disables.
	RatePerSec float64   `yaml:"rate_per_sec"`
	Burst      int       `yaml:"burst"`
	Messaging  Messaging `yaml:"messaging"`
}

type Messaging struct {
	Backend       string `yaml:"backend"` // log | redis | nats
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	NATSURL       string `yaml:"nats_url"`
	Prefix        string `yaml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Log:      Log{Level: "info", Format: "console"},
		Storage: Storage{
			Backend: "memory",
			Path:    "taskd.db",
			Redis:   Redis{Addr: "localhost:6379", Prefix: "taskd:"},
			Cache:   Cache{MaxCostBytes: 32 << 20, TTL: time.Minute},
		},
		Executor: Executor{
			Schedule:          "@every 1m",
			Workers:           8,
			TickTimeout:       50 * time.Second,
			StatusRetryPolicy: retry.PolicyExponential,
			StatusRetryDelay:  200 * time.Millisecond,
			StatusRetries:     2,
		},
		Dispatch: Dispatch{
			WebhookTimeout: 30 * time.Second,
			Burst:          1,
			Messaging:      Messaging{Backend: "log", Prefix: "taskd.messages"},
		},
	}
}

// Load reads path (if non-empty), then .env (if present), then the process
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return cfg, fmt.Errorf("load .env: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"TASKD_HTTP_ADDR":                &cfg.HTTPAddr,
		"TASKD_LOG_LEVEL":                &cfg.Log.Level,
		"TASKD_LOG_FORMAT":               &cfg.Log.Format,
		"TASKD_STORAGE_BACKEND":          &cfg.Storage.Backend,
		"TASKD_STORAGE_PATH":             &cfg.Storage.Path,
		"TASKD_REDIS_ADDR":               &cfg.Storage.Redis.Addr,
		"TASKD_REDIS_PASSWORD":           &cfg.Storage.Redis.Password,
		"TASKD_POSTGRES_DSN":             &cfg.Storage.Postgres.DSN,
		"TASKD_SCHEDULE":                 &cfg.Executor.Schedule,
		"TASKD_MESSAGING_BACKEND":        &cfg.Dispatch.Messaging.Backend,
		"TASKD_MESSAGING_REDIS":          &cfg.Dispatch.Messaging.RedisAddr,
		"TASKD_MESSAGING_REDIS_PASSWORD": &cfg.Dispatch.Messaging.RedisPassword,
		"TASKD_STATUS_RETRY_POLICY":      &cfg.Executor.StatusRetryPolicy,
		"TASKD_NATS_URL":                 &cfg.Dispatch.Messaging.NATSURL,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durs := map[string]*time.Duration{
		"TASKD_TICK_TIMEOUT":       &cfg.Executor.TickTimeout,
		"TASKD_RECONCILE_AFTER":    &cfg.Executor.ReconcileAfter,
		"TASKD_STATUS_RETRY_DELAY": &cfg.Executor.StatusRetryDelay,
		"TASKD_WEBHOOK_TIMEOUT":    &cfg.Dispatch.WebhookTimeout,
	}
	for k, dst := range durs {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("TASKD_WORKERS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TASKD_WORKERS: %w", err)
		}
		cfg.Executor.Workers = n
	}
	if v, ok := lookup("TASKD_MESSAGING_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TASKD_MESSAGING_REDIS_DB: %w", err)
		}
		cfg.Dispatch.Messaging.RedisDB = n
	}
	if v, ok := lookup("TASKD_CACHE_ENABLED"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TASKD_CACHE_ENABLED: %w", err)
		}
		cfg.Storage.Cache.Enabled = b
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "bolt", "sqlite":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if (c.Storage.Backend == "bolt" || c.Storage.Backend == "sqlite") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
	}
	if c.Storage.Cache.Enabled && c.Storage.Cache.MaxCostBytes <= 0 {
		return errors.New("storage.cache.max_cost_bytes must be positive")
	}

	switch c.Dispatch.Messaging.Backend {
	case "log":
	case "redis":
		if c.Dispatch.Messaging.RedisAddr == "" {
			return errors.New("dispatch.messaging.redis_addr is required for the redis backend")
		}
	case "nats":
		if c.Dispatch.Messaging.NATSURL == "" {
			return errors.New("dispatch.messaging.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown messaging backend %q", c.Dispatch.Messaging.Backend)
	}

	if c.Executor.Workers <= 0 {
		return errors.New("executor.workers must be positive")
	}
	if c.Executor.StatusRetries < 0 {
		return errors.New("executor.status_retries must not be negative")
	}
	if _, err := c.Executor.RetryPolicy(); err != nil {
		return fmt.Errorf("executor.status_retry_policy: %w", err)
	}
	if c.Dispatch.Messaging.RedisDB < 0 {
		return errors.New("dispatch.messaging.redis_db must not be negative")
	}
	if c.Dispatch.WebhookTimeout <= 0 {
		return errors.New("dispatch.webhook_timeout must be positive")
	}
	if c.Dispatch.RatePerSec < 0 {
		return errors.New("dispatch.rate_per_sec must not be negative")
	}
	return nil
}

// Package config loads server settings from the environment, an optional
// .env file, and an optional YAML file named by CONFIG_PATH.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Port             string        `yaml:"port" env:"PORT" env-default:"5000"`
	CORSOrigins      []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`
	Debug            bool          `yaml:"debug" env:"DEBUG"`
	LogFormat        string        `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
	LogFile          string        `yaml:"log_file" env:"LOG_FILE"`
	TraceSampleRatio float64       `yaml:"trace_sample_ratio" env:"TRACE_SAMPLE_RATIO" env-default:"1"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	SeedTasks        bool          `yaml:"seed_tasks" env:"SEED_TASKS" env-default:"false"`

	Auth   AuthConfig   `yaml:"auth"`
	Upload UploadConfig `yaml:"upload"`
	Redis  RedisConfig  `yaml:"redis"`
	Sync   SyncConfig   `yaml:"sync"`
}

type AuthConfig struct {
	Secret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
	Issuer       string        `yaml:"issuer" env:"JWT_ISSUER"`
	Audience     string        `yaml:"audience" env:"JWT_AUDIENCE"`
	JWKSURL      string        `yaml:"jwks_url" env:"JWKS_URL"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl" env:"JWKS_CACHE_TTL" env-default:"15m"`
	AdminEmails  []string      `yaml:"admin_emails" env:"ADMIN_EMAILS"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir" env:"UPLOAD_DIR" env-default:"uploads"`
	MaxBytes int64  `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"5242880"`
}

// RedisConfig is optional; without a URL the deduper, activity tracker and
// event mirror fall back to in-process behavior.
type RedisConfig struct {
	URL           string        `yaml:"url" env:"REDIS_URL"`
	DeduperTTL    time.Duration `yaml:"deduper_ttl" env:"DEDUPER_TTL" env-default:"24h"`
	ActivityTTL   time.Duration `yaml:"activity_ttl" env:"ACTIVITY_TTL" env-default:"720h"`
	EventsChannel string        `yaml:"events_channel" env:"EVENTS_CHANNEL" env-default:"kanban:events"`
}

type SyncConfig struct {
	QueueSize      int           `yaml:"queue_size" env:"SYNC_QUEUE_SIZE" env-default:"1024"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout" env:"SYNC_HANDOFF_TIMEOUT" env-default:"25ms"`
	ClientBuffer   int           `yaml:"client_buffer" env:"CLIENT_BUFFER" env-default:"64"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" env-default:"30s"`
}

// Load reads .env when present, then CONFIG_PATH if set, then the
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must be set"))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0,1], got %v", c.TraceSampleRatio))
	}
	positive := map[string]time.Duration{
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"TOKEN_TTL":        c.Auth.TokenTTL,
		"JWKS_CACHE_TTL":   c.Auth.JWKSCacheTTL,
		"DEDUPER_TTL":      c.Redis.DeduperTTL,
		"ACTIVITY_TTL":     c.Redis.ActivityTTL,
		"WRITE_TIMEOUT":    c.Sync.WriteTimeout,
		"PING_INTERVAL":    c.Sync.PingInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than zero", name))
		}
	}
	if c.Sync.HandoffTimeout < 0 {
		errs = append(errs, errors.New("SYNC_HANDOFF_TIMEOUT must not be negative"))
	}
	if c.Sync.QueueSize <= 0 {
		errs = append(errs, errors.New("SYNC_QUEUE_SIZE must be greater than zero"))
	}
	if c.Sync.ClientBuffer <= 0 {
		errs = append(errs, errors.New("CLIENT_BUFFER must be greater than zero"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be greater than zero"))
	}
	if c.Redis.URL != "" {
		if _, err := c.Redis.Options(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string { return ":" + c.Port }

// WebSocketOrigins converts the CORS origins into handshake origin patterns,
// which match on host only.
func (c *Config) WebSocketOrigins() []string {
	out := make([]string, 0, len(c.CORSOrigins))
	for _, o := range c.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}

// Options parses URL as a redis:// URL, falling back to the
// "host:port,password=...,ssl=true" connection string form.
func (r RedisConfig) Options() (*redis.Options, error) {
	if opts, err := redis.ParseURL(r.URL); err == nil {
		return opts, nil
	}
	parts := strings.Split(r.URL, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "://") {
		return nil, fmt.Errorf("invalid REDIS_URL %q", r.URL)
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

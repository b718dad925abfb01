package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SnapshotBackendMemory = "memory"
	SnapshotBackendMySQL  = "mysql"
	SnapshotBackendRedis  = "redis"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Auth     AuthConfig
	Snapshot SnapshotConfig
	Session  SessionConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type UpstreamConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	Timeout         time.Duration `yaml:"timeout"`
	RefetchInterval time.Duration `yaml:"refetchInterval"`
}

// AuthConfig controls who a request may speak for and the bearer token sent
// upstream. The JWT secret both verifies inbound bearer tokens and signs the
// outbound ones; without it the raw user id is sent. TrustUserHeader accepts
// X-User-ID as is and is only safe behind an authenticating proxy.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwtSecret"`
	JWTTTL          time.Duration `yaml:"jwtTtl"`
	JWTIssuer       string        `yaml:"jwtIssuer"`
	TrustUserHeader bool          `yaml:"trustUserHeader"`
}

type SnapshotConfig struct {
	Backend string
	TTL     time.Duration
}

type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	MaxEntries  int           `yaml:"maxEntries"`
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("UPSTREAM_BASE_URL", "http://localhost:3001")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
	v.SetDefault("REFETCH_INTERVAL", "0s")
	v.SetDefault("AUTH_JWT_SECRET", "")
	v.SetDefault("AUTH_JWT_TTL", "15m")
	v.SetDefault("AUTH_JWT_ISSUER", "cartsync")
	v.SetDefault("AUTH_TRUST_USER_HEADER", false)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("SESSION_MAX_ENTRIES", 10000)
	v.SetDefault("SNAPSHOT_BACKEND", SnapshotBackendMemory)
	v.SetDefault("SNAPSHOT_TTL", "168h")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "cartsync")
	v.SetDefault("DB_PASSWORD", "secret")
	v.SetDefault("DB_NAME", "cartsync")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")

	upstreamTimeout, err := parseDuration(v, "UPSTREAM_TIMEOUT")
	if err != nil {
		return nil, err
	}
	refetchInterval, err := parseDuration(v, "REFETCH_INTERVAL")
	if err != nil {
		return nil, err
	}
	jwtTTL, err := parseDuration(v, "AUTH_JWT_TTL")
	if err != nil {
		return nil, err
	}
	snapshotTTL, err := parseDuration(v, "SNAPSHOT_TTL")
	if err != nil {
		return nil, err
	}
	sessionIdleTimeout, err := parseDuration(v, "SESSION_IDLE_TIMEOUT")
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := parseDuration(v, "DB_CONN_MAX_LIFETIME")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("SERVER_PORT"),
		},
		Upstream: UpstreamConfig{
			BaseURL:         v.GetString("UPSTREAM_BASE_URL"),
			Timeout:         upstreamTimeout,
			RefetchInterval: refetchInterval,
		},
		Auth: AuthConfig{
			JWTSecret:       v.GetString("AUTH_JWT_SECRET"),
			JWTTTL:          jwtTTL,
			JWTIssuer:       v.GetString("AUTH_JWT_ISSUER"),
			TrustUserHeader: v.GetBool("AUTH_TRUST_USER_HEADER"),
		},
		Snapshot: SnapshotConfig{
			Backend: strings.ToLower(v.GetString("SNAPSHOT_BACKEND")),
			TTL:     snapshotTTL,
		},
		Session: SessionConfig{
			IdleTimeout: sessionIdleTimeout,
			MaxEntries:  v.GetInt("SESSION_MAX_ENTRIES"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base url is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.RefetchInterval < 0 {
		return fmt.Errorf("refetch interval must not be negative, got %s", c.Upstream.RefetchInterval)
	}

	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session idle timeout must not be negative, got %s", c.Session.IdleTimeout)
	}
	if c.Session.MaxEntries < 0 {
		return fmt.Errorf("session max entries must not be negative, got %d", c.Session.MaxEntries)
	}

	switch c.Snapshot.Backend {
	case SnapshotBackendMemory, SnapshotBackendMySQL, SnapshotBackendRedis:
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var errUnknownDriver = errors.New("unknown database driver")

type Config struct {
	Port            string
	LogLevel        string
	StaticDir       string
	SecureCookies   bool
	ShutdownTimeout time.Duration

	DB    DBConfig
	Admin AdminConfig

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	SessionBackend       string
	Redis                RedisConfig

	LoginRateLimit  int
	LoginRateWindow time.Duration
}

type DBConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         string
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
}

// AdminConfig holds the single administrator credential. Exactly one of
// PasswordHash and Password is used; PasswordHash wins when both are set.
type AdminConfig struct {
	Username     string
	PasswordHash string
	Password     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func loadConfig() (Config, error) {
	env := &envReader{}
	cfg := Config{
		Port:            getEnv("PORT", "3000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StaticDir:       getEnv("STATIC_DIR", "public"),
		SecureCookies:   env.bool("SECURE_COOKIES", false),
		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DB: DBConfig{
			Driver:       strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:         getEnv("DB_PATH", "corkboard.db"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         os.Getenv("DB_PORT"),
			Name:         getEnv("DB_NAME", "corkboard"),
			User:         os.Getenv("DB_USER"),
			Password:     os.Getenv("DB_PASSWORD"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: env.int("DB_MAX_OPEN_CONNS", 10),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
			Password:     os.Getenv("ADMIN_PASSWORD"),
		},
		SessionTTL:           env.duration("SESSION_TTL", time.Hour),
		SessionSweepInterval: env.duration("SESSION_SWEEP_INTERVAL", time.Hour),
		SessionBackend:       strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       env.int("REDIS_DB", 0),
		},
		LoginRateLimit:  env.int("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: env.duration("LOGIN_RATE_WINDOW", time.Minute),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}

	switch cfg.DB.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return Config{}, fmt.Errorf("DB_DRIVER %q: %w", cfg.DB.Driver, errUnknownDriver)
	}
	if cfg.DB.Port == "" {
		cfg.DB.Port = defaultDBPort(cfg.DB.Driver)
	}

	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT must not be empty")
	}
	if cfg.Admin.Username == "" {
		return Config{}, fmt.Errorf("ADMIN_USERNAME must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if cfg.SessionBackend != "memory" && cfg.SessionBackend != "redis" {
		return Config{}, fmt.Errorf("SESSION_BACKEND must be memory or redis, got %q", cfg.SessionBackend)
	}
	if cfg.LoginRateLimit < 0 {
		return Config{}, fmt.Errorf("LOGIN_RATE_LIMIT must be >= 0")
	}
	if cfg.LoginRateLimit > 0 && cfg.LoginRateWindow <= 0 {
		return Config{}, fmt.Errorf("LOGIN_RATE_WINDOW must be > 0")
	}

	return cfg, nil
}

func defaultDBPort(driver string) string {
	switch driver {
	case "mysql":
		return "3306"
	case "postgres":
		return "5432"
	}
	return ""
}

// String renders the configuration for the startup log with secrets masked.
func (c Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port=%s log_level=%s static_dir=%s ", c.Port, c.LogLevel, c.StaticDir)
	fmt.Fprintf(&sb, "db_driver=%s ", c.DB.Driver)
	if c.DB.Driver == "sqlite" {
		fmt.Fprintf(&sb, "db_path=%s ", c.DB.Path)
	} else {
		fmt.Fprintf(&sb, "db_host=%s:%s db_name=%s db_user=%s db_password=%s ",
			c.DB.Host, c.DB.Port, c.DB.Name, c.DB.User, maskValue(c.DB.Password))
	}
	fmt.Fprintf(&sb, "admin_username=%s admin_password_hash=%s ", c.Admin.Username, maskValue(c.Admin.PasswordHash))
	fmt.Fprintf(&sb, "session_backend=%s session_ttl=%s sweep_interval=%s",
		c.SessionBackend, c.SessionTTL, c.SessionSweepInterval)
	if c.SessionBackend == "redis" {
		fmt.Fprintf(&sb, " redis_addr=%s redis_password=%s", c.Redis.Addr, maskValue(c.Redis.Password))
	}
	return sb.String()
}

func maskValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 3 {
		return strings.Repeat("*", 7)
	}
	return value[:3] + strings.Repeat("*", 7)
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

// envReader parses typed variables and records every malformed one.
type envReader struct {
	errs []error
}

func (e *envReader) int(key string, fallback int) int {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, val))
		return fallback
	}
	return n
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q (use a unit, e.g. 30m)", key, val))
		return fallback
	}
	return d
}

func (e *envReader) bool(key string, fallback bool) bool {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, val))
		return fallback
	}
	return b
}

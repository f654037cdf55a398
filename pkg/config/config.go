package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Billing  BillingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// URL renders the connection settings as a postgres:// URL for tooling that
// does not accept keyword/value DSNs.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BillingConfig tunes the billing engine and its scheduled jobs.
type BillingConfig struct {
	Timezone          string
	SchedulerEnabled  bool
	ProcessInterval   time.Duration
	ReconcileInterval time.Duration
	Concurrency       int
	BatchLimit        int
	LockTTL           time.Duration
	UpcomingCacheTTL  time.Duration
	PlanCacheTTL      time.Duration
	Workers           int
	JobRetries        int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Billing = BillingConfig{
		Timezone:          v.GetString("BILLING_TIMEZONE"),
		SchedulerEnabled:  v.GetBool("BILLING_SCHEDULER_ENABLED"),
		ProcessInterval:   parseDuration(v.GetString("BILLING_PROCESS_INTERVAL"), 24*time.Hour),
		ReconcileInterval: parseDuration(v.GetString("BILLING_RECONCILE_INTERVAL"), time.Hour),
		Concurrency:       positiveOr(v.GetInt("BILLING_CONCURRENCY"), 1),
		BatchLimit:        v.GetInt("BILLING_BATCH_LIMIT"),
		LockTTL:           parseDuration(v.GetString("BILLING_LOCK_TTL"), 30*time.Minute),
		UpcomingCacheTTL:  parseDuration(v.GetString("BILLING_UPCOMING_CACHE_TTL"), 5*time.Minute),
		PlanCacheTTL:      parseDuration(v.GetString("BILLING_PLAN_CACHE_TTL"), 10*time.Minute),
		Workers:           positiveOr(v.GetInt("BILLING_WORKERS"), 1),
		JobRetries:        positiveOr(v.GetInt("BILLING_JOB_RETRIES"), 3),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "academia")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("BILLING_SCHEDULER_ENABLED", false)
	v.SetDefault("BILLING_PROCESS_INTERVAL", "24h")
	v.SetDefault("BILLING_RECONCILE_INTERVAL", "1h")
	v.SetDefault("BILLING_CONCURRENCY", 1)
	v.SetDefault("BILLING_BATCH_LIMIT", 0)
	v.SetDefault("BILLING_LOCK_TTL", "30m")
	v.SetDefault("BILLING_UPCOMING_CACHE_TTL", "5m")
	v.SetDefault("BILLING_PLAN_CACHE_TTL", "10m")
	v.SetDefault("BILLING_WORKERS", 1)
	v.SetDefault("BILLING_JOB_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

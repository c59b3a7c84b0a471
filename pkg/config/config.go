package config

import (
	"errors"
	"strconv"
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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Recurrence RecurrenceConfig
	Paths      PathsConfig
	Notify     NotifyConfig
	Indexer    IndexerConfig
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

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RecurrenceConfig bounds recurrence expansion. TierMaxInstances optionally
// overrides MaxInstances per authorization tier name.
type RecurrenceConfig struct {
	MaxYears         int
	MaxInstances     int
	TierMaxInstances map[string]int
}

// InstancesForTier returns the instance cap for an authorization tier.
func (r RecurrenceConfig) InstancesForTier(tier string) int {
	if n, ok := r.TierMaxInstances[tier]; ok && n > 0 {
		return n
	}
	return r.MaxInstances
}

// PathsConfig carries the reserved collection names of the hierarchy.
type PathsConfig struct {
	InboxName           string
	OutboxName          string
	NotificationsName   string
	DefaultCalendarName string
}

// Reserved reports whether a collection name is reserved.
func (p PathsConfig) Reserved(name string) bool {
	switch name {
	case p.InboxName, p.OutboxName, p.NotificationsName:
		return true
	}
	return false
}

// NotifyConfig tunes the notification dispatch queue.
type NotifyConfig struct {
	Workers    int
	BufferSize int
}

// IndexerConfig toggles the redis-backed entity indexer.
type IndexerConfig struct {
	Enabled   bool
	KeyPrefix string
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
		if !errors.As(err, &notFound) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Recurrence = RecurrenceConfig{
		MaxYears:         v.GetInt("RECURRENCE_MAX_YEARS"),
		MaxInstances:     v.GetInt("RECURRENCE_MAX_INSTANCES"),
		TierMaxInstances: parseTierLimits(v.GetString("RECURRENCE_TIER_MAX_INSTANCES")),
	}

	cfg.Paths = PathsConfig{
		InboxName:           v.GetString("PATH_INBOX_NAME"),
		OutboxName:          v.GetString("PATH_OUTBOX_NAME"),
		NotificationsName:   v.GetString("PATH_NOTIFICATIONS_NAME"),
		DefaultCalendarName: v.GetString("PATH_DEFAULT_CALENDAR_NAME"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER_SIZE"),
	}

	cfg.Indexer = IndexerConfig{
		Enabled:   v.GetBool("ENABLE_INDEXER"),
		KeyPrefix: v.GetString("INDEXER_KEY_PREFIX"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/admin/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "calcore")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RECURRENCE_MAX_YEARS", 5)
	v.SetDefault("RECURRENCE_MAX_INSTANCES", 1000)
	v.SetDefault("RECURRENCE_TIER_MAX_INSTANCES", "")

	v.SetDefault("PATH_INBOX_NAME", "inbox")
	v.SetDefault("PATH_OUTBOX_NAME", "outbox")
	v.SetDefault("PATH_NOTIFICATIONS_NAME", "notifications")
	v.SetDefault("PATH_DEFAULT_CALENDAR_NAME", "calendar")

	v.SetDefault("NOTIFY_WORKERS", 1)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)

	v.SetDefault("ENABLE_INDEXER", false)
	v.SetDefault("INDEXER_KEY_PREFIX", "calcore")
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

// parseTierLimits reads "tier=limit,tier=limit" pairs.
func parseTierLimits(raw string) map[string]int {
	pairs := splitAndTrim(raw)
	if len(pairs) == 0 {
		return nil
	}
	limits := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || n <= 0 {
			continue
		}
		limits[strings.TrimSpace(kv[0])] = n
	}
	return limits
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig Postgres connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN builds the database connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig settings for the watch bridge broker
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config bridge service configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// Watch identifies the paired device; bridge topics are derived from it.
	Watch struct {
		ID string
	}

	// Connection manager tuning
	Connection struct {
		HealthCheckInterval time.Duration // liveness probe period while connected
		BackoffBase         time.Duration // first retry delay
		BackoffMax          time.Duration // retry delay ceiling
		MaxAttempts         int           // reconnect attempts before ERROR
		SendTimeout         time.Duration
	}

	// Location manager tuning
	Location struct {
		MaxAccuracyM           float64       // fixes worse than this are dropped
		MaxFixAge              time.Duration // fixes older than this are dropped
		PermissionPollInterval time.Duration
		CurrentLocationTimeout time.Duration
		Stream                 string // Redis stream carrying OS fixes
		PermissionKey          string // Redis key holding permission status
	}

	// Session lifecycle tuning
	Session struct {
		MinPauseDwell time.Duration // minimum time in ACTIVE before a pause is allowed
		TickInterval  time.Duration // periodic TIME/aggregate recompute
	}

	// Adaptive sampling thresholds and intervals
	Sampling struct {
		BatteryKey          string // Redis key holding battery percentage
		BatteryPollInterval time.Duration
		EmergencyMultiplier int // interval widening factor at EMERGENCY level
	}

	// Realtime cache for app shells
	Cache struct {
		RealtimeKeyPrefix string // e.g. "pebblerun:session:"
		RealtimeSuffix    string // e.g. ":realtime"
		RealtimeTTL       int    // seconds
	}

	// Cloud persistence backend (optional)
	Cloud struct {
		Enabled bool
		BaseURL string
		APIKey  string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "pebblerun")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "pebblerun-bridge")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Watch.ID = getEnv("WATCH_ID", "default")

	cfg.Connection.HealthCheckInterval = getEnvDuration("CONN_HEALTH_INTERVAL", 10*time.Second)
	cfg.Connection.BackoffBase = getEnvDuration("CONN_BACKOFF_BASE", time.Second)
	cfg.Connection.BackoffMax = getEnvDuration("CONN_BACKOFF_MAX", 30*time.Second)
	cfg.Connection.MaxAttempts = getEnvInt("CONN_MAX_ATTEMPTS", 5)
	cfg.Connection.SendTimeout = getEnvDuration("CONN_SEND_TIMEOUT", 5*time.Second)

	cfg.Location.MaxAccuracyM = 50
	cfg.Location.MaxFixAge = 10 * time.Second
	cfg.Location.PermissionPollInterval = getEnvDuration("LOCATION_PERMISSION_POLL", 5*time.Second)
	cfg.Location.CurrentLocationTimeout = getEnvDuration("LOCATION_FIX_TIMEOUT", 15*time.Second)
	cfg.Location.Stream = getEnv("LOCATION_STREAM", "pebblerun:location:stream")
	cfg.Location.PermissionKey = getEnv("LOCATION_PERMISSION_KEY", "pebblerun:location:permission")

	cfg.Session.MinPauseDwell = getEnvDuration("SESSION_MIN_PAUSE_DWELL", 10*time.Second)
	cfg.Session.TickInterval = getEnvDuration("SESSION_TICK_INTERVAL", time.Second)

	cfg.Sampling.BatteryKey = getEnv("BATTERY_KEY", "pebblerun:battery")
	cfg.Sampling.BatteryPollInterval = getEnvDuration("BATTERY_POLL_INTERVAL", 30*time.Second)
	cfg.Sampling.EmergencyMultiplier = 3

	cfg.Cache.RealtimeKeyPrefix = getEnv("CACHE_REALTIME_PREFIX", "pebblerun:session:")
	cfg.Cache.RealtimeSuffix = ":realtime"
	cfg.Cache.RealtimeTTL = 30

	cfg.Cloud.Enabled = getEnv("CLOUD_ENABLED", "false") == "true"
	cfg.Cloud.BaseURL = getEnv("CLOUD_BASE_URL", "")
	cfg.Cloud.APIKey = getEnv("CLOUD_API_KEY", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

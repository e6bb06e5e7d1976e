package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Kafka    KafkaConfig
	Fare     FareConfig
	Ride     RideConfig
	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // Bound on one service call
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string // Pub/sub channel shared by every instance
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// KafkaConfig holds the ride event stream configuration. No brokers
// disables the stream.
type KafkaConfig struct {
	Brokers   []string
	RideTopic string
}

// FareConfig holds pricing parameters.
type FareConfig struct {
	RatePerKm       float64
	PoolingFactor   float64
	SoloDiscount    float64
	DefaultBaseFare float64
}

// RideConfig holds ride state machine settings.
type RideConfig struct {
	MaxAttempts   int
	MaxPassengers int
	LockEnabled   bool
	LockTTL       time.Duration
	LockWait      time.Duration

	// BroadcastTimeout bounds each realtime delivery made after a change.
	BroadcastTimeout time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			RequestTimeout: getDurationEnv("SERVER_REQUEST_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "splitride"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getIntEnv("REDIS_DB", 0),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "splitride:events"),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "splitride"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:   getListEnv("KAFKA_BROKERS", nil),
			RideTopic: getEnv("KAFKA_RIDE_TOPIC", "ride-events"),
		},
		Fare: FareConfig{
			RatePerKm:       getFloatEnv("FARE_RATE_PER_KM", 15),
			PoolingFactor:   getFloatEnv("FARE_POOLING_FACTOR", 0.7),
			SoloDiscount:    getFloatEnv("FARE_SOLO_DISCOUNT", 0.95),
			DefaultBaseFare: getFloatEnv("FARE_DEFAULT_BASE", 50),
		},
		Ride: RideConfig{
			MaxAttempts:   getIntEnv("RIDE_MAX_ATTEMPTS", 3),
			MaxPassengers: getIntEnv("RIDE_MAX_PASSENGERS", 3),
			LockEnabled:   getBoolEnv("RIDE_LOCK_ENABLED", true),
			LockTTL:       getDurationEnv("RIDE_LOCK_TTL", 5*time.Second),
			LockWait:      getDurationEnv("RIDE_LOCK_WAIT", 2*time.Second),

			BroadcastTimeout: getDurationEnv("RIDE_BROADCAST_TIMEOUT", 2*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

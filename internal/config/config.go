package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Admin HTTP
	AdminPort    string
	AdminAPIKeys []string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Transport
	Transport     string
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTQoS       int
	NATSURL       string

	// Alert export
	KafkaBrokers    []string
	KafkaAlertTopic string

	// Dispatcher
	WorkerCount     int
	WorkerQueueSize int
	EnqueueTimeout  time.Duration
	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Lookups
	RegistryCacheTTL time.Duration

	RulesFile string
}

// Load reads .env when present and builds the config from the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	return &Config{
		AdminPort:        getEnv("ADMIN_PORT", "8001"),
		AdminAPIKeys:     splitCSV(getEnv("ADMIN_API_KEYS", "")),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "dogsense"),
		DBPassword:       getEnv("DB_PASSWORD", "dogsense"),
		DBName:           getEnv("DB_NAME", "dogsense"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
		DBMaxConns:       int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		Transport:        strings.ToLower(getEnv("TRANSPORT", "mqtt")),
		MQTTBrokerURL:    getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "dogsense-ingestion"),
		MQTTQoS:          getEnvInt("MQTT_QOS", 1),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaAlertTopic:  getEnv("KAFKA_ALERT_TOPIC", "dogsense-alerts"),
		WorkerCount:      getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 256),
		EnqueueTimeout:   getEnvDuration("ENQUEUE_TIMEOUT_MS", 2000, time.Millisecond),
		HandlerTimeout:   getEnvDuration("HANDLER_TIMEOUT_SECONDS", 10, time.Second),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT_SECONDS", 30, time.Second),
		RegistryCacheTTL: getEnvDuration("REGISTRY_CACHE_TTL_SECONDS", 30, time.Second),
		RulesFile:        getEnv("RULES_FILE", ""),
	}
}

// DatabaseURL is the pgx connection string for the configured database.
func (c *Config) DatabaseURL() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration reads a whole number of units, or a Go duration string such
// as "1500ms".
func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * unit
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * unit
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return time.Duration(fallback) * unit
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := []string{}
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

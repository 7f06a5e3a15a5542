package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string

	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxRequestBody  int64

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	Currency   string
	OTelStdout bool
}

// Load reads the environment, after loading a .env file when one exists.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("APP_ENV", "dev"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "checkout-outbox"),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "cart-service-consumer"),
		Currency:      strings.ToUpper(getEnv("CURRENCY", "USD")),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getSeconds("CACHE_TTL_SECONDS", 900); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getSeconds("REQUEST_TIMEOUT_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10); err != nil {
		return nil, err
	}
	body, err := getInt("MAX_REQUEST_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxRequestBody = int64(body)
	if cfg.OTelStdout, err = getBool("OTEL_STDOUT", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getSeconds(key string, defaultValue int) (time.Duration, error) {
	v, err := getInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(v) * time.Second, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

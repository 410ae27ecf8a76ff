package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	OTLPProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RoleCacheTTL  time.Duration

	FieldWriteRate  float64
	FieldWriteBurst int

	LedgerPolicyPath string

	SchedulerEnabled        bool
	StatusIntegrityInterval time.Duration
	StatusIntegrityTimeout  time.Duration

	MetricsPushExporter string
	MetricsPushEndpoint string
	MetricsPushToken    string
	MetricsPushInterval time.Duration

	SnowflakeNode int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:                 getenv("APP_SERVICE", "pavetrack"),
		AppVersion:              getenv("APP_VERSION", "0.1.0"),
		Environment:             getenv("ENVIRONMENT", "development"),
		HTTPAddr:                getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:            getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:            strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		DBType:                  getenv("DATABASE_TYPE", "postgres"),
		DBHost:                  getenv("DATABASE_HOST", "localhost"),
		DBPort:                  getenv("DATABASE_PORT", "5432"),
		DBName:                  getenv("DATABASE_NAME", "pavetrack"),
		DBUser:                  getenv("DATABASE_USER", "postgres"),
		DBPassword:              getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:               getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:           getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:           getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:       getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:       getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:           getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:               strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:           getenv("REDIS_PASSWORD", ""),
		RedisDB:                 getenvInt("REDIS_DB", 0),
		RoleCacheTTL:            time.Duration(getenvInt64("ROLE_CACHE_TTL_SECONDS", 300)) * time.Second,
		FieldWriteRate:          getenvFloat("FIELD_WRITE_RATE_PER_SECOND", 2),
		FieldWriteBurst:         getenvInt("FIELD_WRITE_BURST", 20),
		LedgerPolicyPath:        getenv("LEDGER_POLICY_PATH", "config/ledger.yml"),
		SchedulerEnabled:        getenvBool("SCHEDULER_ENABLED", true),
		StatusIntegrityInterval: time.Duration(getenvInt64("STATUS_INTEGRITY_INTERVAL_SECONDS", 900)) * time.Second,
		StatusIntegrityTimeout:  time.Duration(getenvInt64("STATUS_INTEGRITY_TIMEOUT_SECONDS", 120)) * time.Second,
		MetricsPushExporter:     strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
		MetricsPushEndpoint:     strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
		MetricsPushToken:        getenv("METRICS_PUSH_TOKEN", ""),
		MetricsPushInterval:     time.Duration(getenvInt64("METRICS_PUSH_INTERVAL_SECONDS", 60)) * time.Second,
		SnowflakeNode:           getenvInt64("SNOWFLAKE_NODE", 1),
	}
}

// IsProduction reports whether the service runs with production defaults.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

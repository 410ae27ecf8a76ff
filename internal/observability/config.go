package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/pavetrack/internal/config"
)

const defaultServiceName = "pavetrack"

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	return loadConfig(cfg, os.LookupEnv)
}

// env reads trimmed overrides, falling back to values from the app config.
type env func(key string) (string, bool)

func (e env) str(key, def string) string {
	if value, ok := e(key); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return strings.TrimSpace(def)
}

func (e env) lower(key, def string) string {
	return strings.ToLower(e.str(key, def))
}

func (e env) boolean(key string, def bool) bool {
	switch e.lower(key, "") {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// ratio accepts values in [0, 1] only.
func (e env) ratio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}

func loadConfig(cfg config.Config, lookup env) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	protocol := lookup.lower("OTEL_EXPORTER_OTLP_PROTOCOL", cfg.OTLPProtocol)
	protocol = lookup.lower("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", protocol)

	return Config{
		ServiceName:          serviceName,
		Environment:          lookup.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:              lookup.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             lookup.lower("LOG_LEVEL", "info"),
		LogFormat:            lookup.lower("LOG_FORMAT", "json"),
		OtelEnabled:          lookup.boolean("OTEL_ENABLED", cfg.IsProduction()),
		OtelExporterEndpoint: lookup.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    lookup.ratio("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug enables stack traces on request errors.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

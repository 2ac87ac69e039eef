package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// CloudPayments holds the gateway integration settings.
type CloudPayments struct {
	PublicID        string   `validate:"required"`
	APIKey          string   `validate:"required"`
	ValidateRequest bool
	AllowedIPs      []string `validate:"omitempty,dive,cidr|ip"`
	StrictDecoding  bool
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	LogFormat            string `validate:"oneof=json console text"`
	LogLevel             string
	EnablePrometheus     bool
	MetricsNamespace     string
	EnableTracing        bool
	OTLPEndpoint         string  `validate:"omitempty,url"`
	TracingSamplingRatio float64 `validate:"gte=0,lte=1"`

	CloudPayments       CloudPayments
	WebhookMaxBodyBytes int64 `validate:"gt=0"`
	TrustProxyHeaders   bool

	RedisURL string `validate:"omitempty,url"`
	DedupTTL time.Duration

	DatabaseURL         string `validate:"omitempty,url"`
	DatabaseAutoMigrate bool

	TaskQueueEnabled  bool
	TaskQueueName     string
	TaskQueueMaxRetry int `validate:"gte=0"`
	WorkerConcurrency int `validate:"gt=0"`

	ForwardURL                 string `validate:"omitempty,url"`
	ForwardSecret              string `validate:"required_with=ForwardURL"`
	ForwardTimeout             time.Duration
	ForwardBreakerMinRequests  int
	ForwardBreakerFailureRatio float64 `validate:"gte=0,lte=1"`
	ForwardBreakerOpenFor      time.Duration

	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`

	CORSAllowedOrigins []string
	WidgetRateLimit    string
	WidgetScriptURL    string `validate:"url"`
}

var validate = validator.New()

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(nil)
}

// LoadForTests reads the environment with overrides applied on top.
func LoadForTests(overrides map[string]string) (*Config, error) {
	return load(overrides)
}

func load(overrides map[string]string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),

		LogFormat:            strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		EnablePrometheus:     parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "cpw"),
		EnableTracing:        parseBool(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),

		CloudPayments: CloudPayments{
			PublicID:        strings.TrimSpace(k.String("CLOUDPAYMENTS_PUBLIC_ID")),
			APIKey:          strings.TrimSpace(k.String("CLOUDPAYMENTS_API_KEY")),
			ValidateRequest: parseBool(k.String("CLOUDPAYMENTS_VALIDATE_REQUEST"), true),
			AllowedIPs:      splitAndTrim(k.String("CLOUDPAYMENTS_ALLOWED_IPS")),
			StrictDecoding:  parseBool(k.String("CLOUDPAYMENTS_STRICT_DECODING"), true),
		},
		WebhookMaxBodyBytes: parseInt64(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20),
		TrustProxyHeaders:   parseBool(k.String("TRUST_PROXY_HEADERS"), false),

		RedisURL: strings.TrimSpace(k.String("REDIS_URL")),
		DedupTTL: parseDuration(k.String("DEDUP_TTL"), "72h"),

		DatabaseURL:         strings.TrimSpace(k.String("DATABASE_URL")),
		DatabaseAutoMigrate: parseBool(k.String("DATABASE_AUTO_MIGRATE"), true),

		TaskQueueEnabled:  parseBool(k.String("TASKQUEUE_ENABLED"), false),
		TaskQueueName:     valueOrDefault(k.String("TASKQUEUE_NAME"), "payments"),
		TaskQueueMaxRetry: int(parseInt64(k.String("TASKQUEUE_MAX_RETRY"), 25)),
		WorkerConcurrency: int(parseInt64(k.String("WORKER_CONCURRENCY"), 10)),

		ForwardURL:                 strings.TrimSpace(k.String("FORWARD_URL")),
		ForwardSecret:              k.String("FORWARD_SECRET"),
		ForwardTimeout:             parseDuration(k.String("FORWARD_TIMEOUT"), "5s"),
		ForwardBreakerMinRequests:  int(parseInt64(k.String("FORWARD_BREAKER_MIN_REQUESTS"), 5)),
		ForwardBreakerFailureRatio: parseFloat(k.String("FORWARD_BREAKER_FAILURE_RATIO"), 0.5),
		ForwardBreakerOpenFor:      parseDuration(k.String("FORWARD_BREAKER_OPEN_FOR"), "30s"),

		KafkaBrokers: splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:   strings.TrimSpace(k.String("KAFKA_TOPIC")),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		WidgetRateLimit:    valueOrDefault(k.String("WIDGET_RATE_LIMIT"), "60-M"),
		WidgetScriptURL:    valueOrDefault(k.String("WIDGET_SCRIPT_URL"), "https://widget.cloudpayments.ru/bundles/cloudpayments.js"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.TaskQueueEnabled && cfg.RedisURL == "" {
		return nil, errors.New("TASKQUEUE_ENABLED requires REDIS_URL")
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(valueOrDefault(value, fallback))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

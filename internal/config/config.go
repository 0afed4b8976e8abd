package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	CartStore   string
	CartTTL     time.Duration
	CartLockTTL time.Duration

	TaxRate      decimal.Decimal
	CurrencyCode string

	OrderBackend      string
	RemoteAPIBaseURL  string
	RemoteAPIToken    string
	PaymentProvider   string
	MidtransServerKey string
	MidtransBaseURL   string
	PaymentSandbox    bool
	XenditSecretKey   string
	XenditBaseURL     string

	Checkout   CheckoutConfig
	Resilience ResilienceConfig

	IdempotencyTTL    time.Duration
	RateLimitCheckout string
	RateLimitAPI      string
	ReconcileMaxRetry int
	WorkerConcurrency int
	WorkerMetricsAddr string

	Obs ObsConfig
}

// CheckoutConfig bounds each collaborator call made by the orchestrator.
type CheckoutConfig struct {
	OrderTimeout   time.Duration
	SessionTimeout time.Duration
	VerifyTimeout  time.Duration
	PendingTTL     time.Duration
}

// ResilienceConfig tunes retries and the circuit breaker for remote calls.
type ResilienceConfig struct {
	MaxAttempts  int
	RetryBase    time.Duration
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	HTTPBuckets      []float64
	EnableTracing    bool
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	taxRate, err := decimal.NewFromString(valueOrDefault(k.String("PRICING_TAX_RATE"), "0.18"))
	if err != nil || taxRate.IsNegative() {
		return nil, fmt.Errorf("PRICING_TAX_RATE must be a non-negative decimal")
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CartStore:          strings.ToLower(valueOrDefault(k.String("CART_STORE"), "redis")),
		CartTTL:            parseDuration(k.String("CART_TTL"), "720h"),
		CartLockTTL:        parseDuration(k.String("CART_LOCK_TTL"), "5s"),
		TaxRate:            taxRate,
		CurrencyCode:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		OrderBackend:       strings.ToLower(valueOrDefault(k.String("ORDER_BACKEND"), "postgres")),
		RemoteAPIBaseURL:   strings.TrimRight(strings.TrimSpace(k.String("REMOTE_API_BASE_URL")), "/"),
		RemoteAPIToken:     k.String("REMOTE_API_TOKEN"),
		PaymentProvider:    strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "midtrans")),
		MidtransServerKey:  k.String("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:    strings.TrimSpace(k.String("MIDTRANS_BASE_URL")),
		PaymentSandbox:     parseBool(valueOrDefault(k.String("PAYMENT_SANDBOX"), "true")),
		XenditSecretKey:    k.String("XENDIT_SECRET_KEY"),
		XenditBaseURL:      strings.TrimSpace(k.String("XENDIT_BASE_URL")),
		Checkout: CheckoutConfig{
			OrderTimeout:   parseDuration(k.String("CHECKOUT_ORDER_TIMEOUT"), "10s"),
			SessionTimeout: parseDuration(k.String("CHECKOUT_SESSION_TIMEOUT"), "10s"),
			VerifyTimeout:  parseDuration(k.String("CHECKOUT_VERIFY_TIMEOUT"), "10s"),
			PendingTTL:     parseDuration(k.String("CHECKOUT_PENDING_TTL"), "30m"),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:  parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
			RetryBase:    parseDuration(k.String("RETRY_BASE"), "200ms"),
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitCheckout: valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "10-M"),
		RateLimitAPI:      valueOrDefault(k.String("RATE_LIMIT_API"), "300-M"),
		ReconcileMaxRetry: parseInt(k.String("RECONCILE_MAX_RETRY"), 10),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		WorkerMetricsAddr: valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
			HTTPBuckets:      parseBuckets(k.String("OBS_HTTP_BUCKETS_MS")),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TraceSampleRatio: parseFloat(k.String("OBS_TRACE_SAMPLE_RATIO"), 1),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisURL == "" && c.CartStore == "redis" {
		return errors.New("REDIS_URL is required when CART_STORE=redis")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.CartStore {
	case "redis", "memory":
	default:
		return fmt.Errorf("CART_STORE must be redis or memory, got %q", c.CartStore)
	}
	switch c.OrderBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when ORDER_BACKEND=postgres")
		}
	case "http":
		if c.RemoteAPIBaseURL == "" {
			return errors.New("REMOTE_API_BASE_URL is required when ORDER_BACKEND=http")
		}
	default:
		return fmt.Errorf("ORDER_BACKEND must be postgres or http, got %q", c.OrderBackend)
	}
	switch c.PaymentProvider {
	case "midtrans", "xendit":
	case "http":
		if c.RemoteAPIBaseURL == "" {
			return errors.New("REMOTE_API_BASE_URL is required when PAYMENT_PROVIDER=http")
		}
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be midtrans, xendit or http, got %q", c.PaymentProvider)
	}
	return nil
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

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
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
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
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

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func parseBuckets(value string) []float64 {
	out := make([]float64, 0)
	for _, part := range splitAndTrim(value) {
		if f, err := strconv.ParseFloat(part, 64); err == nil && f > 0 {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	}
	return out
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests applies env overrides for the duration of a Load call and
// restores the previous values afterwards.
func LoadForTests(overrides map[string]string) (*Config, error) {
	original := make(map[string]string, len(overrides))
	for key, value := range overrides {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []error
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

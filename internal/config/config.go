package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName  string
	Environment  string
	HTTP         HTTPConfig
	Tokenization TokenizationConfig
	Checkout     CheckoutConfig
	Kafka        KafkaConfig
	Email        EmailConfig
	Authz        AuthzConfig
	Telemetry    TelemetryConfig
}

type HTTPConfig struct {
	Addr               string
	RateLimitPerMinute int
	RateLimitBurst     int
	ShutdownTimeout    time.Duration
}

// TokenizationConfig points at the external card tokenization service.
// The client refuses every call when APIKey or BaseURL is empty.
type TokenizationConfig struct {
	BaseURL string
	APIKey  string
	Mode    string
	Timeout time.Duration
}

type CheckoutConfig struct {
	ExecutionTimeout  time.Duration
	NarrationInterval time.Duration
	DefaultMerchant   string
	Currency          string
	ConfidenceScore   float64
}

// KafkaConfig is optional: with no brokers the status events are not published.
type KafkaConfig struct {
	Brokers        []string
	PurchasesTopic string
	NotifierGroup  string
}

// EmailConfig drives the notifier. With no SMTP host, emails are logged.
type EmailConfig struct {
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPassword  string
	From          string
	DemoRecipient string
}

// AuthzConfig points at OpenFGA. Both fields empty means every check is allowed.
type AuthzConfig struct {
	APIURL  string
	StoreID string
}

type TelemetryConfig struct {
	TracesEndpoint string
}

const (
	ModeSandbox = "sandbox"
	ModeLive    = "live"
)

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "agent-checkout"),
		Environment: getEnv("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":8001"),
		},
		Tokenization: TokenizationConfig{
			BaseURL: strings.TrimRight(getEnv("TOKENIZATION_BASE_URL", "http://localhost:8080"), "/"),
			APIKey:  os.Getenv("TOKENIZATION_API_KEY"),
			Mode:    strings.ToLower(getEnv("TOKENIZATION_MODE", ModeSandbox)),
		},
		Checkout: CheckoutConfig{
			DefaultMerchant: getEnv("CHECKOUT_DEFAULT_MERCHANT", "Online Store"),
			Currency:        strings.ToUpper(getEnv("CHECKOUT_CURRENCY", "USD")),
		},
		Kafka: KafkaConfig{
			Brokers:        splitAndTrim(os.Getenv("KAFKA_BROKERS")),
			PurchasesTopic: getEnv("KAFKA_PURCHASES_TOPIC", "purchases.v1"),
			NotifierGroup:  getEnv("KAFKA_NOTIFIER_GROUP_ID", "purchase-notifiers"),
		},
		Email: EmailConfig{
			SMTPHost:      os.Getenv("SMTP_HOST"),
			SMTPPort:      getEnv("SMTP_PORT", "1025"),
			SMTPUser:      os.Getenv("SMTP_USER"),
			SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
			From:          getEnv("SMTP_FROM", "no-reply@example.local"),
			DemoRecipient: getEnv("DEMO_TO_EMAIL", "test@example.local"),
		},
		Authz: AuthzConfig{
			APIURL:  strings.TrimRight(os.Getenv("OPENFGA_API_URL"), "/"),
			StoreID: os.Getenv("OPENFGA_STORE_ID"),
		},
		Telemetry: TelemetryConfig{
			TracesEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"),
		},
	}

	if cfg.Tokenization.Mode != ModeSandbox && cfg.Tokenization.Mode != ModeLive {
		return Config{}, fmt.Errorf("parse TOKENIZATION_MODE: unknown mode %q", cfg.Tokenization.Mode)
	}

	var err error
	if cfg.HTTP.RateLimitPerMinute, err = getInt("HTTP_RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.RateLimitBurst, err = getInt("HTTP_RATE_LIMIT_BURST", 30); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ShutdownTimeout, err = getDuration("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Tokenization.Timeout, err = getDuration("TOKENIZATION_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.ExecutionTimeout, err = getDuration("CHECKOUT_EXECUTION_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.NarrationInterval, err = getDuration("CHECKOUT_NARRATION_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}

	score, err := strconv.ParseFloat(getEnv("CHECKOUT_CONFIDENCE_SCORE", "0.9"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("parse CHECKOUT_CONFIDENCE_SCORE: %w", err)
	}
	if score < 0 || score > 1 {
		return Config{}, fmt.Errorf("parse CHECKOUT_CONFIDENCE_SCORE: %v outside [0,1]", score)
	}
	cfg.Checkout.ConfidenceScore = score

	return cfg, nil
}

// Configured reports whether the tokenization client has what it needs to call out.
func (c TokenizationConfig) Configured() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

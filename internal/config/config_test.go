package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKENIZATION_API_KEY", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SMTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "agent-checkout", cfg.ServiceName)
	assert.Equal(t, ":8001", cfg.HTTP.Addr)
	assert.Equal(t, ModeSandbox, cfg.Tokenization.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Checkout.ExecutionTimeout)
	assert.Equal(t, time.Second, cfg.Checkout.NarrationInterval)
	assert.Equal(t, "USD", cfg.Checkout.Currency)
	assert.InDelta(t, 0.9, cfg.Checkout.ConfidenceScore, 1e-9)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Tokenization.Configured())
	assert.Equal(t, "1025", cfg.Email.SMTPPort)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOKENIZATION_BASE_URL", "https://tokens.example.test/")
	t.Setenv("TOKENIZATION_API_KEY", "sk_test")
	t.Setenv("TOKENIZATION_MODE", "LIVE")
	t.Setenv("CHECKOUT_EXECUTION_TIMEOUT", "45s")
	t.Setenv("CHECKOUT_NARRATION_INTERVAL", "0s")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092 ,")
	t.Setenv("OPENFGA_API_URL", "http://fga:8080/")
	t.Setenv("OPENFGA_STORE_ID", "store-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://tokens.example.test", cfg.Tokenization.BaseURL)
	assert.Equal(t, ModeLive, cfg.Tokenization.Mode)
	assert.True(t, cfg.Tokenization.Configured())
	assert.Equal(t, 45*time.Second, cfg.Checkout.ExecutionTimeout)
	assert.Zero(t, cfg.Checkout.NarrationInterval)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, AuthzConfig{APIURL: "http://fga:8080", StoreID: "store-1"}, cfg.Authz)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"TOKENIZATION_MODE":          "production",
		"CHECKOUT_EXECUTION_TIMEOUT": "soon",
		"CHECKOUT_CONFIDENCE_SCORE":  "1.5",
		"HTTP_RATE_LIMIT_BURST":      "many",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

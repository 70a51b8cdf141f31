package tokenization_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization/tokenizationtest"
)

func newClient(t *testing.T) (*tokenization.Client, *tokenizationtest.Server) {
	t.Helper()
	srv := tokenizationtest.NewServer()
	t.Cleanup(srv.Close)
	c := tokenization.New(config.TokenizationConfig{
		BaseURL: srv.URL,
		APIKey:  tokenizationtest.APIKey,
		Timeout: 5 * time.Second,
	}, nil)
	return c, srv
}

func request(key string) mandate.Request {
	return mandate.Build(mandate.Source{
		StoreID:      "store-1",
		MerchantName: "Hat Shop",
		CheckoutURL:  "https://shop.example.test/checkout",
		Items: []mandate.Item{
			{Name: "Hat", Quantity: 1, Price: decimal.RequireFromString("20.00")},
			{Name: "Scarf", Quantity: 1, Price: decimal.RequireFromString("22.50")},
		},
		Total: decimal.RequireFromString("42.50"),
	}, mandate.Options{Currency: "USD", ConfidenceScore: 0.9, NewKey: func() string { return key }})
}

func TestExchange(t *testing.T) {
	c, srv := newClient(t)

	cred, err := c.Exchange(context.Background(), "user-1", request("key-1"))
	require.NoError(t, err)
	assert.Equal(t, "4242424242424242", cred.CardNumber)
	assert.Equal(t, "12/34", cred.Expiry)
	assert.Equal(t, "4242", cred.Last4())
	assert.Equal(t, 1, srv.Calls("/api/v1/mandate/create"))
	assert.Equal(t, 1, srv.Calls("/api/v1/wallet/request_card_reveal_token"))
	assert.Equal(t, 1, srv.Calls("/api/v1/wallet/token"))
}

func TestCreateMandateSendsExactPrice(t *testing.T) {
	tests := []struct {
		price string
		want  string
	}{
		{"42.50", "42.5"},
		{"0.1", "0.1"},
		{"1234567.891234567891", "1234567.891234567891"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			c, srv := newClient(t)
			req := request("key-" + tt.price)
			req.Price = decimal.RequireFromString(tt.price)

			_, err := c.CreateMandate(context.Background(), "user-1", req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, srv.LastMandatePrice(), "price must be an unquoted decimal number")
		})
	}
}

func TestCreateMandateIsIdempotentPerKey(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	first, err := c.CreateMandate(ctx, "user-1", request("same-key"))
	require.NoError(t, err)
	second, err := c.CreateMandate(ctx, "user-1", request("same-key"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, srv.MandateCount())

	third, err := c.CreateMandate(ctx, "user-1", request("other-key"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 2, srv.MandateCount())
}

func TestStagesRejectMissingInputsBeforeIO(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	_, err := c.RequestRevealToken(ctx, tokenization.Mandate{UserID: "user-1"})
	require.ErrorIs(t, err, tokenization.ErrTokenRequest)
	assert.Equal(t, 0, srv.Calls("/api/v1/wallet/request_card_reveal_token"))

	_, err = c.RevealCredential(ctx, tokenization.RevealToken{UserID: "user-1"})
	require.ErrorIs(t, err, tokenization.ErrCredentialReveal)
	assert.Equal(t, 0, srv.Calls("/api/v1/wallet/token"))
}

func TestRevealTokenIsSingleUse(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	m, err := c.CreateMandate(ctx, "user-1", request("key-1"))
	require.NoError(t, err)
	token, err := c.RequestRevealToken(ctx, m)
	require.NoError(t, err)

	_, err = c.RevealCredential(ctx, token)
	require.NoError(t, err)

	_, err = c.RevealCredential(ctx, token)
	require.ErrorIs(t, err, tokenization.ErrCredentialReveal)
	var stageErr *tokenization.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, http.StatusGone, stageErr.StatusCode)
	assert.Contains(t, stageErr.Message, "already used")
}

func TestExchangeStopsAtFirstFailingStage(t *testing.T) {
	t.Run("empty mandate id", func(t *testing.T) {
		c, srv := newClient(t)
		srv.ReturnEmptyMandateID(true)

		_, err := c.Exchange(context.Background(), "user-1", request("key-1"))
		require.ErrorIs(t, err, tokenization.ErrMandateCreation)
		assert.NotErrorIs(t, err, tokenization.ErrTokenRequest)
		assert.Contains(t, err.Error(), "mandate creation")
		assert.Equal(t, 0, srv.Calls("/api/v1/wallet/request_card_reveal_token"))
	})

	t.Run("empty reveal token", func(t *testing.T) {
		c, srv := newClient(t)
		srv.ReturnEmptyToken(true)

		_, err := c.Exchange(context.Background(), "user-1", request("key-1"))
		require.ErrorIs(t, err, tokenization.ErrTokenRequest)
		assert.Equal(t, 0, srv.Calls("/api/v1/wallet/token"))
	})

	t.Run("upstream rejects reveal", func(t *testing.T) {
		c, srv := newClient(t)
		srv.FailPath("/api/v1/wallet/token", http.StatusServiceUnavailable)

		_, err := c.Exchange(context.Background(), "user-1", request("key-1"))
		require.ErrorIs(t, err, tokenization.ErrCredentialReveal)
		var stageErr *tokenization.StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, tokenization.StageCredentialReveal, stageErr.Stage)
		assert.Equal(t, http.StatusServiceUnavailable, stageErr.StatusCode)
		assert.Contains(t, stageErr.Message, "injected failure")
	})

	t.Run("bad api key", func(t *testing.T) {
		srv := tokenizationtest.NewServer()
		t.Cleanup(srv.Close)
		c := tokenization.New(config.TokenizationConfig{BaseURL: srv.URL, APIKey: "wrong", Timeout: time.Second}, nil)

		_, err := c.Exchange(context.Background(), "user-1", request("key-1"))
		require.ErrorIs(t, err, tokenization.ErrMandateCreation)
		assert.Contains(t, err.Error(), "invalid api key")
	})
}

func TestUnconfiguredClientShortCircuits(t *testing.T) {
	srv := tokenizationtest.NewServer()
	t.Cleanup(srv.Close)
	ctx := context.Background()

	for name, cfg := range map[string]config.TokenizationConfig{
		"no api key":  {BaseURL: srv.URL},
		"no base url": {APIKey: tokenizationtest.APIKey},
	} {
		t.Run(name, func(t *testing.T) {
			c := tokenization.New(cfg, nil)

			_, err := c.CreateMandate(ctx, "user-1", request("key-1"))
			assert.ErrorIs(t, err, tokenization.ErrNotConfigured)
			_, err = c.RequestRevealToken(ctx, tokenization.Mandate{ID: "1", UserID: "user-1"})
			assert.ErrorIs(t, err, tokenization.ErrNotConfigured)
			_, err = c.RevealCredential(ctx, tokenization.RevealToken{Token: "rvl_x", UserID: "user-1"})
			assert.ErrorIs(t, err, tokenization.ErrNotConfigured)
		})
	}
	assert.Equal(t, 0, srv.Calls("/api/v1/mandate/create"))
}

func TestTransportErrorIsStageError(t *testing.T) {
	srv := tokenizationtest.NewServer()
	url := srv.URL
	srv.Close()

	c := tokenization.New(config.TokenizationConfig{BaseURL: url, APIKey: tokenizationtest.APIKey, Timeout: time.Second}, nil)
	_, err := c.CreateMandate(context.Background(), "user-1", request("key-1"))
	require.ErrorIs(t, err, tokenization.ErrMandateCreation)
	var stageErr *tokenization.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Zero(t, stageErr.StatusCode)
}

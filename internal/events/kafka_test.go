package events

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

func TestStatusChangedRoundTrip(t *testing.T) {
	in := purchase.StatusChanged{
		PurchaseID: "p-1",
		UserID:     "user-1",
		Status:     purchase.StatusFailed,
		Message:    "Checkout failed: mandate creation failed: service returned no mandate id",
		Error:      "mandate creation failed: service returned no mandate id",
		Merchant:   "Hat Shop",
		Total:      decimal.RequireFromString("42.50"),
	}
	env, err := NewStatusChanged(in)
	require.NoError(t, err)
	assert.Equal(t, "p-1", env.AggregateID)
	assert.Equal(t, TypePurchaseStatusChanged, env.EventType)
	assert.False(t, env.OccurredAt.IsZero())

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"aggregateId":"p-1"`)

	out, ok, err := DecodeStatusChanged(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.Error, out.Error)
	assert.True(t, in.Total.Equal(out.Total))
}

func TestDecodeSkipsOtherEvents(t *testing.T) {
	_, ok, err := DecodeStatusChanged([]byte(`{"eventType":"OrderCreated","data":{}}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DecodeStatusChanged([]byte(`not json`))
	assert.Error(t, err)
}

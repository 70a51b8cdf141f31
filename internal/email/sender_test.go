package email

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

func TestRender(t *testing.T) {
	evt := purchase.StatusChanged{
		PurchaseID: "p-1",
		Merchant:   "Hat Shop",
		Total:      decimal.RequireFromString("42.5"),
		Status:     purchase.StatusCompleted,
	}
	subject, body, ok := Render(evt)
	assert.True(t, ok)
	assert.Equal(t, "Your purchase is complete", subject)
	assert.Contains(t, body, "p-1")
	assert.Contains(t, body, "USD 42.50")

	evt.Status = purchase.StatusFailed
	evt.Error = "card <declined>"
	_, body, ok = Render(evt)
	assert.True(t, ok)
	assert.Contains(t, body, "card &lt;declined&gt;")

	evt.Status = purchase.StatusProcessing
	_, _, ok = Render(evt)
	assert.False(t, ok)
}

func TestBuildRFC822(t *testing.T) {
	msg := string(buildRFC822("from@x", "to@x", "Hi", "<p>x</p>"))
	assert.True(t, strings.HasPrefix(msg, "From: from@x\r\nTo: to@x\r\nSubject: Hi\r\n"))
	assert.Contains(t, msg, "Content-Type: text/html")
}

func TestPick(t *testing.T) {
	assert.IsType(t, LogSender{}, Pick(config.EmailConfig{}, nil))
	assert.IsType(t, &SMTPSender{}, Pick(config.EmailConfig{SMTPHost: "localhost", SMTPPort: "1025"}, nil))
	assert.NoError(t, LogSender{}.Send("a@b", "s", "b"))
}

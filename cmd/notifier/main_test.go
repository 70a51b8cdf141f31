package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/events"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

type sent struct{ to, subject, body string }

type captureSender struct {
	mails []sent
	err   error
}

func (c *captureSender) Send(to, subject, htmlBody string) error {
	if c.err != nil {
		return c.err
	}
	c.mails = append(c.mails, sent{to, subject, htmlBody})
	return nil
}

// sliceReader replays messages, then reports the context error.
type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func message(t *testing.T, status purchase.Status) kafka.Message {
	t.Helper()
	env, err := events.NewStatusChanged(purchase.StatusChanged{
		PurchaseID: "p-1",
		UserID:     "user-1",
		Status:     status,
		Message:    "m",
		Merchant:   "Hat Shop",
		Total:      decimal.RequireFromString("42.5"),
	})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Key: []byte("p-1"), Value: b}
}

func TestConsumeEmailsTerminalStatusesOnly(t *testing.T) {
	sender := &captureSender{}
	n := &notifier{sender: sender, to: "buyer@example.test", log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	r := &sliceReader{cancel: cancel, msgs: []kafka.Message{
		message(t, purchase.StatusPending),
		{Value: []byte("not json")},
		{Value: []byte(`{"eventType":"SomethingElse","data":{}}`)},
		message(t, purchase.StatusProcessing),
		message(t, purchase.StatusCompleted),
	}}

	require.NoError(t, n.consume(ctx, r))
	require.Len(t, sender.mails, 1)
	assert.Equal(t, "buyer@example.test", sender.mails[0].to)
	assert.Equal(t, "Your purchase is complete", sender.mails[0].subject)
	assert.Contains(t, sender.mails[0].body, "42.50")
}

func TestConsumeSurvivesSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	n := &notifier{sender: sender, to: "x@example.test", log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	r := &sliceReader{cancel: cancel, msgs: []kafka.Message{message(t, purchase.StatusFailed)}}
	assert.NoError(t, n.consume(ctx, r))
}

type brokenReader struct{}

func (brokenReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("broker gone")
}

func TestConsumeReturnsReadErrors(t *testing.T) {
	n := &notifier{sender: &captureSender{}, log: zap.NewNop()}
	err := n.consume(context.Background(), brokenReader{})
	assert.ErrorContains(t, err, "broker gone")
}

func TestRunFailsWithoutBrokers(t *testing.T) {
	t.Setenv("OPENBAO_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	assert.Equal(t, 1, run())
}

func TestRunFailsOnBadConfig(t *testing.T) {
	t.Setenv("OPENBAO_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("CHECKOUT_CONFIDENCE_SCORE", "very sure")
	assert.Equal(t, 1, run())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	appconfig "github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/email"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/events"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/logger"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/secrets"
)

// notifier consumes purchase status events and emails the buyer when a
// purchase completes or fails.
func main() {
	_ = godotenv.Load()
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	vault, vaultErr := secrets.Load(context.Background())

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logger.New(cfg.Environment, "notifier")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if vaultErr != nil {
		log.Warn("openbao unavailable; using environment only", zap.Error(vaultErr))
	} else if len(vault.Applied) > 0 {
		log.Info("secrets loaded from openbao", zap.Strings("applied", vault.Applied))
	}

	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("KAFKA_BROKERS not set")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.PurchasesTopic, cfg.Kafka.NotifierGroup)
	defer func() {
		if err := reader.Close(); err != nil {
			log.Warn("close reader", zap.Error(err))
		}
	}()

	n := &notifier{
		sender: email.Pick(cfg.Email, log),
		to:     cfg.Email.DemoRecipient,
		log:    log.Named("notifier"),
	}
	log.Info("consuming",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.PurchasesTopic),
		zap.String("group", cfg.Kafka.NotifierGroup))

	if err := n.consume(ctx, reader); err != nil {
		log.Error("consumer stopped", zap.Error(err))
		return 1
	}
	return 0
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// notifier sends every email to one configured recipient; buyers have no
// stored address yet.
type notifier struct {
	sender email.Sender
	to     string
	log    *zap.Logger
}

// consume reads until ctx ends. Bad messages are logged and skipped.
func (n *notifier) consume(ctx context.Context, r messageReader) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		n.handle(msg)
	}
}

func (n *notifier) handle(msg kafka.Message) {
	evt, ok, err := events.DecodeStatusChanged(msg.Value)
	if err != nil {
		n.log.Warn("bad event", zap.ByteString("key", msg.Key), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	subject, body, ok := email.Render(evt)
	if !ok {
		return
	}
	if err := n.sender.Send(n.to, subject, body); err != nil {
		n.log.Error("send failed", zap.String("purchase_id", evt.PurchaseID), zap.Error(err))
		return
	}
	n.log.Info("sent",
		zap.String("purchase_id", evt.PurchaseID),
		zap.String("status", string(evt.Status)),
		zap.String("to", n.to))
}

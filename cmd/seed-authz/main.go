package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/authz"
	appconfig "github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/logger"
)

// seed-authz writes demo viewer tuples to OpenFGA and verifies them, so the
// status endpoint can be exercised with X-User-ID alice (allowed) and
// charlie (denied).
func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Environment, "seed-authz")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(context.Background(), cfg.Authz, log); err != nil {
		log.Error("authz seed failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("authz seed verification passed")
}

func run(ctx context.Context, cfg appconfig.AuthzConfig, log *zap.Logger) error {
	if cfg.StoreID == "" {
		return fmt.Errorf("OPENFGA_STORE_ID not set; create a store and export its ID")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8081"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := authz.New(cfg)
	wr, ok := c.(authz.Writer)
	if !ok {
		return fmt.Errorf("authz backend does not store tuples")
	}

	tuples := []authz.Tuple{
		{User: "user:alice", Relation: "viewer", Object: "purchase:demo-1"},
		{User: "user:bob", Relation: "viewer", Object: "purchase:demo-2"},
	}
	if err := wr.Write(ctx, tuples...); err != nil {
		return fmt.Errorf("write tuples: %w", err)
	}
	log.Info("seeded tuples", zap.Int("count", len(tuples)))

	checks := []struct {
		user, object string
		want         bool
	}{
		{"user:alice", "purchase:demo-1", true},
		{"user:charlie", "purchase:demo-1", false},
	}
	for _, ch := range checks {
		allowed, err := c.Check(ctx, ch.user, ch.object, "viewer")
		if err != nil {
			return fmt.Errorf("check %s on %s: %w", ch.user, ch.object, err)
		}
		log.Info("check", zap.String("user", ch.user), zap.String("object", ch.object), zap.Bool("allowed", allowed))
		if allowed != ch.want {
			return fmt.Errorf("check %s on %s: got %v, want %v", ch.user, ch.object, allowed, ch.want)
		}
	}
	return nil
}

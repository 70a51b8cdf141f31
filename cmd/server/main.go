package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/api"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/authz"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/checkout"
	appconfig "github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/events"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/logger"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/secrets"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/telemetry"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization"
)

func main() {
	_ = godotenv.Load()

	// secrets must be in the environment before config is read
	vault, vaultErr := secrets.Load(context.Background())

	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			appconfig.Load,
			newLogger,
			func() purchase.Store { return purchase.NewMemoryStore() },
			newTokenizationClient,
			newExecutor,
			newPublisher,
			newOrchestrator,
			func(cfg appconfig.Config) authz.Client { return authz.New(cfg.Authz) },
		),
		fx.Invoke(
			func(log *zap.Logger, cfg appconfig.Config) {
				if vaultErr != nil {
					log.Warn("openbao unavailable; using environment only", zap.Error(vaultErr))
				}
				if len(vault.Applied) > 0 {
					log.Info("secrets loaded from openbao",
						zap.Strings("applied", vault.Applied),
						zap.Strings("kept", vault.Kept),
						zap.Strings("ignored", vault.Ignored))
				}
				if !vault.Ready() {
					log.Warn("required secrets missing; purchases will fail", zap.Strings("missing", vault.Missing))
				}
				log.Info("starting",
					zap.String("service", cfg.ServiceName),
					zap.String("env", cfg.Environment),
					zap.String("tokenization_mode", cfg.Tokenization.Mode),
					zap.Bool("tokenization_configured", cfg.Tokenization.Configured()))
			},
			setupTelemetry,
			registerWebServer,
		),
	)

	app.Run()
}

func newLogger(cfg appconfig.Config, lc fx.Lifecycle) (*zap.Logger, error) {
	log, err := logger.New(cfg.Environment, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, log *zap.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Telemetry.TracesEndpoint, log)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func newTokenizationClient(cfg appconfig.Config, log *zap.Logger) purchase.Exchanger {
	if !cfg.Tokenization.Configured() {
		log.Warn("tokenization service not configured; purchases that need card credentials will fail")
	}
	return tokenization.New(cfg.Tokenization, log)
}

func newExecutor(log *zap.Logger) purchase.Executor {
	return checkout.NewDirectExecutor(log)
}

// newPublisher returns a Kafka producer bound to the app lifecycle, or nil
// when no brokers are configured.
func newPublisher(cfg appconfig.Config, lc fx.Lifecycle, log *zap.Logger) purchase.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka not configured; status events disabled")
		return nil
	}
	prod := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PurchasesTopic, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return prod.Close()
		},
	})
	return prod
}

func newOrchestrator(lc fx.Lifecycle, cfg appconfig.Config, log *zap.Logger, store purchase.Store, ex purchase.Exchanger, exec purchase.Executor, pub purchase.Publisher) *purchase.Orchestrator {
	o := purchase.NewOrchestrator(purchase.Options{
		Store:     store,
		Exchanger: ex,
		Executor:  exec,
		Publisher: pub,
		Checkout:  cfg.Checkout,
		Mode:      cfg.Tokenization.Mode,
		Logger:    log,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return o.Shutdown(ctx)
		},
	})
	return o
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, log *zap.Logger, shutdowner fx.Shutdowner, o *purchase.Orchestrator, az authz.Client) {
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewRouter(o, az, cfg.HTTP, log),
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server error", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

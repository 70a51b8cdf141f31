package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/authz"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

// Purchases is the part of the orchestrator the HTTP layer needs.
type Purchases interface {
	Submit(ctx context.Context, sub purchase.Submission) (*purchase.Task, purchase.Receipt, error)
	Get(id string) (purchase.Record, error)
}

// NewRouter wires the purchase endpoints. Status queries go through authz
// once the purchase is known to exist, so unknown ids are 404 for everyone.
// Pass authz.NoopClient{} to allow everything.
func NewRouter(p Purchases, az authz.Client, cfg config.HTTPConfig, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{purchases: p, authz: az, log: log.Named("api")}
	limiter := newRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.log))
	r.Use(withCORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	viewer := authz.Require(az, h.log, func(r *http.Request) (string, string) {
		return "purchase:" + chi.URLParam(r, "id"), "viewer"
	})

	r.Route("/api", func(api chi.Router) {
		submit := otelhttp.NewHandler(http.HandlerFunc(h.submit), "purchase-submit")
		status := otelhttp.NewHandler(http.HandlerFunc(h.status), "purchase-status")

		api.With(limiter.middleware).Method(http.MethodPost, "/browser-checkout", submit)
		api.With(limiter.middleware).Method(http.MethodPost, "/purchases", submit)
		api.With(h.requirePurchase, viewer).Method(http.MethodGet, "/purchase-status/{id}", status)
		api.With(h.requirePurchase, viewer).Method(http.MethodGet, "/purchases/{id}", status)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package tokenization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cast"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/logger"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
)

const (
	pathCreateMandate = "/api/v1/mandate/create"
	pathRevealToken   = "/api/v1/wallet/request_card_reveal_token"
	pathRevealCard    = "/api/v1/wallet/token"

	// upstream error bodies are only read this far
	maxErrorBody = 4 << 10
)

// Client talks to the card tokenization service. It holds no per-purchase
// state and is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
	tracer  trace.Tracer
}

// New builds a client from configuration. An unconfigured client is still
// returned; every call on it fails with ErrNotConfigured.
func New(cfg config.TokenizationConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log:    log.Named("tokenization"),
		tracer: otel.Tracer("agent-checkout/tokenization"),
	}
}

func (c *Client) configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

type createMandateBody struct {
	Product             string         `json:"product"`
	ProductDescription  string         `json:"product_description"`
	Price               json.Number    `json:"price"`
	Currency            string         `json:"currency"`
	Merchant            string         `json:"merchant"`
	MerchantLink        string         `json:"merchant_link"`
	ConversationContext map[string]any `json:"conversation_context"`
	HumanMessages       []string       `json:"human_messages"`
	AdditionalDetails   map[string]any `json:"additional_details"`
	ConfidenceScore     float64        `json:"confidence_score"`
	RequestID           string         `json:"request_id"`
	Mode                string         `json:"mode"`
}

// CreateMandate registers the purchase intent. Re-sending the same request
// (same IdempotencyKey) never creates a second mandate server-side.
func (c *Client) CreateMandate(ctx context.Context, userID string, req mandate.Request) (Mandate, error) {
	if !c.configured() {
		return Mandate{}, fmt.Errorf("create mandate: %w", ErrNotConfigured)
	}
	ctx, span := c.tracer.Start(ctx, "tokenization.CreateMandate", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("mandate.mode", req.Mode),
	))
	defer span.End()

	body := createMandateBody{
		Product:             req.Product,
		ProductDescription:  req.ProductDescription,
		Price:               json.Number(req.Price.String()),
		Currency:            req.Currency,
		Merchant:            req.Merchant,
		MerchantLink:        req.MerchantLink,
		ConversationContext: req.ConversationContext,
		HumanMessages:       req.HumanMessages,
		AdditionalDetails:   req.AdditionalDetails,
		ConfidenceScore:     req.ConfidenceScore,
		RequestID:           req.IdempotencyKey,
		Mode:                req.Mode,
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}

	var out struct {
		MandateID any `json:"mandate_id"`
	}
	if err := c.do(ctx, StageMandateCreation, http.MethodPost, pathCreateMandate, userID, headers, body, &out); err != nil {
		return Mandate{}, failSpan(span, err)
	}
	id, err := cast.ToStringE(out.MandateID)
	if err != nil || id == "" {
		return Mandate{}, failSpan(span, stageErr(StageMandateCreation, 0, err, "service returned no mandate id"))
	}

	span.SetAttributes(attribute.String("mandate.id", id))
	c.log.Info("mandate created", zap.String("user_id", userID), zap.String("mandate_id", id))
	return Mandate{ID: id, UserID: userID, IdempotencyKey: req.IdempotencyKey}, nil
}

// RequestRevealToken exchanges a mandate for a single-use reveal token.
func (c *Client) RequestRevealToken(ctx context.Context, m Mandate) (RevealToken, error) {
	if !c.configured() {
		return RevealToken{}, fmt.Errorf("request reveal token: %w", ErrNotConfigured)
	}
	if m.ID == "" {
		return RevealToken{}, stageErr(StageTokenRequest, 0, nil, "mandate id is required")
	}
	ctx, span := c.tracer.Start(ctx, "tokenization.RequestRevealToken", trace.WithAttributes(
		attribute.String("user.id", m.UserID),
		attribute.String("mandate.id", m.ID),
	))
	defer span.End()

	var out struct {
		RevealToken string `json:"reveal_token"`
		Token       string `json:"token"`
	}
	body := map[string]string{"mandate_id": m.ID}
	if err := c.do(ctx, StageTokenRequest, http.MethodPost, pathRevealToken, m.UserID, nil, body, &out); err != nil {
		return RevealToken{}, failSpan(span, err)
	}
	token := out.RevealToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return RevealToken{}, failSpan(span, stageErr(StageTokenRequest, 0, nil, "service returned an empty reveal token"))
	}

	c.log.Info("reveal token issued",
		zap.String("user_id", m.UserID),
		zap.String("mandate_id", m.ID),
		zap.String("token", logger.TokenPrefix(token)))
	return RevealToken{Token: token, UserID: m.UserID, MandateID: m.ID}, nil
}

type credentialBody struct {
	CardNumber     string `json:"card_number"`
	CardExpiryDate string `json:"card_expiry_date"`
	CardCVV        string `json:"card_cvv"`
	CardholderName string `json:"cardholder_name"`
	BillingAddress string `json:"billing_address"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
}

// RevealCredential consumes the token and returns the card data. It is
// never retried: a second attempt with the same token fails server-side.
func (c *Client) RevealCredential(ctx context.Context, t RevealToken) (PaymentCredential, error) {
	if !c.configured() {
		return PaymentCredential{}, fmt.Errorf("reveal credential: %w", ErrNotConfigured)
	}
	if t.Token == "" {
		return PaymentCredential{}, stageErr(StageCredentialReveal, 0, nil, "reveal token is required")
	}
	ctx, span := c.tracer.Start(ctx, "tokenization.RevealCredential", trace.WithAttributes(
		attribute.String("user.id", t.UserID),
		attribute.String("mandate.id", t.MandateID),
	))
	defer span.End()

	var out credentialBody
	headers := map[string]string{"Authorization": "Bearer " + t.Token}
	if err := c.do(ctx, StageCredentialReveal, http.MethodGet, pathRevealCard, t.UserID, headers, nil, &out); err != nil {
		return PaymentCredential{}, failSpan(span, err)
	}
	if out.CardNumber == "" {
		return PaymentCredential{}, failSpan(span, stageErr(StageCredentialReveal, 0, nil, "service returned no card number"))
	}

	cred := PaymentCredential{
		CardNumber:     out.CardNumber,
		Expiry:         NormalizeExpiry(out.CardExpiryDate),
		CVV:            out.CardCVV,
		CardholderName: out.CardholderName,
		BillingAddress: out.BillingAddress,
		City:           out.City,
		State:          out.State,
		ZipCode:        out.ZipCode,
		Email:          out.Email,
		Phone:          out.PhoneNumber,
	}
	c.log.Info("credential revealed", zap.String("user_id", t.UserID), zap.Object("card", cred))
	return cred, nil
}

// Exchange runs the three stages in order and stops at the first failure.
func (c *Client) Exchange(ctx context.Context, userID string, req mandate.Request) (PaymentCredential, error) {
	m, err := c.CreateMandate(ctx, userID, req)
	if err != nil {
		return PaymentCredential{}, err
	}
	token, err := c.RequestRevealToken(ctx, m)
	if err != nil {
		return PaymentCredential{}, err
	}
	return c.RevealCredential(ctx, token)
}

func (c *Client) do(ctx context.Context, stage Stage, method, path, userID string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return stageErr(stage, 0, err, "encode request: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return stageErr(stage, 0, err, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-user-id", userID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return stageErr(stage, 0, err, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := upstreamMessage(resp.Body)
		c.log.Warn("tokenization call rejected",
			zap.String("stage", string(stage)),
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg))
		return stageErr(stage, resp.StatusCode, nil, "%s", msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return stageErr(stage, resp.StatusCode, err, "decode response: %v", err)
	}
	return nil
}

// upstreamMessage pulls a human readable message out of an error body,
// falling back to the raw text.
func upstreamMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		for _, s := range []string{parsed.Error, parsed.Message, parsed.Detail} {
			if s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "empty response body"
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
)

// Client performs authorization checks.
type Client interface {
	Check(ctx context.Context, user, object, relation string) (bool, error)
}

// Tuple is one relationship, e.g. user:alice viewer purchase:p-1.
type Tuple struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// Writer records relationships. Only backends that store tuples implement it.
type Writer interface {
	Write(ctx context.Context, tuples ...Tuple) error
}

// OpenFGAClient implements Client against an OpenFGA HTTP API.
type OpenFGAClient struct {
	apiURL  string
	storeID string
	http    *http.Client
}

// New constructs a Client from configuration.
// If OpenFGA is not configured, returns a no-op client that always allows.
func New(cfg config.AuthzConfig) Client {
	if cfg.APIURL == "" || cfg.StoreID == "" {
		return NoopClient{}
	}
	return &OpenFGAClient{
		apiURL:  cfg.APIURL,
		storeID: cfg.StoreID,
		http: &http.Client{
			Timeout:   3 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Check calls OpenFGA /check. Returns (false, nil) on a definitive deny.
func (c *OpenFGAClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	body := map[string]any{"tuple_key": Tuple{User: user, Relation: relation, Object: object}}
	resp, err := c.post(ctx, "check", body)
	if err != nil {
		return false, fmt.Errorf("openfga check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("openfga check status %d", resp.StatusCode)
	}
	var jr struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return false, fmt.Errorf("decode openfga check: %w", err)
	}
	return jr.Allowed, nil
}

// Write calls OpenFGA /write.
func (c *OpenFGAClient) Write(ctx context.Context, tuples ...Tuple) error {
	if len(tuples) == 0 {
		return nil
	}
	body := map[string]any{"writes": map[string]any{"tuple_keys": tuples}}
	resp, err := c.post(ctx, "write", body)
	if err != nil {
		return fmt.Errorf("openfga write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openfga write status %d", resp.StatusCode)
	}
	return nil
}

func (c *OpenFGAClient) post(ctx context.Context, op string, body any) (*http.Response, error) {
	// POST {api}/stores/{store_id}/{op}
	url := fmt.Sprintf("%s/stores/%s/%s", c.apiURL, c.storeID, op)
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// NoopClient allows everything. Useful for local dev without OpenFGA.
type NoopClient struct{}

func (NoopClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	return true, nil
}

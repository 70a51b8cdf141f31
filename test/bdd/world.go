package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/api"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/authz"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/checkout"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization/tokenizationtest"
)

const finishTimeout = 10 * time.Second

// PurchaseWorld holds one scenario's servers and the last HTTP exchange.
type PurchaseWorld struct {
	t *testing.T

	tokenSrv *tokenizationtest.Server
	orch     *purchase.Orchestrator
	tracked  *trackedPurchases
	events   *eventLog
	apiSrv   *httptest.Server

	httpStatus int
	httpBody   []byte
	httpJSON   map[string]any
	purchaseID string
}

func NewPurchaseWorld(t *testing.T) *PurchaseWorld {
	return &PurchaseWorld{t: t}
}

func (w *PurchaseWorld) Register(sc *godog.ScenarioContext) {
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		w.close()
		return ctx, nil
	})
	w.registerPurchaseSteps(sc)
}

func (w *PurchaseWorld) close() {
	if w.apiSrv != nil {
		w.apiSrv.Close()
	}
	if w.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		_ = w.orch.Shutdown(ctx)
		cancel()
	}
	if w.tokenSrv != nil {
		w.tokenSrv.Close()
	}
}

func (w *PurchaseWorld) startTokenization() error {
	w.tokenSrv = tokenizationtest.NewServer()
	return nil
}

func (w *PurchaseWorld) startCheckout() error {
	if w.tokenSrv == nil {
		return fmt.Errorf("tokenization service not started")
	}
	client := tokenization.New(config.TokenizationConfig{
		BaseURL: w.tokenSrv.URL,
		APIKey:  tokenizationtest.APIKey,
		Mode:    config.ModeSandbox,
		Timeout: 5 * time.Second,
	}, zap.NewNop())

	w.events = &eventLog{}
	w.orch = purchase.NewOrchestrator(purchase.Options{
		Store:     purchase.NewMemoryStore(),
		Exchanger: client,
		Executor:  checkout.NewDirectExecutor(zap.NewNop()),
		Publisher: w.events,
		Checkout: config.CheckoutConfig{
			ExecutionTimeout: 5 * time.Second,
			DefaultMerchant:  "Online Store",
			Currency:         "USD",
			ConfidenceScore:  0.9,
		},
		Mode:   config.ModeSandbox,
		Logger: zap.NewNop(),
	})
	w.tracked = &trackedPurchases{Orchestrator: w.orch, tasks: map[string]*purchase.Task{}}
	w.apiSrv = httptest.NewServer(api.NewRouter(w.tracked, authz.NoopClient{}, config.HTTPConfig{}, zap.NewNop()))
	return nil
}

func (w *PurchaseWorld) request(method, path string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, w.apiSrv.URL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w.httpStatus = resp.StatusCode
	w.httpBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	w.httpJSON = nil
	if len(w.httpBody) > 0 {
		if err := json.Unmarshal(w.httpBody, &w.httpJSON); err != nil {
			return fmt.Errorf("decode response %q: %w", string(w.httpBody), err)
		}
	}
	return nil
}

// trackedPurchases keeps task handles so steps can wait for completion
// without polling.
type trackedPurchases struct {
	*purchase.Orchestrator

	mu    sync.Mutex
	tasks map[string]*purchase.Task
}

func (p *trackedPurchases) Submit(ctx context.Context, sub purchase.Submission) (*purchase.Task, purchase.Receipt, error) {
	task, receipt, err := p.Orchestrator.Submit(ctx, sub)
	if err == nil {
		p.mu.Lock()
		p.tasks[task.ID] = task
		p.mu.Unlock()
	}
	return task, receipt, err
}

func (p *trackedPurchases) task(id string) (*purchase.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	return t, ok
}

type eventLog struct {
	mu  sync.Mutex
	all []purchase.StatusChanged
}

func (l *eventLog) PublishStatusChanged(ctx context.Context, evt purchase.StatusChanged) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, evt)
	return nil
}

// path collapses repeated statuses, e.g. "pending, processing, completed".
func (l *eventLog) path(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.all {
		if e.PurchaseID != id {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == string(e.Status) {
			continue
		}
		out = append(out, string(e.Status))
	}
	return strings.Join(out, ", ")
}

func (l *eventLog) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.all {
		if strings.Contains(fmt.Sprintf("%+v", e), s) {
			return true
		}
	}
	return false
}

func itemsFromTable(tbl *godog.Table) ([]purchase.Item, decimal.Decimal, error) {
	if len(tbl.Rows) < 2 {
		return nil, decimal.Zero, fmt.Errorf("items table needs a header and at least one row")
	}
	col := map[string]int{}
	for i, c := range tbl.Rows[0].Cells {
		col[c.Value] = i
	}
	total := decimal.Zero
	var items []purchase.Item
	for _, row := range tbl.Rows[1:] {
		var qty int
		if _, err := fmt.Sscan(row.Cells[col["quantity"]].Value, &qty); err != nil {
			return nil, decimal.Zero, fmt.Errorf("quantity: %w", err)
		}
		price, err := decimal.NewFromString(row.Cells[col["price"]].Value)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("price: %w", err)
		}
		items = append(items, purchase.Item{Name: row.Cells[col["name"]].Value, Quantity: qty, Price: price})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return items, total, nil
}

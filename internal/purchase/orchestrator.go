package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
)

const (
	msgReceipt      = "Purchase initiated. Check status endpoint for updates."
	msgInitializing = "Initializing checkout agent..."
	msgCompleted    = "Checkout completed successfully"

	paymentMethodTokenized = "tokenized_card"
	checkoutMethodDefault  = "browser_automation"
)

var narration = []string{
	"Navigating to checkout page...",
	"Filling in order details...",
	"Processing payment with tokenization service...",
}

// StatusChanged mirrors one record transition. It never carries card data.
type StatusChanged struct {
	PurchaseID string          `json:"purchaseId"`
	UserID     string          `json:"userId"`
	Status     Status          `json:"status"`
	Message    string          `json:"message"`
	Error      string          `json:"error,omitempty"`
	Merchant   string          `json:"merchant"`
	Total      decimal.Decimal `json:"total"`
}

// Publisher receives status events. Failures are logged and otherwise ignored.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, evt StatusChanged) error
}

type Options struct {
	Store     Store
	Exchanger Exchanger
	Executor  Executor
	Publisher Publisher
	Checkout  config.CheckoutConfig
	Mode      string
	Logger    *zap.Logger
}

// Orchestrator accepts submissions and runs one background task per purchase.
type Orchestrator struct {
	store     Store
	exchanger Exchanger
	executor  Executor
	publisher Publisher
	cfg       config.CheckoutConfig
	mode      string
	log       *zap.Logger
	tracer    trace.Tracer
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in Submit against Shutdown's wg.Wait.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     opts.Store,
		exchanger: opts.Exchanger,
		executor:  opts.Executor,
		publisher: opts.Publisher,
		cfg:       opts.Checkout,
		mode:      opts.Mode,
		log:       log.Named("orchestrator"),
		tracer:    otel.Tracer("agent-checkout/purchase"),
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Task is the handle of one running purchase.
type Task struct {
	ID   string
	done chan struct{}
}

// Done is closed once the record reached a terminal status.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit records the purchase as pending and starts its task. It returns
// before any external call is made.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*Task, Receipt, error) {
	if err := sub.Validate(); err != nil {
		return nil, Receipt{}, err
	}
	if sub.MerchantName == "" {
		sub.MerchantName = o.cfg.DefaultMerchant
	}
	if !o.reserve() {
		return nil, Receipt{}, ErrStopped
	}

	id := o.newID()
	rec, err := o.store.Create(id, sub.UserID)
	if err != nil {
		o.wg.Done()
		return nil, Receipt{}, err
	}
	o.publish(ctx, rec, sub)

	src := sub.mandateSource()
	req := mandate.Build(src, mandate.Options{
		Currency:        o.cfg.Currency,
		Mode:            o.mode,
		ConfidenceScore: o.cfg.ConfidenceScore,
	})
	intent := OrderIntent{
		PurchaseID:          id,
		UserID:              sub.UserID,
		StoreID:             sub.StoreID,
		CheckoutURL:         sub.CheckoutURL,
		Merchant:            sub.MerchantName,
		PaymentMethod:       sub.PaymentMethod,
		PaymentCardToken:    sub.PaymentCardToken,
		Items:               src.Items,
		Summary:             summarize(src.Items),
		ConversationHistory: conversationHistory(req.ConversationContext),
		Mandate:             req,
	}

	o.log.Info("purchase submitted",
		zap.String("purchase_id", id),
		zap.String("user_id", sub.UserID),
		zap.Int("items", len(sub.Items)),
		zap.String("total", sub.Total.StringFixed(2)),
		zap.String("merchant", sub.MerchantName))

	task := &Task{ID: id, done: make(chan struct{})}
	go func() {
		defer o.wg.Done()
		defer close(task.done)
		o.run(o.ctx, intent, sub)
	}()

	return task, Receipt{PurchaseID: id, Status: StatusPending, Message: msgReceipt}, nil
}

// Get returns the current record for id.
func (o *Orchestrator) Get(id string) (Record, error) {
	return o.store.Get(id)
}

// reserve counts a new task unless Shutdown has begun.
func (o *Orchestrator) reserve() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	o.wg.Add(1)
	return true
}

// Shutdown cancels running tasks and waits for them to record their outcome.
// Submissions arriving after Shutdown fail with ErrStopped.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.cancel()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, intent OrderIntent, sub Submission) {
	ctx, span := o.tracer.Start(ctx, "purchase.run", trace.WithAttributes(
		attribute.String("purchase.id", intent.PurchaseID),
		attribute.String("user.id", intent.UserID),
		attribute.Int("purchase.items", len(intent.Items)),
	))
	defer span.End()
	log := o.log.With(zap.String("purchase_id", intent.PurchaseID))

	if err := ctx.Err(); err != nil {
		o.fail(ctx, log, sub, intent.PurchaseID, fmt.Errorf("%w: %v", ErrExecutionFailed, err))
		span.SetStatus(codes.Error, "cancelled before start")
		return
	}
	if !o.advance(ctx, log, sub, intent.PurchaseID, msgInitializing) {
		return
	}
	for _, msg := range narration {
		if !o.pause(ctx) {
			o.fail(ctx, log, sub, intent.PurchaseID, fmt.Errorf("%w: %v", ErrExecutionFailed, ctx.Err()))
			return
		}
		if !o.advance(ctx, log, sub, intent.PurchaseID, msg) {
			return
		}
	}

	pay := newCapability(o.exchanger, intent.UserID, intent.Mandate)
	outcome, err := o.execute(ctx, intent, pay)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, log, sub, intent.PurchaseID, err)
		return
	}

	message := outcome.Message
	if message == "" {
		message = msgCompleted
	}
	method := outcome.CheckoutMethod
	if method == "" {
		method = checkoutMethodDefault
	}
	paymentMethod := sub.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = paymentMethodTokenized
	}
	result := &Result{
		Success:                     true,
		Message:                     message,
		StoreOrderID:                sub.StoreID,
		PaymentMethod:               paymentMethod,
		TotalAmount:                 sub.Total,
		ItemsProcessed:              len(sub.Items),
		CheckoutMethod:              method,
		CredentialExchangeCompleted: pay.exchanged.Load(),
		Summary:                     outcome.Summary,
	}
	rec, err := o.store.Transition(intent.PurchaseID, Update{Status: StatusCompleted, Message: message, Result: result})
	if err != nil {
		log.Error("record completion", zap.Error(err))
		return
	}
	log.Info("purchase completed", zap.Bool("credential_exchange_completed", result.CredentialExchangeCompleted))
	o.publish(ctx, rec, sub)
}

// execute runs the executor in its own goroutine so that one ignoring ctx
// still cannot hold the task past the deadline.
func (o *Orchestrator) execute(ctx context.Context, intent OrderIntent, pay PaymentCapability) (Outcome, error) {
	timeout := o.cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		outcome Outcome
		err     error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		out, err := o.executor.Execute(ctx, intent, pay)
		ch <- answer{outcome: out, err: err}
	}()

	select {
	case a := <-ch:
		if a.err == nil {
			return a.outcome, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		}
		return Outcome{}, &executionError{err: a.err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		}
		return Outcome{}, fmt.Errorf("%w: %w", ErrExecutionFailed, ctx.Err())
	}
}

// executionError marks an executor failure as ErrExecutionFailed while
// keeping the executor's message as the error text.
type executionError struct{ err error }

func (e *executionError) Error() string   { return e.err.Error() }
func (e *executionError) Unwrap() []error { return []error{ErrExecutionFailed, e.err} }

func (o *Orchestrator) advance(ctx context.Context, log *zap.Logger, sub Submission, id, message string) bool {
	rec, err := o.store.Transition(id, Update{Status: StatusProcessing, Message: message})
	if err != nil {
		log.Error("record progress", zap.String("message", message), zap.Error(err))
		return false
	}
	log.Debug("purchase progress", zap.String("message", message))
	o.publish(ctx, rec, sub)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, sub Submission, id string, cause error) {
	detail := cause.Error()
	rec, err := o.store.Transition(id, Update{
		Status:  StatusFailed,
		Message: "Checkout failed: " + detail,
		Error:   detail,
	})
	if err != nil {
		log.Error("record failure", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	log.Warn("purchase failed",
		zap.String("user_id", sub.UserID),
		zap.String("total", sub.Total.StringFixed(2)),
		zap.Error(cause))
	o.publish(context.WithoutCancel(ctx), rec, sub)
}

func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.cfg.NarrationInterval <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(o.cfg.NarrationInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) publish(ctx context.Context, rec Record, sub Submission) {
	if o.publisher == nil {
		return
	}
	evt := StatusChanged{
		PurchaseID: rec.ID,
		UserID:     rec.UserID,
		Status:     rec.Status,
		Message:    rec.Message,
		Error:      rec.Error,
		Merchant:   sub.MerchantName,
		Total:      sub.Total,
	}
	if err := o.publisher.PublishStatusChanged(ctx, evt); err != nil {
		o.log.Warn("publish status event",
			zap.String("purchase_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}

func conversationHistory(conv map[string]any) []any {
	if msgs, ok := conv["messages"].([]any); ok {
		return msgs
	}
	return nil
}

package purchase

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/tokenization"
)

// Executor performs the actual checkout on the merchant site. It must return
// exactly once; a nil error means the order went through.
type Executor interface {
	Execute(ctx context.Context, intent OrderIntent, pay PaymentCapability) (Outcome, error)
}

// PaymentCapability is how an Executor obtains card details. It is bound to
// one purchase and answers at most once.
type PaymentCapability interface {
	GetPaymentDetails(ctx context.Context, update mandate.RuntimeUpdate) (tokenization.PaymentCredential, error)
}

// Exchanger runs the credential exchange. *tokenization.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, userID string, req mandate.Request) (tokenization.PaymentCredential, error)
}

// OrderIntent is everything the executor needs to check out one purchase.
type OrderIntent struct {
	PurchaseID          string
	UserID              string
	StoreID             string
	CheckoutURL         string
	Merchant            string
	PaymentMethod       string
	PaymentCardToken    string
	Items               []mandate.Item
	Summary             PaymentSummary
	ConversationHistory []any
	Mandate             mandate.Request
}

// PaymentSummary is the order's money breakdown. Tax and delivery are not
// computed and stay zero.
type PaymentSummary struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

func summarize(items []mandate.Item) PaymentSummary {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return PaymentSummary{
		Subtotal:    subtotal,
		Tax:         decimal.Zero,
		DeliveryFee: decimal.Zero,
		Total:       subtotal,
	}
}

// Outcome is what a successful executor reports back.
type Outcome struct {
	Message        string
	CheckoutMethod string
	Summary        string
}

type capability struct {
	exchanger Exchanger
	userID    string
	req       mandate.Request

	used      atomic.Bool
	exchanged atomic.Bool
}

func newCapability(ex Exchanger, userID string, req mandate.Request) *capability {
	return &capability{exchanger: ex, userID: userID, req: req}
}

func (c *capability) GetPaymentDetails(ctx context.Context, update mandate.RuntimeUpdate) (tokenization.PaymentCredential, error) {
	if !c.used.CompareAndSwap(false, true) {
		return tokenization.PaymentCredential{}, ErrCapabilityUsed
	}
	cred, err := c.exchanger.Exchange(ctx, c.userID, c.req.WithRuntimeUpdate(update))
	if err != nil {
		return tokenization.PaymentCredential{}, err
	}
	c.exchanged.Store(true)
	return cred, nil
}

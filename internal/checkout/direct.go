// Package checkout holds the in-process checkout executor used when no
// browser agent is attached.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

const MethodDirect = "direct_tokenized"

// DirectExecutor skips page navigation: it confirms the order lines it was
// given, requests the card once and reports the purchase as placed.
type DirectExecutor struct {
	log *zap.Logger
	now func() time.Time
}

func NewDirectExecutor(log *zap.Logger) *DirectExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectExecutor{log: log.Named("checkout"), now: time.Now}
}

func (e *DirectExecutor) Execute(ctx context.Context, intent purchase.OrderIntent, pay purchase.PaymentCapability) (purchase.Outcome, error) {
	names := make([]string, 0, len(intent.Items))
	for _, it := range intent.Items {
		names = append(names, it.Name)
	}
	// The submitted total may carry fees the item lines don't.
	price := intent.Mandate.Price
	if price.IsZero() {
		price = intent.Summary.Total
	}
	update := mandate.RuntimeUpdate{
		Product:         strings.Join(names, ", "),
		Price:           price,
		ConfidenceScore: intent.Mandate.ConfidenceScore,
	}

	cred, err := pay.GetPaymentDetails(ctx, update)
	if err != nil {
		return purchase.Outcome{}, err
	}
	if expired(cred.Expiry, e.now()) {
		return purchase.Outcome{}, fmt.Errorf("card ending %s expired %s", cred.Last4(), cred.Expiry)
	}

	e.log.Info("order placed",
		zap.String("purchase_id", intent.PurchaseID),
		zap.String("merchant", intent.Merchant),
		zap.Object("card", cred))

	return purchase.Outcome{
		Message:        "Checkout completed successfully",
		CheckoutMethod: MethodDirect,
		Summary: fmt.Sprintf("Paid %s %s at %s with %s",
			price.StringFixed(2), intent.Mandate.Currency, intent.Merchant, cred.Masked()),
	}, nil
}

// expired reports whether an MM/YY expiry lies before the current month.
// Unparseable values are left for the merchant to reject.
func expired(expiry string, now time.Time) bool {
	t, err := time.Parse("01/06", expiry)
	if err != nil {
		return false
	}
	// cards are valid through the end of the expiry month
	return now.After(t.AddDate(0, 1, 0))
}

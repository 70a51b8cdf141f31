package purchase

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/mandate"
)

// Submission is a checkout request as received from the caller.
type Submission struct {
	UserID              string          `json:"user_id" validate:"required"`
	StoreID             string          `json:"store_id" validate:"required"`
	Items               []Item          `json:"items" validate:"required,min=1,dive"`
	Total               decimal.Decimal `json:"total"`
	MerchantName        string          `json:"merchant_name"`
	CheckoutURL         string          `json:"checkout_url" validate:"required,url"`
	PaymentMethod       string          `json:"payment_method"`
	PaymentCardToken    string          `json:"payment_card_token"`
	ConversationContext mandate.Field   `json:"conversation_context"`
	HumanMessages       mandate.Field   `json:"human_messages"`
	AdditionalDetails   mandate.Field   `json:"additional_details"`
}

type Item struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name" validate:"required"`
	Quantity int             `json:"quantity" validate:"min=1"`
	Price    decimal.Decimal `json:"price"`
}

// Receipt is returned to the caller as soon as the purchase is recorded.
type Receipt struct {
	PurchaseID string `json:"purchase_id"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the submission and reports every problem in one error
// wrapping ErrInvalidSubmission.
func (s Submission) Validate() error {
	var problems []string
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}
	}
	if s.Total.IsNegative() {
		problems = append(problems, "total must not be negative")
	}
	for i, it := range s.Items {
		if it.Price.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].price must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSubmission, strings.Join(problems, "; "))
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func (s Submission) mandateSource() mandate.Source {
	items := make([]mandate.Item, len(s.Items))
	for i, it := range s.Items {
		items[i] = mandate.Item{ID: it.ID, Name: it.Name, Quantity: it.Quantity, Price: it.Price}
	}
	return mandate.Source{
		StoreID:             s.StoreID,
		MerchantName:        s.MerchantName,
		CheckoutURL:         s.CheckoutURL,
		Items:               items,
		Total:               s.Total,
		ConversationContext: s.ConversationContext,
		HumanMessages:       s.HumanMessages,
		AdditionalDetails:   s.AdditionalDetails,
	}
}

package mandate

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ModeSandbox = "sandbox"
	ModeLive    = "live"
)

// Request is the canonical purchase intent sent to the tokenization service
// when a mandate is created. IdempotencyKey is generated once per purchase
// attempt and never reused.
type Request struct {
	Product             string
	ProductDescription  string
	Price               decimal.Decimal
	Currency            string
	Merchant            string
	MerchantLink        string
	ConversationContext map[string]any
	HumanMessages       []string
	AdditionalDetails   map[string]any
	ConfidenceScore     float64
	IdempotencyKey      string
	Mode                string
}

// RuntimeUpdate carries what the checkout agent actually saw on the page.
type RuntimeUpdate struct {
	Product         string
	Price           decimal.Decimal
	ConfidenceScore float64
}

// WithRuntimeUpdate returns a copy refined with the agent's view of the
// product and price. Zero-valued fields of u leave the original values.
func (r Request) WithRuntimeUpdate(u RuntimeUpdate) Request {
	out := r
	if u.Product != "" {
		out.Product = u.Product
	}
	if !u.Price.IsZero() {
		out.Price = u.Price
	}
	if u.ConfidenceScore != 0 {
		out.ConfidenceScore = clamp01(u.ConfidenceScore)
	}
	return out
}

type Item struct {
	ID       string
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// Source is the raw submission data a Request is built from.
type Source struct {
	StoreID             string
	MerchantName        string
	CheckoutURL         string
	Items               []Item
	Total               decimal.Decimal
	ConversationContext Field
	HumanMessages       Field
	AdditionalDetails   Field
}

type Options struct {
	Currency        string
	Mode            string
	ConfidenceScore float64
	// NewKey overrides idempotency key generation, for tests.
	NewKey func() string
}

// Build assembles the Request for one purchase attempt. It never fails: all
// loosely-typed inputs go through the normalizers.
func Build(src Source, opts Options) Request {
	names := make([]string, 0, len(src.Items))
	items := make([]map[string]any, 0, len(src.Items))
	for _, it := range src.Items {
		names = append(names, it.Name)
		item := map[string]any{
			"name":     it.Name,
			"quantity": it.Quantity,
			"price":    it.Price.InexactFloat64(),
		}
		if it.ID != "" {
			item["id"] = it.ID
		}
		items = append(items, item)
	}
	product := strings.Join(names, ", ")
	if product == "" {
		product = "Purchase"
	}

	details := maps.Clone(NormalizeDetails(src.AdditionalDetails))
	details["store_id"] = src.StoreID
	details["items"] = items

	mode := opts.Mode
	if mode != ModeLive {
		mode = ModeSandbox
	}
	newKey := opts.NewKey
	if newKey == nil {
		newKey = func() string { return uuid.NewString() }
	}

	return Request{
		Product:             product,
		ProductDescription:  fmt.Sprintf("%d items from %s", len(src.Items), src.MerchantName),
		Price:               src.Total,
		Currency:            opts.Currency,
		Merchant:            src.MerchantName,
		MerchantLink:        src.CheckoutURL,
		ConversationContext: NormalizeContext(src.ConversationContext),
		HumanMessages:       NormalizeMessages(src.HumanMessages),
		AdditionalDetails:   details,
		ConfidenceScore:     clamp01(opts.ConfidenceScore),
		IdempotencyKey:      newKey(),
		Mode:                mode,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

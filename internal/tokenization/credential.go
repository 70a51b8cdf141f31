package tokenization

import (
	"encoding/json"
	"fmt"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// Mandate is the service's authorization for one purchase attempt, scoped to
// a user and an idempotency key.
type Mandate struct {
	ID             string
	UserID         string
	IdempotencyKey string
}

// RevealToken is single-use. The service rejects a second reveal with the same token.
type RevealToken struct {
	Token     string
	UserID    string
	MandateID string
}

// PaymentCredential is the card data released for one reveal token. It is
// never persisted; String, MarshalJSON and MarshalLogObject only expose the
// last four digits and the expiry.
type PaymentCredential struct {
	CardNumber     string
	Expiry         string
	CVV            string
	CardholderName string
	BillingAddress string
	City           string
	State          string
	ZipCode        string
	Email          string
	Phone          string
}

// Last4 returns the last four digits of the card number.
func (c PaymentCredential) Last4() string {
	if len(c.CardNumber) < 4 {
		return ""
	}
	return c.CardNumber[len(c.CardNumber)-4:]
}

// Masked renders the card the way it may appear in results and logs.
func (c PaymentCredential) Masked() string {
	if c.Last4() == "" {
		return "card"
	}
	return "card ending " + c.Last4()
}

func (c PaymentCredential) String() string {
	return fmt.Sprintf("%s exp %s", c.Masked(), c.Expiry)
}

func (c PaymentCredential) GoString() string { return c.String() }

func (c PaymentCredential) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"card_last4":       c.Last4(),
		"card_expiry_date": c.Expiry,
	})
}

func (c PaymentCredential) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("card_last4", c.Last4())
	enc.AddString("card_expiry_date", c.Expiry)
	return nil
}

var longExpiry = regexp.MustCompile(`^(\d{2})/\d{2}(\d{2})$`)

// NormalizeExpiry rewrites MM/YYYY to MM/YY. Any other shape is returned unchanged.
func NormalizeExpiry(raw string) string {
	m := longExpiry.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	return m[1] + "/" + m[2]
}

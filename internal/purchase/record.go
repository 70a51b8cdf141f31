package purchase

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("purchase not found")
	ErrAlreadyExists     = errors.New("purchase already exists")
	ErrInvalidTransition = errors.New("invalid purchase transition")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrExecutionTimeout  = errors.New("checkout execution timed out")
	ErrExecutionFailed   = errors.New("checkout execution failed")
	ErrCapabilityUsed    = errors.New("payment details already requested for this purchase")
	ErrStopped           = errors.New("orchestrator stopped")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) canMoveTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Result is the structured outcome of a completed purchase.
type Result struct {
	Success                     bool            `json:"success"`
	Message                     string          `json:"message"`
	StoreOrderID                string          `json:"store_order_id"`
	PaymentMethod               string          `json:"payment_method"`
	TotalAmount                 decimal.Decimal `json:"total_amount"`
	ItemsProcessed              int             `json:"items_processed"`
	CheckoutMethod              string          `json:"checkout_method"`
	CredentialExchangeCompleted bool            `json:"credential_exchange_completed"`
	Summary                     string          `json:"summary,omitempty"`
}

// Record tracks one purchase attempt. Result is set iff Status is completed,
// Error iff Status is failed.
type Record struct {
	ID        string    `json:"purchase_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (r Record) clone() Record {
	if r.Result != nil {
		res := *r.Result
		r.Result = &res
	}
	return r
}

// Update is one requested transition.
type Update struct {
	Status  Status
	Message string
	Result  *Result
	Error   string
}

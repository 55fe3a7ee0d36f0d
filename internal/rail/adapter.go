// internal/rail/adapter.go
package rail

import (
	"context"
	"time"

	"paygate/internal/domain"

	"github.com/shopspring/decimal"
)

// Settlement is one record from a rail's own settlement history.
type Settlement struct {
	ExternalID  string          `json:"external_id"`
	Asset       string          `json:"asset"`
	Chain       string          `json:"chain,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Destination string          `json:"destination"`
	Memo        string          `json:"memo,omitempty"` // Echo of PayoutRequest.IdempotencyKey when the rail keeps it
	CreatedAt   time.Time       `json:"created_at"`
}

// SettlementQuery selects recent settlements.
type SettlementQuery struct {
	Direction domain.Direction
	Asset     string
	Chain     string
	Limit     int
}

// PayoutRequest is an outgoing transfer instruction.
type PayoutRequest struct {
	Asset          string
	Chain          string
	Destination    string
	Amount         decimal.Decimal
	IdempotencyKey string // Sent as the rail's memo/remark so the payout can be found again
}

// PayoutResult is the normalized answer to SubmitPayout.
// OK=false means the rail explicitly refused the payout.
type PayoutResult struct {
	OK         bool
	ExternalID string
	Error      string
}

// Adapter is the contract every rail implements.
// A non-nil error from SubmitPayout means the outcome is unknown: the payout may or may not have executed.
type Adapter interface {
	// GetReceivingDestination returns where users should send a deposit.
	GetReceivingDestination(ctx context.Context, asset, chain string) ([]string, error)
	// ListRecentSettlements returns the rail's newest settlements matching query.
	ListRecentSettlements(ctx context.Context, query SettlementQuery) ([]Settlement, error)
	// SubmitPayout sends money out.
	SubmitPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

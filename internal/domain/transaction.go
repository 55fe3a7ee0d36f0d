// internal/domain/transaction.go
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// Direction tells whether money enters or leaves the ledger.
type Direction string

const (
	DirectionDeposit  Direction = "deposit"
	DirectionWithdraw Direction = "withdraw"
)

// ParseDirection converts a textual direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DirectionDeposit, DirectionWithdraw:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// TransactionStatus defines the lifecycle status of a transaction record.
type TransactionStatus string

const (
	StatusPending                   TransactionStatus = "pending"
	StatusApproved                  TransactionStatus = "approved"
	StatusApprovedAwaitingReference TransactionStatus = "approved_awaiting_reference"
	StatusRejected                  TransactionStatus = "rejected"
	StatusFailed                    TransactionStatus = "failed"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:                   {StatusApproved, StatusApprovedAwaitingReference, StatusRejected},
	StatusApprovedAwaitingReference: {StatusApproved, StatusFailed},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// TxRef addresses a transaction record by rail and id.
type TxRef struct {
	Rail Rail  `json:"rail"`
	ID   int64 `json:"id"`
}

func (r TxRef) String() string {
	return fmt.Sprintf("%s/%d", r.Rail, r.ID)
}

// ParseTxRef parses the "rail/id" form produced by TxRef.String.
func ParseTxRef(s string) (TxRef, error) {
	railPart, idPart, ok := strings.Cut(s, "/")
	if !ok {
		return TxRef{}, fmt.Errorf("transaction reference %q must look like rail/id", s)
	}
	rail, err := ParseRail(railPart)
	if err != nil {
		return TxRef{}, err
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return TxRef{}, fmt.Errorf("transaction reference %q has an invalid id", s)
	}
	return TxRef{Rail: rail, ID: id}, nil
}

// Transaction is a deposit or withdrawal request on one rail.
// Rail and Direction together select the record's behaviour.
type Transaction struct {
	ID                int64               `db:"id" json:"id"`                                   // Primary key, BIGSERIAL in DB
	UserID            int64               `db:"user_id" json:"user_id"`                         // Owning user
	Direction         Direction           `db:"direction" json:"direction"`                     // deposit | withdraw
	Rail              Rail                `db:"rail" json:"rail"`                               // cash_agent | wallet_cash | exchange
	Currency          string              `db:"currency" json:"currency"`                       // Currency the user transacted in
	Chain             string              `db:"chain" json:"chain,omitempty"`                   // Exchange chain, empty for cash rails
	Amount            decimal.Decimal     `db:"amount" json:"amount"`                           // Requested amount
	Fee               decimal.Decimal     `db:"fee" json:"fee"`                                 // Fee in Currency
	NetAmount         decimal.Decimal     `db:"net_amount" json:"net_amount"`                   // Amount - Fee
	SettledAmount     decimal.NullDecimal `db:"settled_amount" json:"settled_amount"`           // Payout amount, or ledger credit once a deposit is approved
	SettledCurrency   string              `db:"settled_currency" json:"settled_currency"`       // Currency of SettledAmount
	Destination       string              `db:"destination" json:"destination,omitempty"`       // Phone number, wallet address or chain address
	ExternalReference *string             `db:"external_reference" json:"external_reference"`   // Rail-provided id, nullable until known
	PayoutKey         *string             `db:"payout_key" json:"-"`                            // Idempotency key sent with an exchange payout
	Status            TransactionStatus   `db:"status" json:"status"`                           // See TransactionStatus
	Reason            *string             `db:"reason" json:"reason,omitempty"`                 // Rejection or failure reason
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`                   // Submission time
	DecidedAt         *time.Time          `db:"decided_at" json:"decided_at,omitempty"`         // First admin decision
	CompletedAt       *time.Time          `db:"completed_at" json:"completed_at,omitempty"`     // Reached approved or failed
	RefundedAt        *time.Time          `db:"refunded_at" json:"refunded_at,omitempty"`       // Manual refund of a failed withdrawal
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`                   // Last mutation
}

// NewDeposit creates a pending deposit claim. The ledger credit is computed at approval.
func NewDeposit(userID int64, rail Rail, currency, chain string, amount decimal.Decimal, reference, ledgerCurrency string) *Transaction {
	now := time.Now().UTC()
	ref := reference
	return &Transaction{
		UserID:            userID,
		Direction:         DirectionDeposit,
		Rail:              rail,
		Currency:          currency,
		Chain:             chain,
		Amount:            amount,
		Fee:               decimal.Zero,
		NetAmount:         amount,
		SettledCurrency:   ledgerCurrency,
		ExternalReference: &ref,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewWithdrawal creates a pending withdrawal. amount, fee and net are in the ledger currency.
func NewWithdrawal(userID int64, rail Rail, currency, chain, destination string, amount, fee, payout decimal.Decimal, payoutCurrency string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		UserID:          userID,
		Direction:       DirectionWithdraw,
		Rail:            rail,
		Currency:        currency,
		Chain:           chain,
		Amount:          amount,
		Fee:             fee,
		NetAmount:       amount.Sub(fee),
		SettledAmount:   decimal.NewNullDecimal(payout),
		SettledCurrency: payoutCurrency,
		Destination:     destination,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Ref returns the record's rail/id address.
func (t *Transaction) Ref() TxRef {
	return TxRef{Rail: t.Rail, ID: t.ID}
}

// Source is the audit tag for the record's rail and direction, e.g. "exchange_withdraw".
func (t *Transaction) Source() string {
	return SourceTag(t.Rail, t.Direction)
}

// SourceTag builds the audit source tag for a rail and direction.
func SourceTag(rail Rail, direction Direction) string {
	return string(rail) + "_" + string(direction)
}

// IsDeposit reports whether the record is a deposit.
func (t *Transaction) IsDeposit() bool { return t.Direction == DirectionDeposit }

// IsWithdrawal reports whether the record is a withdrawal.
func (t *Transaction) IsWithdrawal() bool { return t.Direction == DirectionWithdraw }

// StatusUpdate is a partial update applied by TransactionRepository.UpdateStatus.
// Nil fields are left unchanged.
type StatusUpdate struct {
	Status            TransactionStatus
	Reason            *string
	ExternalReference *string
	PayoutKey         *string
	SettledAmount     *decimal.Decimal
	DecidedAt         *time.Time
	CompletedAt       *time.Time
}

// internal/domain/user.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an end user of the gateway, keyed by an external chat identity.
type User struct {
	ID        int64           `db:"id" json:"id"`                 // Primary key, BIGSERIAL in DB
	Identity  string          `db:"identity" json:"identity"`     // Opaque external identity, unique
	Balance   decimal.Decimal `db:"balance" json:"balance"`       // Ledger balance, never negative
	CreatedAt time.Time       `db:"created_at" json:"created_at"` // Timestamp of creation
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"` // Timestamp of last update
}

// NewUser creates a new User instance with a zero balance.
func NewUser(identity string) *User {
	now := time.Now().UTC()
	return &User{
		Identity:  identity,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

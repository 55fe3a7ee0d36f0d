// internal/repository/user_repo.go
package repository

import (
	"context"

	"paygate/internal/domain"

	"github.com/shopspring/decimal"
)

// UserRepository is the ledger store: users and their balances.
type UserRepository interface {
	// GetOrCreateUser returns the user for identity, creating it with a zero balance on first use.
	GetOrCreateUser(ctx context.Context, q DBExecutor, identity string) (*domain.User, error)
	// GetUserByID retrieves a user by their ID using the provided DBExecutor.
	GetUserByID(ctx context.Context, q DBExecutor, id int64) (*domain.User, error)
	// GetUserByIdentity retrieves a user by external identity using the provided DBExecutor.
	GetUserByIdentity(ctx context.Context, q DBExecutor, identity string) (*domain.User, error)
	// Credit adds a positive amount to the balance and returns the new balance.
	Credit(ctx context.Context, q DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	// Debit subtracts a positive amount if the balance covers it and returns the new balance.
	// The sufficiency check and the write are a single atomic statement.
	Debit(ctx context.Context, q DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
}

// internal/repository/postgres/user_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

const userColumns = `id, identity, balance, created_at, updated_at`

// UserRepository implements repository.UserRepository for PostgreSQL.
// It holds no connection; every method receives a DBExecutor.
type UserRepository struct{}

// NewUserRepository creates a new UserRepository.
func NewUserRepository() repository.UserRepository {
	return &UserRepository{}
}

// GetOrCreateUser inserts the identity if it is new and returns the stored row in one statement.
func (r *UserRepository) GetOrCreateUser(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	if identity == "" {
		return nil, util.Invalid("identity", "must not be empty")
	}
	var user domain.User
	now := time.Now().UTC()
	query := `INSERT INTO users (identity, balance, created_at, updated_at)
              VALUES ($1, 0, $2, $2)
              ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity
              RETURNING ` + userColumns
	if err := q.GetContext(ctx, &user, query, identity, now); err != nil {
		return nil, util.Persistence("failed to get or create user", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by their ID using the provided DBExecutor.
func (r *UserRepository) GetUserByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := q.GetContext(ctx, &user, query, id); err != nil {
		return nil, readError(fmt.Sprintf("failed to get user by ID %d", id), err, util.ErrUserNotFound)
	}
	return &user, nil
}

// GetUserByIdentity retrieves a user by external identity using the provided DBExecutor.
func (r *UserRepository) GetUserByIdentity(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE identity = $1`
	if err := q.GetContext(ctx, &user, query, identity); err != nil {
		return nil, readError(fmt.Sprintf("failed to get user by identity '%s'", identity), err, util.ErrUserNotFound)
	}
	return &user, nil
}

// Credit adds amount to the user's balance.
func (r *UserRepository) Credit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, util.Invalid("amount", "credit amount must be positive")
	}
	var balance decimal.Decimal
	query := `UPDATE users SET balance = balance + $1, updated_at = $2 WHERE id = $3 RETURNING balance`
	if err := q.GetContext(ctx, &balance, query, amount, time.Now().UTC(), userID); err != nil {
		return decimal.Zero, readError(fmt.Sprintf("failed to credit user %d", userID), err, util.ErrUserNotFound)
	}
	return balance, nil
}

// Debit subtracts amount only if the balance covers it; the check and the write are one statement.
func (r *UserRepository) Debit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, util.Invalid("amount", "debit amount must be positive")
	}
	var balance decimal.Decimal
	query := `UPDATE users SET balance = balance - $1, updated_at = $2
              WHERE id = $3 AND balance >= $1 RETURNING balance`
	err := q.GetContext(ctx, &balance, query, amount, time.Now().UTC(), userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, util.Persistence(fmt.Sprintf("failed to debit user %d", userID), err)
	}

	// No row matched: either the user is missing or the balance is short.
	user, getErr := r.GetUserByID(ctx, q, userID)
	if getErr != nil {
		return decimal.Zero, getErr
	}
	return decimal.Zero, &util.InsufficientFundsError{Balance: user.Balance, Requested: amount}
}

// internal/repository/memory/user.go
package memory

import (
	"context"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// UserRepository implements repository.UserRepository on a Store.
type UserRepository struct{}

// NewUserRepository creates a new UserRepository.
func NewUserRepository() repository.UserRepository {
	return &UserRepository{}
}

func (r *UserRepository) GetOrCreateUser(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	if identity == "" {
		return nil, util.Invalid("identity", "must not be empty")
	}
	var out domain.User
	err := access(ctx, q, "users.GetOrCreateUser", func(s *Store, u *undoLog) error {
		if id, ok := s.identities[identity]; ok {
			out = *s.users[id]
			return nil
		}
		s.nextUser++
		user := domain.NewUser(identity)
		user.ID = s.nextUser
		s.users[user.ID] = user
		s.identities[identity] = user.ID
		u.push(func() {
			delete(s.users, user.ID)
			delete(s.identities, identity)
		})
		out = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.User, error) {
	var out domain.User
	err := access(ctx, q, "users.GetUserByID", func(s *Store, _ *undoLog) error {
		user, ok := s.users[id]
		if !ok {
			return util.ErrUserNotFound
		}
		out = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) GetUserByIdentity(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	var out domain.User
	err := access(ctx, q, "users.GetUserByIdentity", func(s *Store, _ *undoLog) error {
		id, ok := s.identities[identity]
		if !ok {
			return util.ErrUserNotFound
		}
		out = *s.users[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) Credit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, util.Invalid("amount", "credit amount must be positive")
	}
	return r.adjust(ctx, q, "users.Credit", userID, amount)
}

func (r *UserRepository) Debit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, util.Invalid("amount", "debit amount must be positive")
	}
	return r.adjust(ctx, q, "users.Debit", userID, amount.Neg())
}

func (r *UserRepository) adjust(ctx context.Context, q repository.DBExecutor, op string, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := access(ctx, q, op, func(s *Store, u *undoLog) error {
		user, ok := s.users[userID]
		if !ok {
			return util.ErrUserNotFound
		}
		next := user.Balance.Add(delta)
		if next.IsNegative() {
			return &util.InsufficientFundsError{Balance: user.Balance, Requested: delta.Neg()}
		}
		prev, prevUpdated := user.Balance, user.UpdatedAt
		user.Balance = next
		user.UpdatedAt = time.Now().UTC()
		u.push(func() {
			user.Balance = prev
			user.UpdatedAt = prevUpdated
		})
		balance = next
		return nil
	})
	return balance, err
}

// internal/service/ledger_service.go
package service

import (
	"context"
	"errors"
	"fmt"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// LedgerService exposes per-user balances.
type LedgerService struct {
	dbExecutor repository.DBExecutor // For non-transactional reads
	tx         *TxRunner
	users      repository.UserRepository
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(dbExecutor repository.DBExecutor, tx *TxRunner, users repository.UserRepository) *LedgerService {
	return &LedgerService{dbExecutor: dbExecutor, tx: tx, users: users}
}

// GetBalance returns the user's balance; an identity never seen before has a balance of 0.
func (s *LedgerService) GetBalance(ctx context.Context, identity string) (decimal.Decimal, error) {
	user, err := s.users.GetUserByIdentity(ctx, s.dbExecutor, identity)
	if errors.Is(err, util.ErrUserNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return user.Balance, nil
}

// EnsureUser returns the user for identity, creating it on first interaction.
func (s *LedgerService) EnsureUser(ctx context.Context, identity string) (*domain.User, error) {
	user, err := s.users.GetOrCreateUser(ctx, s.dbExecutor, identity)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// Credit adds amount to identity's balance and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, identity string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.tx.InTx(ctx, "credit", func(q repository.DBExecutor) error {
		user, err := s.users.GetOrCreateUser(ctx, q, identity)
		if err != nil {
			return fmt.Errorf("credit: %w", err)
		}
		balance, err = s.users.Credit(ctx, q, user.ID, amount)
		return err
	})
	return balance, err
}

// Debit removes amount from identity's balance, failing without mutation if it is not covered.
func (s *LedgerService) Debit(ctx context.Context, identity string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.tx.InTx(ctx, "debit", func(q repository.DBExecutor) error {
		user, err := s.users.GetUserByIdentity(ctx, q, identity)
		if err != nil {
			return fmt.Errorf("debit: %w", err)
		}
		balance, err = s.users.Debit(ctx, q, user.ID, amount)
		return err
	})
	return balance, err
}

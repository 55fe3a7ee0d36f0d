// internal/repository/transaction_repo.go
package repository

import (
	"context"

	"paygate/internal/domain"
)

// TransactionRepository defines the interface for transaction record operations.
type TransactionRepository interface {
	// CreateTransaction inserts a new record and sets its ID.
	CreateTransaction(ctx context.Context, q DBExecutor, tx *domain.Transaction) error
	// GetTransaction retrieves a record by rail and id.
	GetTransaction(ctx context.Context, q DBExecutor, ref domain.TxRef) (*domain.Transaction, error)
	// GetTransactionForUpdate retrieves a record and locks it until the surrounding transaction ends.
	GetTransactionForUpdate(ctx context.Context, q DBExecutor, ref domain.TxRef) (*domain.Transaction, error)
	// UpdateStatus applies a partial update. Re-applying the current status is a no-op.
	UpdateStatus(ctx context.Context, q DBExecutor, ref domain.TxRef, upd domain.StatusUpdate) error
	// MarkRefunded stamps refunded_at once; it reports false if the record was already refunded.
	MarkRefunded(ctx context.Context, q DBExecutor, ref domain.TxRef) (bool, error)
	// ExistsActiveReference reports whether a non-rejected record on rail already carries reference.
	ExistsActiveReference(ctx context.Context, q DBExecutor, rail domain.Rail, reference string) (bool, error)
	// ListByStatus returns records in any of the statuses, oldest first.
	ListByStatus(ctx context.Context, q DBExecutor, statuses ...domain.TransactionStatus) ([]domain.Transaction, error)
	// ListByUser returns a user's records, newest first, together with the total count.
	ListByUser(ctx context.Context, q DBExecutor, userID int64, limit, offset int) ([]domain.Transaction, int, error)
}

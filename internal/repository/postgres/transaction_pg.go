// internal/repository/postgres/transaction_pg.go
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/jmoiron/sqlx"
)

const transactionColumns = `id, user_id, direction, rail, currency, chain, amount, fee, net_amount,
	settled_amount, settled_currency, destination, external_reference, payout_key, status, reason,
	created_at, decided_at, completed_at, refunded_at, updated_at`

// TransactionRepository implements repository.TransactionRepository for PostgreSQL.
// All rails share one table, discriminated by the rail and direction columns.
type TransactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository() repository.TransactionRepository {
	return &TransactionRepository{}
}

// CreateTransaction inserts a new transaction record into the database using the provided DBExecutor.
func (r *TransactionRepository) CreateTransaction(ctx context.Context, q repository.DBExecutor, tx *domain.Transaction) error {
	query := `INSERT INTO transactions (user_id, direction, rail, currency, chain, amount, fee, net_amount,
                  settled_amount, settled_currency, destination, external_reference, payout_key, status, reason,
                  created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`

	err := q.GetContext(ctx, &tx.ID, query,
		tx.UserID,
		tx.Direction,
		tx.Rail,
		tx.Currency,
		tx.Chain,
		tx.Amount,
		tx.Fee,
		tx.NetAmount,
		tx.SettledAmount,
		tx.SettledCurrency,
		tx.Destination,
		tx.ExternalReference,
		tx.PayoutKey,
		tx.Status,
		tx.Reason,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return writeError("failed to create transaction", err)
	}
	return nil
}

// GetTransaction retrieves a record by rail and id.
func (r *TransactionRepository) GetTransaction(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	return r.get(ctx, q, ref, "")
}

// GetTransactionForUpdate locks the row until the surrounding transaction ends.
func (r *TransactionRepository) GetTransactionForUpdate(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	return r.get(ctx, q, ref, " FOR UPDATE")
}

func (r *TransactionRepository) get(ctx context.Context, q repository.DBExecutor, ref domain.TxRef, suffix string) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND rail = $2` + suffix
	if err := q.GetContext(ctx, &tx, query, ref.ID, ref.Rail); err != nil {
		return nil, readError(fmt.Sprintf("failed to get transaction %s", ref), err, util.ErrNotFound)
	}
	return &tx, nil
}

// UpdateStatus applies a partial update; nil fields in upd are left untouched.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, q repository.DBExecutor, ref domain.TxRef, upd domain.StatusUpdate) error {
	sets := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{upd.Status, time.Now().UTC()}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Reason != nil {
		add("reason", *upd.Reason)
	}
	if upd.ExternalReference != nil {
		add("external_reference", *upd.ExternalReference)
	}
	if upd.PayoutKey != nil {
		add("payout_key", *upd.PayoutKey)
	}
	if upd.SettledAmount != nil {
		add("settled_amount", *upd.SettledAmount)
	}
	if upd.DecidedAt != nil {
		add("decided_at", *upd.DecidedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	args = append(args, ref.ID, ref.Rail)
	query := fmt.Sprintf(`UPDATE transactions SET %s WHERE id = $%d AND rail = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return writeError(fmt.Sprintf("failed to update transaction %s", ref), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return util.Persistence(fmt.Sprintf("failed to get rows affected for transaction %s", ref), err)
	}
	if rowsAffected == 0 {
		return util.ErrNotFound
	}
	return nil
}

// MarkRefunded stamps refunded_at if it is still NULL.
func (r *TransactionRepository) MarkRefunded(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE transactions SET refunded_at = $1, updated_at = $1
              WHERE id = $2 AND rail = $3 AND refunded_at IS NULL`
	result, err := q.ExecContext(ctx, query, now, ref.ID, ref.Rail)
	if err != nil {
		return false, util.Persistence(fmt.Sprintf("failed to mark transaction %s refunded", ref), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, util.Persistence(fmt.Sprintf("failed to get rows affected for transaction %s", ref), err)
	}
	return rowsAffected == 1, nil
}

// ExistsActiveReference reports whether a non-rejected record on rail already uses reference.
func (r *TransactionRepository) ExistsActiveReference(ctx context.Context, q repository.DBExecutor, rail domain.Rail, reference string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
                  SELECT 1 FROM transactions
                  WHERE rail = $1 AND external_reference = $2 AND status <> $3)`
	if err := q.GetContext(ctx, &exists, query, rail, reference, domain.StatusRejected); err != nil {
		return false, util.Persistence("failed to check external reference", err)
	}
	return exists, nil
}

// ListByStatus returns records in any of the given statuses, oldest first.
func (r *TransactionRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, statuses ...domain.TransactionStatus) ([]domain.Transaction, error) {
	transactions := []domain.Transaction{}
	if len(statuses) == 0 {
		return transactions, nil
	}
	query, args, err := sqlx.In(`SELECT `+transactionColumns+` FROM transactions
              WHERE status IN (?) ORDER BY created_at, id`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}
	if err := q.SelectContext(ctx, &transactions, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		return nil, util.Persistence("failed to list transactions by status", err)
	}
	return transactions, nil
}

// ListByUser retrieves a paginated list of a user's records.
// It performs two queries: one for the data and one for the total count.
func (r *TransactionRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64, limit, offset int) ([]domain.Transaction, int, error) {
	transactions := []domain.Transaction{}

	query := `SELECT ` + transactionColumns + ` FROM transactions
              WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &transactions, query, userID, limit, offset); err != nil {
		return nil, 0, util.Persistence(fmt.Sprintf("failed to fetch transactions for user %d", userID), err)
	}

	var totalCount int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	if err := q.GetContext(ctx, &totalCount, countQuery, userID); err != nil {
		return nil, 0, util.Persistence(fmt.Sprintf("failed to count transactions for user %d", userID), err)
	}

	return transactions, totalCount, nil
}

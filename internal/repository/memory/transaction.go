// internal/repository/memory/transaction.go
package memory

import (
	"context"
	"sort"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

// TransactionRepository implements repository.TransactionRepository on a Store.
type TransactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository() repository.TransactionRepository {
	return &TransactionRepository{}
}

func cloneTx(t *domain.Transaction) *domain.Transaction {
	c := *t
	c.ExternalReference = clonePtr(t.ExternalReference)
	c.PayoutKey = clonePtr(t.PayoutKey)
	c.Reason = clonePtr(t.Reason)
	c.DecidedAt = clonePtr(t.DecidedAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.RefundedAt = clonePtr(t.RefundedAt)
	return &c
}

// referenceTaken mirrors the partial unique index on (rail, external_reference).
func (s *Store) referenceTaken(rail domain.Rail, reference string, exceptID int64) bool {
	for _, t := range s.transactions {
		if t.ID == exceptID || t.Rail != rail || t.Status == domain.StatusRejected || t.ExternalReference == nil {
			continue
		}
		if *t.ExternalReference == reference {
			return true
		}
	}
	return false
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, q repository.DBExecutor, tx *domain.Transaction) error {
	return access(ctx, q, "transactions.CreateTransaction", func(s *Store, u *undoLog) error {
		if tx.ExternalReference != nil && tx.Status != domain.StatusRejected &&
			s.referenceTaken(tx.Rail, *tx.ExternalReference, 0) {
			return util.ErrDuplicateEntry
		}
		if _, ok := s.users[tx.UserID]; !ok {
			return util.ErrUserNotFound
		}
		s.nextTx++
		tx.ID = s.nextTx
		stored := cloneTx(tx)
		s.transactions[stored.ID] = stored
		u.push(func() { delete(s.transactions, stored.ID) })
		return nil
	})
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := access(ctx, q, "transactions.GetTransaction", func(s *Store, _ *undoLog) error {
		t, ok := s.transactions[ref.ID]
		if !ok || t.Rail != ref.Rail {
			return util.ErrNotFound
		}
		out = cloneTx(t)
		return nil
	})
	return out, err
}

// GetTransactionForUpdate needs no extra locking: a memory transaction already holds the store.
func (r *TransactionRepository) GetTransactionForUpdate(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	return r.GetTransaction(ctx, q, ref)
}

func (r *TransactionRepository) UpdateStatus(ctx context.Context, q repository.DBExecutor, ref domain.TxRef, upd domain.StatusUpdate) error {
	return access(ctx, q, "transactions.UpdateStatus", func(s *Store, u *undoLog) error {
		t, ok := s.transactions[ref.ID]
		if !ok || t.Rail != ref.Rail {
			return util.ErrNotFound
		}
		reference := t.ExternalReference
		if upd.ExternalReference != nil {
			reference = upd.ExternalReference
		}
		if reference != nil && upd.Status != domain.StatusRejected &&
			s.referenceTaken(t.Rail, *reference, t.ID) {
			return util.ErrDuplicateEntry
		}

		prev := cloneTx(t)
		t.Status = upd.Status
		t.UpdatedAt = time.Now().UTC()
		if upd.Reason != nil {
			t.Reason = clonePtr(upd.Reason)
		}
		if upd.ExternalReference != nil {
			t.ExternalReference = clonePtr(upd.ExternalReference)
		}
		if upd.PayoutKey != nil {
			t.PayoutKey = clonePtr(upd.PayoutKey)
		}
		if upd.SettledAmount != nil {
			t.SettledAmount.Decimal = *upd.SettledAmount
			t.SettledAmount.Valid = true
		}
		if upd.DecidedAt != nil {
			t.DecidedAt = clonePtr(upd.DecidedAt)
		}
		if upd.CompletedAt != nil {
			t.CompletedAt = clonePtr(upd.CompletedAt)
		}
		u.push(func() { *t = *prev })
		return nil
	})
}

func (r *TransactionRepository) MarkRefunded(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (bool, error) {
	var marked bool
	err := access(ctx, q, "transactions.MarkRefunded", func(s *Store, u *undoLog) error {
		t, ok := s.transactions[ref.ID]
		if !ok || t.Rail != ref.Rail {
			return nil
		}
		if t.RefundedAt != nil {
			return nil
		}
		prev := cloneTx(t)
		now := time.Now().UTC()
		t.RefundedAt = &now
		t.UpdatedAt = now
		u.push(func() { *t = *prev })
		marked = true
		return nil
	})
	return marked, err
}

func (r *TransactionRepository) ExistsActiveReference(ctx context.Context, q repository.DBExecutor, rail domain.Rail, reference string) (bool, error) {
	var exists bool
	err := access(ctx, q, "transactions.ExistsActiveReference", func(s *Store, _ *undoLog) error {
		exists = s.referenceTaken(rail, reference, 0)
		return nil
	})
	return exists, err
}

func (r *TransactionRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, statuses ...domain.TransactionStatus) ([]domain.Transaction, error) {
	out := []domain.Transaction{}
	err := access(ctx, q, "transactions.ListByStatus", func(s *Store, _ *undoLog) error {
		want := make(map[domain.TransactionStatus]bool, len(statuses))
		for _, st := range statuses {
			want[st] = true
		}
		for _, t := range s.transactions {
			if want[t.Status] {
				out = append(out, *cloneTx(t))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64, limit, offset int) ([]domain.Transaction, int, error) {
	var all []domain.Transaction
	err := access(ctx, q, "transactions.ListByUser", func(s *Store, _ *undoLog) error {
		for _, t := range s.transactions {
			if t.UserID == userID {
				all = append(all, *cloneTx(t))
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit >= 0 && offset+limit < total {
		end = offset + limit
	}
	return append([]domain.Transaction{}, all[offset:end]...), total, nil
}

// internal/repository/memory/audit.go
package memory

import (
	"context"

	"paygate/internal/domain"
	"paygate/internal/repository"
)

// AuditRepository implements repository.AuditRepository on a Store.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() repository.AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, q repository.DBExecutor, entry *domain.AuditEntry) error {
	return access(ctx, q, "audit.Append", func(s *Store, u *undoLog) error {
		n := len(s.audit)
		entry.ID = int64(n + 1)
		stored := *entry
		stored.Reason = clonePtr(entry.Reason)
		s.audit = append(s.audit, stored)
		u.push(func() { s.audit = s.audit[:n] })
		return nil
	})
}

func (r *AuditRepository) ListBySubject(ctx context.Context, q repository.DBExecutor, source string, txID int64) ([]domain.AuditEntry, error) {
	out := []domain.AuditEntry{}
	err := access(ctx, q, "audit.ListBySubject", func(s *Store, _ *undoLog) error {
		for _, e := range s.audit {
			if e.Source == source && e.TxID == txID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *AuditRepository) ListRecent(ctx context.Context, q repository.DBExecutor, limit int) ([]domain.AuditEntry, error) {
	out := []domain.AuditEntry{}
	err := access(ctx, q, "audit.ListRecent", func(s *Store, _ *undoLog) error {
		for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, s.audit[i])
		}
		return nil
	})
	return out, err
}

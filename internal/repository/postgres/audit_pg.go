// internal/repository/postgres/audit_pg.go
package postgres

import (
	"context"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

const auditColumns = `id, source, tx_id, action, actor, reason, created_at`

// AuditRepository implements repository.AuditRepository for PostgreSQL.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() repository.AuditRepository {
	return &AuditRepository{}
}

// Append inserts an entry; the table has no UPDATE path.
func (r *AuditRepository) Append(ctx context.Context, q repository.DBExecutor, entry *domain.AuditEntry) error {
	query := `INSERT INTO audit_log (source, tx_id, action, actor, reason, created_at)
              VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := q.GetContext(ctx, &entry.ID, query,
		entry.Source, entry.TxID, entry.Action, entry.Actor, entry.Reason, entry.CreatedAt)
	if err != nil {
		return util.Persistence("failed to append audit entry", err)
	}
	return nil
}

// ListBySubject returns the trail of one record in insertion order.
func (r *AuditRepository) ListBySubject(ctx context.Context, q repository.DBExecutor, source string, txID int64) ([]domain.AuditEntry, error) {
	entries := []domain.AuditEntry{}
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE source = $1 AND tx_id = $2 ORDER BY id`
	if err := q.SelectContext(ctx, &entries, query, source, txID); err != nil {
		return nil, util.Persistence("failed to list audit entries", err)
	}
	return entries, nil
}

// ListRecent returns the newest entries first.
func (r *AuditRepository) ListRecent(ctx context.Context, q repository.DBExecutor, limit int) ([]domain.AuditEntry, error) {
	entries := []domain.AuditEntry{}
	query := `SELECT ` + auditColumns + ` FROM audit_log ORDER BY id DESC LIMIT $1`
	if err := q.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, util.Persistence("failed to list recent audit entries", err)
	}
	return entries, nil
}

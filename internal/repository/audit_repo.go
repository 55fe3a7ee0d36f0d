// internal/repository/audit_repo.go
package repository

import (
	"context"

	"paygate/internal/domain"
)

// AuditRepository appends and reads audit log entries. Entries are never updated.
type AuditRepository interface {
	Append(ctx context.Context, q DBExecutor, entry *domain.AuditEntry) error
	ListBySubject(ctx context.Context, q DBExecutor, source string, txID int64) ([]domain.AuditEntry, error)
	ListRecent(ctx context.Context, q DBExecutor, limit int) ([]domain.AuditEntry, error)
}

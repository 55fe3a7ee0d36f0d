// internal/repository/postgres/whitelist_pg.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

const whitelistColumns = `id, user_id, rail, chain, destination, label, status, approved_by, approved_at,
	deactivated_at, created_at, updated_at`

// WhitelistRepository implements repository.WhitelistRepository for PostgreSQL.
type WhitelistRepository struct{}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository() repository.WhitelistRepository {
	return &WhitelistRepository{}
}

// Create inserts an entry. The partial unique index on live entries reports duplicates.
func (r *WhitelistRepository) Create(ctx context.Context, q repository.DBExecutor, entry *domain.WhitelistEntry) error {
	query := `INSERT INTO whitelisted_destinations (user_id, rail, chain, destination, label, status,
                  approved_by, approved_at, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	err := q.GetContext(ctx, &entry.ID, query,
		entry.UserID, entry.Rail, entry.Chain, entry.Destination, entry.Label, entry.Status,
		entry.ApprovedBy, entry.ApprovedAt, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return writeError("failed to create whitelist entry", err)
	}
	return nil
}

// GetByID retrieves an entry by id.
func (r *WhitelistRepository) GetByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	return r.get(ctx, q, id, "")
}

// GetByIDForUpdate retrieves an entry by id and locks its row.
func (r *WhitelistRepository) GetByIDForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	return r.get(ctx, q, id, " FOR UPDATE")
}

func (r *WhitelistRepository) get(ctx context.Context, q repository.DBExecutor, id int64, suffix string) (*domain.WhitelistEntry, error) {
	var entry domain.WhitelistEntry
	query := `SELECT ` + whitelistColumns + ` FROM whitelisted_destinations WHERE id = $1` + suffix
	if err := q.GetContext(ctx, &entry, query, id); err != nil {
		return nil, readError(fmt.Sprintf("failed to get whitelist entry %d", id), err, util.ErrNotFound)
	}
	return &entry, nil
}

// FindLive returns the pending or active entry for (user, rail, chain, destination).
func (r *WhitelistRepository) FindLive(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.Rail, chain, destination string) (*domain.WhitelistEntry, error) {
	var entry domain.WhitelistEntry
	query := `SELECT ` + whitelistColumns + ` FROM whitelisted_destinations
              WHERE user_id = $1 AND rail = $2 AND chain = $3 AND destination = $4 AND status <> $5
              ORDER BY id DESC LIMIT 1`
	err := q.GetContext(ctx, &entry, query, userID, rail, chain, destination, domain.WhitelistInactive)
	if err != nil {
		return nil, readError("failed to find whitelist entry", err, util.ErrNotFound)
	}
	return &entry, nil
}

// ListByUser returns all of a user's entries, newest first.
func (r *WhitelistRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64) ([]domain.WhitelistEntry, error) {
	entries := []domain.WhitelistEntry{}
	query := `SELECT ` + whitelistColumns + ` FROM whitelisted_destinations WHERE user_id = $1 ORDER BY id DESC`
	if err := q.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, util.Persistence(fmt.Sprintf("failed to list whitelist for user %d", userID), err)
	}
	return entries, nil
}

// ListByStatus returns entries in status, oldest first.
func (r *WhitelistRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, status domain.WhitelistStatus) ([]domain.WhitelistEntry, error) {
	entries := []domain.WhitelistEntry{}
	query := `SELECT ` + whitelistColumns + ` FROM whitelisted_destinations WHERE status = $1 ORDER BY id`
	if err := q.SelectContext(ctx, &entries, query, status); err != nil {
		return nil, util.Persistence("failed to list whitelist entries", err)
	}
	return entries, nil
}

// SetStatus moves an entry to status and stamps the matching timestamp columns.
func (r *WhitelistRepository) SetStatus(ctx context.Context, q repository.DBExecutor, id int64, status domain.WhitelistStatus, actor string, at time.Time) error {
	var (
		result sql.Result
		err    error
	)
	switch status {
	case domain.WhitelistActive:
		query := `UPDATE whitelisted_destinations SET status = $1, approved_by = $2, approved_at = $3, updated_at = $3
                  WHERE id = $4 AND status = $5`
		result, err = q.ExecContext(ctx, query, status, actor, at, id, domain.WhitelistPending)
	case domain.WhitelistInactive:
		query := `UPDATE whitelisted_destinations SET status = $1, deactivated_at = $2, updated_at = $2
                  WHERE id = $3 AND status <> $1`
		result, err = q.ExecContext(ctx, query, status, at, id)
	default:
		return util.Invalid("status", "cannot move a whitelist entry back to %s", status)
	}
	if err != nil {
		return writeError(fmt.Sprintf("failed to update whitelist entry %d", id), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return util.Persistence(fmt.Sprintf("failed to get rows affected for whitelist entry %d", id), err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("whitelist entry %d is missing or not eligible for %s: %w", id, status, util.ErrInvalidTransition)
	}
	return nil
}

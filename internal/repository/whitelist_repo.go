// internal/repository/whitelist_repo.go
package repository

import (
	"context"
	"time"

	"paygate/internal/domain"
)

// WhitelistRepository stores payout destinations.
type WhitelistRepository interface {
	Create(ctx context.Context, q DBExecutor, entry *domain.WhitelistEntry) error
	GetByID(ctx context.Context, q DBExecutor, id int64) (*domain.WhitelistEntry, error)
	// GetByIDForUpdate is GetByID holding a row lock until q's transaction ends.
	GetByIDForUpdate(ctx context.Context, q DBExecutor, id int64) (*domain.WhitelistEntry, error)
	// FindLive returns the pending or active entry for the key, or util.ErrNotFound.
	FindLive(ctx context.Context, q DBExecutor, userID int64, rail domain.Rail, chain, destination string) (*domain.WhitelistEntry, error)
	ListByUser(ctx context.Context, q DBExecutor, userID int64) ([]domain.WhitelistEntry, error)
	ListByStatus(ctx context.Context, q DBExecutor, status domain.WhitelistStatus) ([]domain.WhitelistEntry, error)
	// SetStatus changes the status and stamps approved_* or deactivated_at accordingly.
	// Activation applies only to pending entries and deactivation only to live ones;
	// otherwise it returns util.ErrInvalidTransition.
	SetStatus(ctx context.Context, q DBExecutor, id int64, status domain.WhitelistStatus, actor string, at time.Time) error
}

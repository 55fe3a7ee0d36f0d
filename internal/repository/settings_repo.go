// internal/repository/settings_repo.go
package repository

import (
	"context"

	"paygate/internal/domain"
)

// SettingsRepository stores versioned key-value settings.
type SettingsRepository interface {
	Get(ctx context.Context, q DBExecutor, key string) (*domain.Setting, error)
	List(ctx context.Context, q DBExecutor) ([]domain.Setting, error)
	// Upsert writes value, increments the version and returns the stored row.
	Upsert(ctx context.Context, q DBExecutor, key, value, updatedBy string) (*domain.Setting, error)
}

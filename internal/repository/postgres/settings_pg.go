// internal/repository/postgres/settings_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

const settingColumns = `key, value, version, updated_by, updated_at`

// SettingsRepository implements repository.SettingsRepository for PostgreSQL.
type SettingsRepository struct{}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository() repository.SettingsRepository {
	return &SettingsRepository{}
}

// Get retrieves a single setting.
func (r *SettingsRepository) Get(ctx context.Context, q repository.DBExecutor, key string) (*domain.Setting, error) {
	var setting domain.Setting
	query := `SELECT ` + settingColumns + ` FROM settings WHERE key = $1`
	if err := q.GetContext(ctx, &setting, query, key); err != nil {
		return nil, readError(fmt.Sprintf("failed to get setting '%s'", key), err, util.ErrNotFound)
	}
	return &setting, nil
}

// List returns every stored setting ordered by key.
func (r *SettingsRepository) List(ctx context.Context, q repository.DBExecutor) ([]domain.Setting, error) {
	settings := []domain.Setting{}
	query := `SELECT ` + settingColumns + ` FROM settings ORDER BY key`
	if err := q.SelectContext(ctx, &settings, query); err != nil {
		return nil, util.Persistence("failed to list settings", err)
	}
	return settings, nil
}

// Upsert writes the value and bumps the version; concurrent writers are last-writer-wins.
func (r *SettingsRepository) Upsert(ctx context.Context, q repository.DBExecutor, key, value, updatedBy string) (*domain.Setting, error) {
	var setting domain.Setting
	query := `INSERT INTO settings (key, value, version, updated_by, updated_at)
              VALUES ($1, $2, 1, $3, $4)
              ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = settings.version + 1,
                  updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
              RETURNING ` + settingColumns
	if err := q.GetContext(ctx, &setting, query, key, value, updatedBy, time.Now().UTC()); err != nil {
		return nil, util.Persistence(fmt.Sprintf("failed to write setting '%s'", key), err)
	}
	return &setting, nil
}

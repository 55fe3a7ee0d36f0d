// internal/repository/memory/settings.go
package memory

import (
	"context"
	"sort"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

// SettingsRepository implements repository.SettingsRepository on a Store.
type SettingsRepository struct{}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository() repository.SettingsRepository {
	return &SettingsRepository{}
}

func (r *SettingsRepository) Get(ctx context.Context, q repository.DBExecutor, key string) (*domain.Setting, error) {
	var out domain.Setting
	err := access(ctx, q, "settings.Get", func(s *Store, _ *undoLog) error {
		setting, ok := s.settings[key]
		if !ok {
			return util.ErrNotFound
		}
		out = *setting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *SettingsRepository) List(ctx context.Context, q repository.DBExecutor) ([]domain.Setting, error) {
	out := []domain.Setting{}
	err := access(ctx, q, "settings.List", func(s *Store, _ *undoLog) error {
		for _, setting := range s.settings {
			out = append(out, *setting)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

func (r *SettingsRepository) Upsert(ctx context.Context, q repository.DBExecutor, key, value, updatedBy string) (*domain.Setting, error) {
	var out domain.Setting
	err := access(ctx, q, "settings.Upsert", func(s *Store, u *undoLog) error {
		prev, existed := s.settings[key]
		next := &domain.Setting{Key: key, Value: value, Version: 1, UpdatedBy: updatedBy, UpdatedAt: time.Now().UTC()}
		if existed {
			next.Version = prev.Version + 1
		}
		s.settings[key] = next
		u.push(func() {
			if existed {
				s.settings[key] = prev
			} else {
				delete(s.settings, key)
			}
		})
		out = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// internal/repository/memory/whitelist.go
package memory

import (
	"context"
	"sort"
	"time"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"
)

// WhitelistRepository implements repository.WhitelistRepository on a Store.
type WhitelistRepository struct{}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository() repository.WhitelistRepository {
	return &WhitelistRepository{}
}

func cloneEntry(e *domain.WhitelistEntry) *domain.WhitelistEntry {
	c := *e
	c.Label = clonePtr(e.Label)
	c.ApprovedBy = clonePtr(e.ApprovedBy)
	c.ApprovedAt = clonePtr(e.ApprovedAt)
	c.DeactivatedAt = clonePtr(e.DeactivatedAt)
	return &c
}

func (s *Store) liveEntry(userID int64, rail domain.Rail, chain, destination string) *domain.WhitelistEntry {
	var found *domain.WhitelistEntry
	for _, e := range s.whitelist {
		if e.UserID == userID && e.Status != domain.WhitelistInactive && e.Matches(rail, chain, destination) {
			if found == nil || e.ID > found.ID {
				found = e
			}
		}
	}
	return found
}

func (r *WhitelistRepository) Create(ctx context.Context, q repository.DBExecutor, entry *domain.WhitelistEntry) error {
	return access(ctx, q, "whitelist.Create", func(s *Store, u *undoLog) error {
		if entry.Status != domain.WhitelistInactive &&
			s.liveEntry(entry.UserID, entry.Rail, entry.Chain, entry.Destination) != nil {
			return util.ErrDuplicateEntry
		}
		s.nextWhitelist++
		entry.ID = s.nextWhitelist
		stored := cloneEntry(entry)
		s.whitelist[stored.ID] = stored
		u.push(func() { delete(s.whitelist, stored.ID) })
		return nil
	})
}

func (r *WhitelistRepository) GetByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	var out *domain.WhitelistEntry
	err := access(ctx, q, "whitelist.GetByID", func(s *Store, _ *undoLog) error {
		e, ok := s.whitelist[id]
		if !ok {
			return util.ErrNotFound
		}
		out = cloneEntry(e)
		return nil
	})
	return out, err
}

// GetByIDForUpdate is GetByID; transactions on a Store are already serialized.
func (r *WhitelistRepository) GetByIDForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	return r.GetByID(ctx, q, id)
}

func (r *WhitelistRepository) FindLive(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.Rail, chain, destination string) (*domain.WhitelistEntry, error) {
	var out *domain.WhitelistEntry
	err := access(ctx, q, "whitelist.FindLive", func(s *Store, _ *undoLog) error {
		e := s.liveEntry(userID, rail, chain, destination)
		if e == nil {
			return util.ErrNotFound
		}
		out = cloneEntry(e)
		return nil
	})
	return out, err
}

func (r *WhitelistRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64) ([]domain.WhitelistEntry, error) {
	out := []domain.WhitelistEntry{}
	err := access(ctx, q, "whitelist.ListByUser", func(s *Store, _ *undoLog) error {
		for _, e := range s.whitelist {
			if e.UserID == userID {
				out = append(out, *cloneEntry(e))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

func (r *WhitelistRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, status domain.WhitelistStatus) ([]domain.WhitelistEntry, error) {
	out := []domain.WhitelistEntry{}
	err := access(ctx, q, "whitelist.ListByStatus", func(s *Store, _ *undoLog) error {
		for _, e := range s.whitelist {
			if e.Status == status {
				out = append(out, *cloneEntry(e))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *WhitelistRepository) SetStatus(ctx context.Context, q repository.DBExecutor, id int64, status domain.WhitelistStatus, actor string, at time.Time) error {
	if status != domain.WhitelistActive && status != domain.WhitelistInactive {
		return util.Invalid("status", "cannot move a whitelist entry back to %s", status)
	}
	return access(ctx, q, "whitelist.SetStatus", func(s *Store, u *undoLog) error {
		e, ok := s.whitelist[id]
		if !ok {
			return util.ErrNotFound
		}
		if (status == domain.WhitelistActive && e.Status != domain.WhitelistPending) ||
			(status == domain.WhitelistInactive && e.Status == domain.WhitelistInactive) {
			return util.ErrInvalidTransition
		}
		prev := cloneEntry(e)
		e.Status = status
		e.UpdatedAt = at
		if status == domain.WhitelistActive {
			e.ApprovedBy = &actor
			e.ApprovedAt = &at
		} else {
			e.DeactivatedAt = &at
		}
		u.push(func() { *e = *prev })
		return nil
	})
}

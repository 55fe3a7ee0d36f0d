// internal/service/whitelist_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/notify"
	"paygate/internal/repository"
	"paygate/internal/util"
)

// WhitelistService manages the payout destinations withdrawals must target.
type WhitelistService struct {
	dbExecutor       repository.DBExecutor
	tx               *TxRunner
	users            repository.UserRepository
	repo             repository.WhitelistRepository
	audit            repository.AuditRepository
	sink             notify.Sink
	requiresApproval bool
}

// NewWhitelistService creates a WhitelistService. With requiresApproval, new entries
// stay pending until an administrator approves them.
func NewWhitelistService(
	dbExecutor repository.DBExecutor,
	tx *TxRunner,
	users repository.UserRepository,
	repo repository.WhitelistRepository,
	audit repository.AuditRepository,
	sink notify.Sink,
	requiresApproval bool,
) *WhitelistService {
	return &WhitelistService{
		dbExecutor:       dbExecutor,
		tx:               tx,
		users:            users,
		repo:             repo,
		audit:            audit,
		sink:             sink,
		requiresApproval: requiresApproval,
	}
}

// Add registers a destination for the user. A pending or active duplicate is rejected.
func (s *WhitelistService) Add(ctx context.Context, identity string, r domain.Rail, chain, destination, label string) (*domain.WhitelistEntry, error) {
	chain, err := r.NormalizeChain(chain)
	if err != nil {
		return nil, util.Invalid("chain", "%s", err.Error())
	}
	destination = strings.TrimSpace(destination)
	if err := r.ValidateDestination(destination, chain); err != nil {
		return nil, util.Invalid("destination", "%s", err.Error())
	}
	var labelPtr *string
	if l := strings.TrimSpace(label); l != "" {
		labelPtr = &l
	}
	status := domain.WhitelistActive
	if s.requiresApproval {
		status = domain.WhitelistPending
	}

	var entry *domain.WhitelistEntry
	err = s.tx.InTx(ctx, "add whitelist entry", func(q repository.DBExecutor) error {
		user, err := s.users.GetOrCreateUser(ctx, q, identity)
		if err != nil {
			return fmt.Errorf("add whitelist entry: %w", err)
		}
		if _, err := s.repo.FindLive(ctx, q, user.ID, r, chain, destination); err == nil {
			return fmt.Errorf("destination already registered: %w", util.ErrDuplicateEntry)
		} else if !errors.Is(err, util.ErrNotFound) {
			return fmt.Errorf("add whitelist entry: %w", err)
		}
		entry = domain.NewWhitelistEntry(user.ID, r, chain, destination, labelPtr, status)
		if err := s.repo.Create(ctx, q, entry); err != nil {
			return fmt.Errorf("add whitelist entry: %w", err)
		}
		return s.audit.Append(ctx, q, domain.NewAuditEntry(domain.SourceWhitelist, entry.ID, string(status), domain.ActorUser(identity), nil))
	})
	if err != nil {
		return nil, err
	}

	util.GetLogger().Info("whitelist entry added", "id", entry.ID, "rail", r, "status", status)
	if status == domain.WhitelistPending {
		s.sink.NotifyAdmins(ctx, notify.Message{
			Text: fmt.Sprintf("New %s payout destination from user %s awaits approval:\n%s %s", r, identity, chain, destination),
			Actions: []notify.Action{
				{Label: "Approve", Data: fmt.Sprintf("whitelist_approve:%d", entry.ID)},
				{Label: "Deactivate", Data: fmt.Sprintf("whitelist_deactivate:%d", entry.ID)},
			},
		})
	}
	return entry, nil
}

// IsWhitelisted reports whether an active entry covers (identity, rail, chain, destination).
func (s *WhitelistService) IsWhitelisted(ctx context.Context, identity string, r domain.Rail, chain, destination string) (bool, error) {
	user, err := s.users.GetUserByIdentity(ctx, s.dbExecutor, identity)
	if errors.Is(err, util.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return activeEntry(ctx, s.repo, s.dbExecutor, user.ID, r, chain, destination)
}

// activeEntry is shared with the withdrawal path, which calls it inside its own transaction.
func activeEntry(ctx context.Context, repo repository.WhitelistRepository, q repository.DBExecutor, userID int64, r domain.Rail, chain, destination string) (bool, error) {
	entry, err := repo.FindLive(ctx, q, userID, r, chain, destination)
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.IsActive(), nil
}

// List returns the user's entries, newest first.
func (s *WhitelistService) List(ctx context.Context, identity string) ([]domain.WhitelistEntry, error) {
	user, err := s.users.GetUserByIdentity(ctx, s.dbExecutor, identity)
	if errors.Is(err, util.ErrUserNotFound) {
		return []domain.WhitelistEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, s.dbExecutor, user.ID)
}

// ListPending returns entries awaiting administrator approval.
func (s *WhitelistService) ListPending(ctx context.Context) ([]domain.WhitelistEntry, error) {
	return s.repo.ListByStatus(ctx, s.dbExecutor, domain.WhitelistPending)
}

// Approve activates a pending entry.
func (s *WhitelistService) Approve(ctx context.Context, id int64, admin string) (*domain.WhitelistEntry, error) {
	var (
		entry *domain.WhitelistEntry
		owner *domain.User
	)
	err := s.tx.InTx(ctx, "approve whitelist entry", func(q repository.DBExecutor) error {
		var err error
		if entry, err = s.repo.GetByIDForUpdate(ctx, q, id); err != nil {
			return fmt.Errorf("approve whitelist entry %d: %w", id, err)
		}
		switch entry.Status {
		case domain.WhitelistActive:
			return fmt.Errorf("whitelist entry %d: %w", id, util.ErrAlreadyReviewed)
		case domain.WhitelistInactive:
			return fmt.Errorf("whitelist entry %d is deactivated: %w", id, util.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		actor := domain.ActorAdmin(admin)
		if err := s.repo.SetStatus(ctx, q, id, domain.WhitelistActive, actor, now); err != nil {
			return fmt.Errorf("approve whitelist entry %d: %w", id, err)
		}
		entry.Status, entry.ApprovedBy, entry.ApprovedAt = domain.WhitelistActive, &actor, &now
		if owner, err = s.users.GetUserByID(ctx, q, entry.UserID); err != nil {
			return fmt.Errorf("approve whitelist entry %d: %w", id, err)
		}
		return s.audit.Append(ctx, q, domain.NewAuditEntry(domain.SourceWhitelist, id, string(domain.WhitelistActive), actor, nil))
	})
	if err != nil {
		return nil, err
	}
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your %s payout destination %s is now active.", entry.Rail, entry.Destination),
	})
	return entry, nil
}

// Deactivate soft-deletes an entry. Users may only deactivate their own entries.
// Deactivating an inactive entry is a no-op.
func (s *WhitelistService) Deactivate(ctx context.Context, id int64, identity string, asAdmin bool) (*domain.WhitelistEntry, error) {
	var entry *domain.WhitelistEntry
	err := s.tx.InTx(ctx, "deactivate whitelist entry", func(q repository.DBExecutor) error {
		var err error
		if entry, err = s.repo.GetByIDForUpdate(ctx, q, id); err != nil {
			return fmt.Errorf("deactivate whitelist entry %d: %w", id, err)
		}
		actor := domain.ActorAdmin(identity)
		if !asAdmin {
			actor = domain.ActorUser(identity)
			user, err := s.users.GetUserByIdentity(ctx, q, identity)
			if err != nil && !errors.Is(err, util.ErrUserNotFound) {
				return fmt.Errorf("deactivate whitelist entry %d: %w", id, err)
			}
			if err != nil || user.ID != entry.UserID {
				return fmt.Errorf("whitelist entry %d: %w", id, util.ErrNotFound)
			}
		}
		if entry.Status == domain.WhitelistInactive {
			return nil
		}
		now := time.Now().UTC()
		if err := s.repo.SetStatus(ctx, q, id, domain.WhitelistInactive, actor, now); err != nil {
			return fmt.Errorf("deactivate whitelist entry %d: %w", id, err)
		}
		entry.Status, entry.DeactivatedAt = domain.WhitelistInactive, &now
		return s.audit.Append(ctx, q, domain.NewAuditEntry(domain.SourceWhitelist, id, string(domain.WhitelistInactive), actor, nil))
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

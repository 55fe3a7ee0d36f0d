// internal/domain/whitelist.go
package domain

import "time"

// WhitelistStatus is the activation state of a payout destination.
type WhitelistStatus string

const (
	WhitelistPending  WhitelistStatus = "pending"
	WhitelistActive   WhitelistStatus = "active"
	WhitelistInactive WhitelistStatus = "inactive"
)

// WhitelistEntry is a pre-vetted payout destination. Entries are never hard-deleted.
type WhitelistEntry struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	Rail          Rail            `db:"rail" json:"rail"`
	Chain         string          `db:"chain" json:"chain,omitempty"`
	Destination   string          `db:"destination" json:"destination"`
	Label         *string         `db:"label" json:"label,omitempty"`
	Status        WhitelistStatus `db:"status" json:"status"`
	ApprovedBy    *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	DeactivatedAt *time.Time      `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWhitelistEntry creates an entry in the given initial status.
func NewWhitelistEntry(userID int64, rail Rail, chain, destination string, label *string, status WhitelistStatus) *WhitelistEntry {
	now := time.Now().UTC()
	e := &WhitelistEntry{
		UserID:      userID,
		Rail:        rail,
		Chain:       chain,
		Destination: destination,
		Label:       label,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == WhitelistActive {
		e.ApprovedAt = &now
	}
	return e
}

// IsActive reports whether withdrawals may target this entry.
func (e *WhitelistEntry) IsActive() bool { return e.Status == WhitelistActive }

// Matches reports whether the entry covers the rail, chain and destination.
func (e *WhitelistEntry) Matches(rail Rail, chain, destination string) bool {
	return e.Rail == rail && e.Chain == chain && e.Destination == destination
}

// internal/domain/audit.go
package domain

import "time"

// Audit sources that are not a rail/direction pair.
const (
	SourceWhitelist = "whitelist"
	SourceSettings  = "settings"
)

// ActorSystem is the actor recorded for transitions made by the gateway itself.
const ActorSystem = "system"

// AuditEntry is one append-only record of a state change.
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	Source    string    `db:"source" json:"source"`           // Rail/direction tag, whitelist or settings
	TxID      int64     `db:"tx_id" json:"tx_id"`             // Subject record id, 0 for settings
	Action    string    `db:"action" json:"action"`           // e.g. pending, approved, refunded
	Actor     string    `db:"actor" json:"actor"`             // user_<id>, admin_<id> or system
	Reason    *string   `db:"reason" json:"reason,omitempty"` // Rejection reason or change detail
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewAuditEntry creates an audit entry stamped with the current time.
func NewAuditEntry(source string, txID int64, action, actor string, reason *string) *AuditEntry {
	return &AuditEntry{
		Source:    source,
		TxID:      txID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// ActorUser formats the actor tag of an end user.
func ActorUser(identity string) string { return "user_" + identity }

// ActorAdmin formats the actor tag of an administrator.
func ActorAdmin(identity string) string { return "admin_" + identity }

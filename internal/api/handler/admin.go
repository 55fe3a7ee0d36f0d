// internal/api/handler/admin.go
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"paygate/internal/api/auth"
	"paygate/internal/api/types"
	"paygate/internal/domain"
	"paygate/internal/review"
	"paygate/internal/service"
	"paygate/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdminHandler serves the review and configuration routes.
type AdminHandler struct {
	responder
	payments  service.PaymentService
	settings  *service.SettingsService
	whitelist *service.WhitelistService
	sessions  *review.Store
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(payments service.PaymentService, settings *service.SettingsService, whitelist *service.WhitelistService, sessions *review.Store, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		responder: responder{logger: logger, admin: true},
		payments:  payments,
		settings:  settings,
		whitelist: whitelist,
		sessions:  sessions,
	}
}

// ReviewRequest is the body accepted by the review actions. Every field is optional.
type ReviewRequest struct {
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
	Text      string `json:"text"`
}

// decodeOptional reads a body that may be empty.
func (h *AdminHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

func (h *AdminHandler) respondTx(w http.ResponseWriter, tx *domain.Transaction, err error) {
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tx)
}

// ListPending returns every transaction waiting for a decision.
// GET /admin/transactions/pending
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	txs, err := h.payments.ListPending(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.Transaction]{Data: txs})
}

// ListAwaitingReference returns approved withdrawals that still need a settlement reference.
// GET /admin/transactions/awaiting-reference
func (h *AdminHandler) ListAwaitingReference(w http.ResponseWriter, r *http.Request) {
	txs, err := h.payments.ListAwaitingReference(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.Transaction]{Data: txs})
}

// GetTransaction returns one transaction.
// GET /admin/transactions/{rail}/{id}
func (h *AdminHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	tx, err := h.payments.GetTransaction(r.Context(), ref)
	h.respondTx(w, tx, err)
}

// Approve approves a pending transaction.
// POST /admin/transactions/{rail}/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	tx, err := h.payments.Approve(r.Context(), ref, auth.Subject(r.Context()))
	h.respondTx(w, tx, err)
}

// Reject rejects a pending transaction. Without a reason it opens a session
// and the reason is expected through Reply.
// POST /admin/transactions/{rail}/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var req ReviewRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	admin := auth.Subject(r.Context())
	if strings.TrimSpace(req.Reason) == "" {
		h.prompt(w, r, ref, admin, review.KindRejectReason, domain.StatusPending, "Reply with the rejection reason.")
		return
	}
	tx, err := h.payments.Reject(r.Context(), ref, admin, req.Reason)
	h.respondTx(w, tx, err)
}

// SetReference records the settlement reference of a withdrawal awaiting one.
// Without a reference it opens a session and the reference is expected through Reply.
// POST /admin/transactions/{rail}/{id}/reference
func (h *AdminHandler) SetReference(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var req ReviewRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	admin := auth.Subject(r.Context())
	if strings.TrimSpace(req.Reference) == "" {
		h.prompt(w, r, ref, admin, review.KindExternalReference, domain.StatusApprovedAwaitingReference, "Reply with the settlement reference.")
		return
	}
	tx, err := h.payments.SetExternalReference(r.Context(), ref, admin, req.Reference)
	h.respondTx(w, tx, err)
}

// prompt opens a review session once the transaction is known to be in the expected state.
func (h *AdminHandler) prompt(w http.ResponseWriter, r *http.Request, ref domain.TxRef, admin string, kind review.Kind, want domain.TransactionStatus, text string) {
	tx, err := h.payments.GetTransaction(r.Context(), ref)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if tx.Status != want {
		h.respondWithError(w, fmt.Errorf("%s is %s: %w", ref, tx.Status, util.ErrAlreadyReviewed))
		return
	}
	sess := h.sessions.Begin(admin, ref, kind)
	h.respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":    text,
		"awaiting":   kind,
		"expires_at": sess.ExpiresAt,
	})
}

// Reply completes the review session the administrator opened on a transaction.
// POST /admin/transactions/{rail}/{id}/reply
func (h *AdminHandler) Reply(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var req ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.respondWithError(w, util.Invalid("text", "reply must not be empty"))
		return
	}
	admin := auth.Subject(r.Context())
	kind, ok := h.sessions.Pending(admin, ref)
	if !ok {
		h.respondWithError(w, fmt.Errorf("%s: %w", ref, util.ErrNoSession))
		return
	}
	if _, err := h.sessions.Take(admin, ref, kind); err != nil {
		h.respondWithError(w, err)
		return
	}
	var tx *domain.Transaction
	switch kind {
	case review.KindRejectReason:
		tx, err = h.payments.Reject(r.Context(), ref, admin, text)
	case review.KindExternalReference:
		tx, err = h.payments.SetExternalReference(r.Context(), ref, admin, text)
	default:
		err = fmt.Errorf("session kind %s: %w", kind, util.ErrUnsupported)
	}
	h.respondTx(w, tx, err)
}

// Fail marks a withdrawal awaiting a reference as failed.
// POST /admin/transactions/{rail}/{id}/fail
func (h *AdminHandler) Fail(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var req ReviewRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	tx, err := h.payments.MarkFailed(r.Context(), ref, auth.Subject(r.Context()), req.Reason)
	h.respondTx(w, tx, err)
}

// Reconcile looks an indeterminate payout up on the rail.
// POST /admin/transactions/{rail}/{id}/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	tx, err := h.payments.Reconcile(r.Context(), ref, auth.Subject(r.Context()))
	h.respondTx(w, tx, err)
}

// Refund returns the funds of a failed withdrawal to its user.
// POST /admin/transactions/{rail}/{id}/refund
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	tx, err := h.payments.RefundFailed(r.Context(), ref, auth.Subject(r.Context()))
	h.respondTx(w, tx, err)
}

// CheckProof looks a deposit's reference up in the rail's history.
// GET /admin/transactions/{rail}/{id}/proof
func (h *AdminHandler) CheckProof(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	check, err := h.payments.CheckDepositProof(r.Context(), ref)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, check)
}

// GetAuditTrail returns the audit entries of one transaction.
// GET /admin/transactions/{rail}/{id}/audit
func (h *AdminHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	ref, err := txRef(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	entries, err := h.payments.AuditTrail(r.Context(), ref)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.AuditEntry]{Data: entries})
}

// RecentAudit returns the newest audit entries across all subjects.
// GET /admin/audit?limit=
func (h *AdminHandler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r, 50)
	entries, err := h.payments.RecentAudit(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.AuditEntry]{Data: entries})
}

// ListSettings returns the effective settings.
// GET /admin/settings
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.List(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.Setting]{Data: settings})
}

// SettingRequest represents the request body for a settings write.
type SettingRequest struct {
	Value string `json:"value"`
}

// SetSetting writes one setting.
// PUT /admin/settings/{key}
func (h *AdminHandler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := domain.ActorAdmin(auth.Subject(r.Context()))
	setting, err := h.settings.Set(r.Context(), chi.URLParam(r, "key"), req.Value, actor)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, setting)
}

// RateRequest represents the request body for a conversion rate write.
type RateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// SetRate stores the rate converting one unit of {from} into {to}.
// PUT /admin/rates/{from}/{to}
func (h *AdminHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := domain.ActorAdmin(auth.Subject(r.Context()))
	setting, err := h.settings.SetRate(r.Context(), chi.URLParam(r, "from"), chi.URLParam(r, "to"), req.Rate, actor)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, setting)
}

// ListPendingWhitelist returns destinations waiting for approval.
// GET /admin/whitelist/pending
func (h *AdminHandler) ListPendingWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.whitelist.ListPending(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.WhitelistEntry]{Data: entries})
}

// ApproveWhitelist activates a pending destination.
// POST /admin/whitelist/{id}/approve
func (h *AdminHandler) ApproveWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	entry, err := h.whitelist.Approve(r.Context(), id, auth.Subject(r.Context()))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entry)
}

// DeactivateWhitelist deactivates any user's destination.
// POST /admin/whitelist/{id}/deactivate
func (h *AdminHandler) DeactivateWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	entry, err := h.whitelist.Deactivate(r.Context(), id, auth.Subject(r.Context()), true)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entry)
}

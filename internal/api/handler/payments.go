// internal/api/handler/payments.go
package handler

import (
	"log/slog"
	"net/http"

	"paygate/internal/api/auth"
	"paygate/internal/api/types"
	"paygate/internal/domain"
	"paygate/internal/service"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// PaymentHandler serves the end-user routes. The caller's identity comes from the bearer token.
type PaymentHandler struct {
	responder
	payments       service.PaymentService
	ledger         *service.LedgerService
	whitelist      *service.WhitelistService
	ledgerCurrency string
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments service.PaymentService, ledger *service.LedgerService, whitelist *service.WhitelistService, ledgerCurrency string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		responder:      responder{logger: logger},
		payments:       payments,
		ledger:         ledger,
		whitelist:      whitelist,
		ledgerCurrency: ledgerCurrency,
	}
}

// GetBalance returns the caller's ledger balance.
// GET /v1/balance
func (h *PaymentHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity := auth.Subject(r.Context())
	balance, err := h.ledger.GetBalance(r.Context(), identity)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"identity": identity,
		"balance":  balance,
		"currency": h.ledgerCurrency,
	})
}

// GetHistory returns the caller's transactions, newest first.
// GET /v1/transactions
func (h *PaymentHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20)
	txs, total, err := h.payments.History(r.Context(), auth.Subject(r.Context()), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.Transaction]{
		Data:       txs,
		Limit:      limit,
		Offset:     offset,
		TotalCount: int64(total),
	})
}

// GetDepositInstructions tells the caller where to send a deposit.
// GET /v1/deposits/instructions?rail=&currency=&chain=
func (h *PaymentHandler) GetDepositInstructions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rail, err := domain.ParseRail(q.Get("rail"))
	if err != nil {
		h.respondWithError(w, util.Invalid("rail", "%s", err.Error()))
		return
	}
	currency := q.Get("currency")
	if currency == "" {
		currency = rail.DepositCurrencies(h.ledgerCurrency)[0]
	}
	instructions, err := h.payments.DepositInstructions(r.Context(), rail, currency, q.Get("chain"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, instructions)
}

// DepositRequest represents the request body for a deposit claim.
type DepositRequest struct {
	Rail      string          `json:"rail"`
	Currency  string          `json:"currency"`
	Chain     string          `json:"chain"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// CreateDeposit submits a deposit claim for review.
// POST /v1/deposits
func (h *PaymentHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	rail, err := domain.ParseRail(req.Rail)
	if err != nil {
		h.respondWithError(w, util.Invalid("rail", "%s", err.Error()))
		return
	}
	tx, err := h.payments.CreateDeposit(r.Context(), service.DepositRequest{
		Identity:  auth.Subject(r.Context()),
		Rail:      rail,
		Currency:  req.Currency,
		Chain:     req.Chain,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Deposit submitted for review",
		"transaction": tx,
	})
}

// WithdrawRequest represents the request body for a withdrawal.
type WithdrawRequest struct {
	Rail        string          `json:"rail"`
	Chain       string          `json:"chain"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
}

// CreateWithdrawal debits the caller and submits the withdrawal for review.
// POST /v1/withdrawals
func (h *PaymentHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	rail, err := domain.ParseRail(req.Rail)
	if err != nil {
		h.respondWithError(w, util.Invalid("rail", "%s", err.Error()))
		return
	}
	tx, err := h.payments.CreateWithdrawal(r.Context(), service.WithdrawalRequest{
		Identity:    auth.Subject(r.Context()),
		Rail:        rail,
		Chain:       req.Chain,
		Destination: req.Destination,
		Amount:      req.Amount,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Withdrawal submitted for review",
		"transaction": tx,
	})
}

// ListWhitelist returns the caller's payout destinations.
// GET /v1/whitelist
func (h *PaymentHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.whitelist.List(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.ListResponse[domain.WhitelistEntry]{Data: entries})
}

// WhitelistRequest represents the request body for a new payout destination.
type WhitelistRequest struct {
	Rail        string `json:"rail"`
	Chain       string `json:"chain"`
	Destination string `json:"destination"`
	Label       string `json:"label"`
}

// AddWhitelist registers a payout destination.
// POST /v1/whitelist
func (h *PaymentHandler) AddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if !h.decode(w, r, &req) {
		return
	}
	rail, err := domain.ParseRail(req.Rail)
	if err != nil {
		h.respondWithError(w, util.Invalid("rail", "%s", err.Error()))
		return
	}
	entry, err := h.whitelist.Add(r.Context(), auth.Subject(r.Context()), rail, req.Chain, req.Destination, req.Label)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, entry)
}

// DeactivateWhitelist removes one of the caller's payout destinations.
// DELETE /v1/whitelist/{id}
func (h *PaymentHandler) DeactivateWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	entry, err := h.whitelist.Deactivate(r.Context(), id, auth.Subject(r.Context()), false)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entry)
}

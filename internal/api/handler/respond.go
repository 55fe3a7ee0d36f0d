// internal/api/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"paygate/internal/api/types"
	"paygate/internal/domain"
	"paygate/internal/util"

	"github.com/go-chi/chi/v5"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// responder holds the JSON helpers shared by the handlers.
type responder struct {
	logger *slog.Logger
	admin  bool // Admin callers see internal error text
}

// Helper function to send JSON responses.
func (h responder) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper function to send error responses.
func (h responder) respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "Internal server error"

	var (
		validation *util.ValidationError
		funds      *util.InsufficientFundsError
	)
	switch {
	case util.IsError(err, util.ErrRailIndeterminate):
		statusCode = http.StatusAccepted
		message = "The payout outcome is unknown. It must be reconciled before any retry."
		if h.admin {
			message = err.Error()
		}
	case errors.As(err, &validation):
		statusCode = http.StatusBadRequest
		message = validation.Error()
	case util.IsError(err, util.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case errors.As(err, &funds):
		statusCode = http.StatusPaymentRequired
		message = fmt.Sprintf("Insufficient funds: your balance is %s", funds.Balance)
	case util.IsError(err, util.ErrInsufficientFunds):
		statusCode = http.StatusPaymentRequired
		message = "Insufficient funds"
	case util.IsError(err, util.ErrNotWhitelisted):
		statusCode = http.StatusForbidden
		message = err.Error()
	case util.IsError(err, util.ErrNoSession):
		statusCode = http.StatusNotFound
		message = "No open review session for this transaction"
	case util.IsError(err, util.ErrNotFound), util.IsError(err, util.ErrUserNotFound):
		statusCode = http.StatusNotFound
		message = "Resource not found"
		if h.admin {
			message = err.Error()
		}
	case util.IsError(err, util.ErrDuplicateEntry), util.IsError(err, util.ErrAlreadyReviewed), util.IsError(err, util.ErrInvalidTransition):
		statusCode = http.StatusConflict
		message = err.Error()
	case util.IsError(err, util.ErrUnsupported):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case util.IsError(err, util.ErrRateUnavailable):
		statusCode = http.StatusServiceUnavailable
		message = "Conversion rate unavailable, please try again later"
	case util.IsError(err, util.ErrRailFailure), util.IsError(err, util.ErrPersistence):
		statusCode = http.StatusServiceUnavailable
		message = "Your request is under review and may be delayed"
		if h.admin {
			statusCode = http.StatusBadGateway
			message = err.Error()
		}
		h.logger.Error("Service dependency failed", "error", err)
	default:
		h.logger.Error("Unhandled service error", "error", err)
	}

	h.respondWithJSON(w, statusCode, types.ErrorResponse{Error: message})
}

func (h responder) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, util.Invalid("body", "malformed JSON request"))
		return false
	}
	return true
}

// txRef reads the {rail}/{id} path parameters.
func txRef(r *http.Request) (domain.TxRef, error) {
	rail, err := domain.ParseRail(chi.URLParam(r, "rail"))
	if err != nil {
		return domain.TxRef{}, util.Invalid("rail", "%s", err.Error())
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return domain.TxRef{}, util.Invalid("id", "must be a positive integer")
	}
	return domain.TxRef{Rail: rail, ID: id}, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, util.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

// pagination parses limit and offset query parameters.
func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

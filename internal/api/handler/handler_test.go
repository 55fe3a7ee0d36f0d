// internal/api/handler/handler_test.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paygate/internal/api/auth"
	"paygate/internal/domain"
	"paygate/internal/review"
	"paygate/internal/service"
	"paygate/internal/util"
)

// MockPaymentService is a mock implementation of service.PaymentService.
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) tx(args mock.Arguments) (*domain.Transaction, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockPaymentService) DepositInstructions(ctx context.Context, r domain.Rail, currency, chain string) (*service.DepositInstructions, error) {
	args := m.Called(ctx, r, currency, chain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DepositInstructions), args.Error(1)
}

func (m *MockPaymentService) CreateDeposit(ctx context.Context, req service.DepositRequest) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, req))
}

func (m *MockPaymentService) CreateWithdrawal(ctx context.Context, req service.WithdrawalRequest) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, req))
}

func (m *MockPaymentService) Approve(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin))
}

func (m *MockPaymentService) Reject(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin, reason))
}

func (m *MockPaymentService) SetExternalReference(ctx context.Context, ref domain.TxRef, admin, reference string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin, reference))
}

func (m *MockPaymentService) MarkFailed(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin, reason))
}

func (m *MockPaymentService) Reconcile(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin))
}

func (m *MockPaymentService) RefundFailed(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref, admin))
}

func (m *MockPaymentService) CheckDepositProof(ctx context.Context, ref domain.TxRef) (*service.ProofCheck, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProofCheck), args.Error(1)
}

func (m *MockPaymentService) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *MockPaymentService) ListAwaitingReference(ctx context.Context) ([]domain.Transaction, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *MockPaymentService) GetTransaction(ctx context.Context, ref domain.TxRef) (*domain.Transaction, error) {
	return m.tx(m.Called(ctx, ref))
}

func (m *MockPaymentService) History(ctx context.Context, identity string, limit, offset int) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, identity, limit, offset)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

func (m *MockPaymentService) AuditTrail(ctx context.Context, ref domain.TxRef) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

func (m *MockPaymentService) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// asSubject mounts h behind a middleware that authenticates every request as subject.
func asSubject(subject, method, pattern string, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithSubject(req.Context(), subject)))
		})
	})
	r.MethodFunc(method, pattern, h)
	return r
}

func serve(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func withdrawal(id int64, status domain.TransactionStatus) *domain.Transaction {
	return &domain.Transaction{ID: id, Rail: domain.RailCashAgent, Direction: domain.DirectionWithdraw, Status: status}
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name        string
		admin       bool
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"Validation", false, util.Invalid("amount", "must be positive"), http.StatusBadRequest, "amount: must be positive"},
		{"InsufficientFunds", false, &util.InsufficientFundsError{Balance: decimal.NewFromInt(400), Requested: decimal.NewFromInt(600)}, http.StatusPaymentRequired, "your balance is 400"},
		{"NotWhitelisted", false, fmt.Errorf("wrap: %w", util.ErrNotWhitelisted), http.StatusForbidden, "not whitelisted"},
		{"NotFound", false, fmt.Errorf("get: %w", util.ErrNotFound), http.StatusNotFound, "Resource not found"},
		{"Duplicate", false, fmt.Errorf("claim: %w", util.ErrDuplicateEntry), http.StatusConflict, "duplicate entry"},
		{"AlreadyReviewed", true, fmt.Errorf("approve: %w", util.ErrAlreadyReviewed), http.StatusConflict, "already reviewed"},
		{"RateUnavailable", false, fmt.Errorf("convert: %w", util.ErrRateUnavailable), http.StatusServiceUnavailable, "rate unavailable"},
		{"PersistenceHiddenFromUsers", false, util.Persistence("debit", errors.New("connection reset")), http.StatusServiceUnavailable, "under review"},
		{"PersistenceShownToAdmins", true, util.Persistence("debit", errors.New("connection reset")), http.StatusBadGateway, "connection reset"},
		{"RailFailureShownToAdmins", true, fmt.Errorf("payout: %w", util.ErrRailFailure), http.StatusBadGateway, "rail rejected"},
		{"Indeterminate", true, fmt.Errorf("payout: %w", util.ErrRailIndeterminate), http.StatusAccepted, "indeterminate"},
		{"Unhandled", false, errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			responder{logger: discard, admin: tt.admin}.respondWithError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantMessage)
		})
	}
}

func TestPaymentHandler(t *testing.T) {
	t.Run("CreateWithdrawal", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewPaymentHandler(payments, nil, nil, "NSP", discard)
		payments.On("CreateWithdrawal", mock.Anything, mock.MatchedBy(func(req service.WithdrawalRequest) bool {
			return req.Identity == "77" && req.Rail == domain.RailCashAgent &&
				req.Destination == "0933123456" && req.Amount.Equal(decimal.NewFromInt(60000))
		})).Return(withdrawal(5, domain.StatusPending), nil).Once()

		rec, body := serve(t, asSubject("77", http.MethodPost, "/v1/withdrawals", h.CreateWithdrawal), http.MethodPost, "/v1/withdrawals",
			`{"rail":"cash_agent","destination":"0933123456","amount":"60000"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "Withdrawal submitted for review", body["message"])
		payments.AssertExpectations(t)
	})

	t.Run("CreateWithdrawalStoreFailure", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewPaymentHandler(payments, nil, nil, "NSP", discard)
		payments.On("CreateWithdrawal", mock.Anything, mock.Anything).
			Return(nil, util.Persistence("users.Debit", errors.New("db down"))).Once()

		rec, body := serve(t, asSubject("77", http.MethodPost, "/v1/withdrawals", h.CreateWithdrawal), http.MethodPost, "/v1/withdrawals",
			`{"rail":"cash_agent","destination":"0933123456","amount":"60000"}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, body["error"], "db down")
		payments.AssertExpectations(t)
	})

	t.Run("UnknownRail", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewPaymentHandler(payments, nil, nil, "NSP", discard)

		rec, _ := serve(t, asSubject("77", http.MethodPost, "/v1/deposits", h.CreateDeposit), http.MethodPost, "/v1/deposits",
			`{"rail":"bank","currency":"NSP","amount":"1","reference":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		payments.AssertNotCalled(t, "CreateDeposit", mock.Anything, mock.Anything)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		h := NewPaymentHandler(new(MockPaymentService), nil, nil, "NSP", discard)

		rec, _ := serve(t, asSubject("77", http.MethodPost, "/v1/deposits", h.CreateDeposit), http.MethodPost, "/v1/deposits", `{"amount":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("History", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewPaymentHandler(payments, nil, nil, "NSP", discard)
		payments.On("History", mock.Anything, "77", 5, 10).
			Return([]domain.Transaction{*withdrawal(5, domain.StatusPending)}, 11, nil).Once()

		rec, body := serve(t, asSubject("77", http.MethodGet, "/v1/transactions", h.GetHistory), http.MethodGet, "/v1/transactions?limit=5&offset=10", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(11), body["total_count"])
		assert.Len(t, body["data"], 1)
		payments.AssertExpectations(t)
	})

	t.Run("DepositInstructionsDefaultCurrency", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewPaymentHandler(payments, nil, nil, "NSP", discard)
		payments.On("DepositInstructions", mock.Anything, domain.RailExchange, "USDT", "TRC20").
			Return(&service.DepositInstructions{Rail: domain.RailExchange, Currency: "USDT", Chain: "TRC20", Destinations: []string{"Taddr"}}, nil).Once()

		rec, body := serve(t, asSubject("77", http.MethodGet, "/v1/deposits/instructions", h.GetDepositInstructions), http.MethodGet,
			"/v1/deposits/instructions?rail=exchange&chain=TRC20", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []interface{}{"Taddr"}, body["destinations"])
		payments.AssertExpectations(t)
	})
}

func TestAdminReviewSessions(t *testing.T) {
	const admin = "900"
	ref := domain.TxRef{Rail: domain.RailCashAgent, ID: 5}

	newAdmin := func() (*AdminHandler, *MockPaymentService, *review.Store) {
		payments := new(MockPaymentService)
		sessions := review.NewStore(time.Minute)
		return NewAdminHandler(payments, nil, nil, sessions, discard), payments, sessions
	}

	t.Run("RejectWithoutReasonOpensSession", func(t *testing.T) {
		h, payments, sessions := newAdmin()
		payments.On("GetTransaction", mock.Anything, ref).Return(withdrawal(5, domain.StatusPending), nil).Once()

		rec, body := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reject", h.Reject),
			http.MethodPost, "/admin/transactions/cash_agent/5/reject", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, string(review.KindRejectReason), body["awaiting"])
		kind, ok := sessions.Pending(admin, ref)
		assert.True(t, ok)
		assert.Equal(t, review.KindRejectReason, kind)
		payments.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RejectReviewedTransactionOpensNoSession", func(t *testing.T) {
		h, payments, sessions := newAdmin()
		payments.On("GetTransaction", mock.Anything, ref).Return(withdrawal(5, domain.StatusApproved), nil).Once()

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reject", h.Reject),
			http.MethodPost, "/admin/transactions/cash_agent/5/reject", "")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 0, sessions.Len())
	})

	t.Run("ReplyCompletesRejection", func(t *testing.T) {
		h, payments, sessions := newAdmin()
		sessions.Begin(admin, ref, review.KindRejectReason)
		payments.On("Reject", mock.Anything, ref, admin, "wrong number").Return(withdrawal(5, domain.StatusRejected), nil).Once()

		handler := asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reply", h.Reply)
		rec, body := serve(t, handler, http.MethodPost, "/admin/transactions/cash_agent/5/reply", `{"text":" wrong number "}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "rejected", body["status"])

		rec, _ = serve(t, handler, http.MethodPost, "/admin/transactions/cash_agent/5/reply", `{"text":"again"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		payments.AssertExpectations(t)
	})

	t.Run("ReplyCompletesReference", func(t *testing.T) {
		h, payments, sessions := newAdmin()
		sessions.Begin(admin, ref, review.KindExternalReference)
		payments.On("SetExternalReference", mock.Anything, ref, admin, "AG-1").Return(withdrawal(5, domain.StatusApproved), nil).Once()

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reply", h.Reply),
			http.MethodPost, "/admin/transactions/cash_agent/5/reply", `{"text":"AG-1"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		payments.AssertExpectations(t)
	})

	t.Run("SessionsAreScopedToTheAdministrator", func(t *testing.T) {
		h, _, sessions := newAdmin()
		sessions.Begin("901", ref, review.KindRejectReason)

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reply", h.Reply),
			http.MethodPost, "/admin/transactions/cash_agent/5/reply", `{"text":"mine"}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		_, ok := sessions.Pending("901", ref)
		assert.True(t, ok)
	})

	t.Run("EmptyReply", func(t *testing.T) {
		h, _, _ := newAdmin()

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reply", h.Reply),
			http.MethodPost, "/admin/transactions/cash_agent/5/reply", `{"text":"  "}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminHandler(t *testing.T) {
	const admin = "900"
	ref := domain.TxRef{Rail: domain.RailExchange, ID: 9}

	t.Run("ApproveIndeterminate", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewAdminHandler(payments, nil, nil, review.NewStore(time.Minute), discard)
		payments.On("Approve", mock.Anything, ref, admin).Return(nil, fmt.Errorf("payout: %w", util.ErrRailIndeterminate)).Once()

		rec, body := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/approve", h.Approve),
			http.MethodPost, "/admin/transactions/exchange/9/approve", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, body["error"], "indeterminate")
		payments.AssertExpectations(t)
	})

	t.Run("InvalidReference", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewAdminHandler(payments, nil, nil, review.NewStore(time.Minute), discard)

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/approve", h.Approve),
			http.MethodPost, "/admin/transactions/exchange/zero/approve", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		payments.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SetReferenceDirect", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewAdminHandler(payments, nil, nil, review.NewStore(time.Minute), discard)
		payments.On("SetExternalReference", mock.Anything, ref, admin, "0xabc").Return(&domain.Transaction{ID: 9, Rail: domain.RailExchange, Status: domain.StatusApproved}, nil).Once()

		rec, _ := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/reference", h.SetReference),
			http.MethodPost, "/admin/transactions/exchange/9/reference", `{"reference":"0xabc"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		payments.AssertExpectations(t)
	})

	t.Run("FailPassesReason", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewAdminHandler(payments, nil, nil, review.NewStore(time.Minute), discard)
		payments.On("MarkFailed", mock.Anything, ref, admin, "never arrived").Return(&domain.Transaction{ID: 9, Rail: domain.RailExchange, Status: domain.StatusFailed}, nil).Once()

		rec, body := serve(t, asSubject(admin, http.MethodPost, "/admin/transactions/{rail}/{id}/fail", h.Fail),
			http.MethodPost, "/admin/transactions/exchange/9/fail", `{"reason":"never arrived"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "failed", body["status"])
		payments.AssertExpectations(t)
	})

	t.Run("RecentAuditDefaultLimit", func(t *testing.T) {
		payments := new(MockPaymentService)
		h := NewAdminHandler(payments, nil, nil, review.NewStore(time.Minute), discard)
		payments.On("RecentAudit", mock.Anything, 50).Return([]domain.AuditEntry{{ID: 1, Action: "approved"}}, nil).Once()

		rec, body := serve(t, asSubject(admin, http.MethodGet, "/admin/audit", h.RecentAudit), http.MethodGet, "/admin/audit", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["data"], 1)
		payments.AssertExpectations(t)
	})
}

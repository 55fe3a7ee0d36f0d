// internal/service/mocks_test.go
package service

import (
	"context"
	"database/sql"
	"time"

	"paygate/internal/domain"
	"paygate/internal/notify"
	"paygate/internal/rail"
	"paygate/internal/repository"
	"paygate/pkg/db"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockDBExecutor is a mock implementation of repository.DBExecutor.
type MockDBExecutor struct {
	mock.Mock
}

func (m *MockDBExecutor) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	argsCalled := m.Called(ctx, query, args)
	return argsCalled.Get(0).(sql.Result), argsCalled.Error(1)
}

func (m *MockDBExecutor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	m.Called(ctx, query, args)
	return &sql.Row{}
}

// MockTxController is a mock implementation of db.TxController.
// It also implements repository.DBExecutor by embedding MockDBExecutor.
type MockTxController struct {
	mock.Mock
	MockDBExecutor
}

func (m *MockTxController) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTxController) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// mockTxRunner binds a TxRunner to a MockTxController.
func mockTxRunner(txc *MockTxController) *TxRunner {
	return NewTxRunner(
		func(ctx context.Context) (db.TxController, error) {
			return txc, nil
		},
		func(tx db.TxController) error {
			return txc.Commit()
		},
		func(tx db.TxController) {
			_ = txc.Rollback()
		},
	)
}

// MockUserRepository is a mock implementation of repository.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetOrCreateUser(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	args := m.Called(ctx, q, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.User, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByIdentity(ctx context.Context, q repository.DBExecutor, identity string) (*domain.User, error) {
	args := m.Called(ctx, q, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) Credit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, q, userID, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockUserRepository) Debit(ctx context.Context, q repository.DBExecutor, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, q, userID, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockTransactionRepository is a mock implementation of repository.TransactionRepository.
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) CreateTransaction(ctx context.Context, q repository.DBExecutor, transaction *domain.Transaction) error {
	args := m.Called(ctx, q, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetTransaction(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	args := m.Called(ctx, q, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetTransactionForUpdate(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	args := m.Called(ctx, q, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) UpdateStatus(ctx context.Context, q repository.DBExecutor, ref domain.TxRef, upd domain.StatusUpdate) error {
	args := m.Called(ctx, q, ref, upd)
	return args.Error(0)
}

func (m *MockTransactionRepository) MarkRefunded(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (bool, error) {
	args := m.Called(ctx, q, ref)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) ExistsActiveReference(ctx context.Context, q repository.DBExecutor, r domain.Rail, reference string) (bool, error) {
	args := m.Called(ctx, q, r, reference)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, statuses ...domain.TransactionStatus) ([]domain.Transaction, error) {
	args := m.Called(ctx, q, statuses)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64, limit, offset int) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, q, userID, limit, offset)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

// MockAuditRepository is a mock implementation of repository.AuditRepository.
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, q repository.DBExecutor, entry *domain.AuditEntry) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListBySubject(ctx context.Context, q repository.DBExecutor, source string, txID int64) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, q, source, txID)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

func (m *MockAuditRepository) ListRecent(ctx context.Context, q repository.DBExecutor, limit int) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, q, limit)
	return args.Get(0).([]domain.AuditEntry), args.Error(1)
}

// MockWhitelistRepository is a mock implementation of repository.WhitelistRepository.
type MockWhitelistRepository struct {
	mock.Mock
}

func (m *MockWhitelistRepository) Create(ctx context.Context, q repository.DBExecutor, entry *domain.WhitelistEntry) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}

func (m *MockWhitelistRepository) GetByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) GetByIDForUpdate(ctx context.Context, q repository.DBExecutor, id int64) (*domain.WhitelistEntry, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) FindLive(ctx context.Context, q repository.DBExecutor, userID int64, r domain.Rail, chain, destination string) (*domain.WhitelistEntry, error) {
	args := m.Called(ctx, q, userID, r, chain, destination)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) ListByUser(ctx context.Context, q repository.DBExecutor, userID int64) ([]domain.WhitelistEntry, error) {
	args := m.Called(ctx, q, userID)
	return args.Get(0).([]domain.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) ListByStatus(ctx context.Context, q repository.DBExecutor, status domain.WhitelistStatus) ([]domain.WhitelistEntry, error) {
	args := m.Called(ctx, q, status)
	return args.Get(0).([]domain.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) SetStatus(ctx context.Context, q repository.DBExecutor, id int64, status domain.WhitelistStatus, actor string, at time.Time) error {
	args := m.Called(ctx, q, id, status, actor, at)
	return args.Error(0)
}

// MockLimitSource is a mock implementation of LimitSource.
type MockLimitSource struct {
	mock.Mock
}

func (m *MockLimitSource) Limits(ctx context.Context, r domain.Rail, direction domain.Direction, currency string) (decimal.NullDecimal, decimal.NullDecimal, error) {
	args := m.Called(ctx, r, direction, currency)
	return args.Get(0).(decimal.NullDecimal), args.Get(1).(decimal.NullDecimal), args.Error(2)
}

func (m *MockLimitSource) FeeRate(ctx context.Context, r domain.Rail, direction domain.Direction) (decimal.Decimal, error) {
	args := m.Called(ctx, r, direction)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockConverter is a mock implementation of Converter.
type MockConverter struct {
	mock.Mock
}

func (m *MockConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, amount, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockRailProvider is a mock implementation of RailProvider.
type MockRailProvider struct {
	mock.Mock
}

func (m *MockRailProvider) Get(r domain.Rail) (rail.Adapter, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(rail.Adapter), args.Error(1)
}

// MockAdapter is a mock implementation of rail.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) GetReceivingDestination(ctx context.Context, asset, chain string) ([]string, error) {
	args := m.Called(ctx, asset, chain)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAdapter) ListRecentSettlements(ctx context.Context, query rail.SettlementQuery) ([]rail.Settlement, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]rail.Settlement), args.Error(1)
}

func (m *MockAdapter) SubmitPayout(ctx context.Context, req rail.PayoutRequest) (rail.PayoutResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(rail.PayoutResult), args.Error(1)
}

// MockSink is a mock implementation of notify.Sink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) NotifyUser(ctx context.Context, identity string, msg notify.Message) {
	m.Called(ctx, identity, msg)
}

func (m *MockSink) NotifyAdmins(ctx context.Context, msg notify.Message) {
	m.Called(ctx, msg)
}

// paymentMocks holds the collaborators of a paymentService under test.
type paymentMocks struct {
	executor  *MockDBExecutor
	txc       *MockTxController
	users     *MockUserRepository
	txs       *MockTransactionRepository
	audit     *MockAuditRepository
	whitelist *MockWhitelistRepository
	limits    *MockLimitSource
	converter *MockConverter
	rails     *MockRailProvider
	sink      *MockSink
	service   PaymentService
}

func newPaymentMocks() *paymentMocks {
	m := &paymentMocks{
		executor:  new(MockDBExecutor),
		txc:       new(MockTxController),
		users:     new(MockUserRepository),
		txs:       new(MockTransactionRepository),
		audit:     new(MockAuditRepository),
		whitelist: new(MockWhitelistRepository),
		limits:    new(MockLimitSource),
		converter: new(MockConverter),
		rails:     new(MockRailProvider),
		sink:      new(MockSink),
	}
	m.service = NewPaymentService(
		m.executor,
		mockTxRunner(m.txc),
		m.users,
		m.txs,
		m.audit,
		m.whitelist,
		m.limits,
		m.converter,
		m.rails,
		m.sink,
		PaymentConfig{LedgerCurrency: domain.CurrencyNSP},
	)
	return m
}

func (m *paymentMocks) assertExpectations(t mock.TestingT) {
	mock.AssertExpectationsForObjects(t, m.executor, m.txc, m.users, m.txs, m.audit, m.whitelist, m.limits, m.converter, m.rails, m.sink)
}

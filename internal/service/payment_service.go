// internal/service/payment_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/metrics"
	"paygate/internal/notify"
	"paygate/internal/rail"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositRequest is a user's claim that money was sent to a rail.
type DepositRequest struct {
	Identity  string
	Rail      domain.Rail
	Currency  string
	Chain     string
	Amount    decimal.Decimal
	Reference string // Proof of transfer: the rail's transaction id
}

// WithdrawalRequest asks for ledger funds to be paid out. Amount is in the ledger currency.
type WithdrawalRequest struct {
	Identity    string
	Rail        domain.Rail
	Chain       string
	Destination string
	Amount      decimal.Decimal
}

// DepositInstructions tells a user where and how much to send.
type DepositInstructions struct {
	Rail         domain.Rail         `json:"rail"`
	Currency     string              `json:"currency"`
	Chain        string              `json:"chain,omitempty"`
	Destinations []string            `json:"destinations"`
	Minimum      decimal.NullDecimal `json:"minimum"`
	Maximum      decimal.NullDecimal `json:"maximum"`
}

// ProofCheck is the result of looking a deposit's reference up in the rail's history.
type ProofCheck struct {
	Found        bool             `json:"found"`
	AmountCovers bool             `json:"amount_covers"`
	Settlement   *rail.Settlement `json:"settlement,omitempty"`
}

// LimitSource supplies per-rail limits and fee rates.
type LimitSource interface {
	Limits(ctx context.Context, r domain.Rail, direction domain.Direction, currency string) (min, max decimal.NullDecimal, err error)
	FeeRate(ctx context.Context, r domain.Rail, direction domain.Direction) (decimal.Decimal, error)
}

// Converter converts amounts between currencies.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// RailProvider returns the adapter of a rail.
type RailProvider interface {
	Get(r domain.Rail) (rail.Adapter, error)
}

// PaymentConfig tunes the lifecycle engine.
type PaymentConfig struct {
	LedgerCurrency     string
	SettlementLookback int // Records fetched from a rail when reconciling
}

// PaymentService is the transaction lifecycle engine.
type PaymentService interface {
	DepositInstructions(ctx context.Context, r domain.Rail, currency, chain string) (*DepositInstructions, error)
	CreateDeposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error)
	CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error)
	Approve(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error)
	Reject(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error)
	SetExternalReference(ctx context.Context, ref domain.TxRef, admin, reference string) (*domain.Transaction, error)
	MarkFailed(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error)
	Reconcile(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error)
	RefundFailed(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error)
	CheckDepositProof(ctx context.Context, ref domain.TxRef) (*ProofCheck, error)
	ListPending(ctx context.Context) ([]domain.Transaction, error)
	ListAwaitingReference(ctx context.Context) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, ref domain.TxRef) (*domain.Transaction, error)
	History(ctx context.Context, identity string, limit, offset int) ([]domain.Transaction, int, error)
	AuditTrail(ctx context.Context, ref domain.TxRef) ([]domain.AuditEntry, error)
	RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// paymentService implements the PaymentService interface.
type paymentService struct {
	dbExecutor      repository.DBExecutor // For non-transactional reads (e.g., *sqlx.DB)
	tx              *TxRunner
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	auditRepo       repository.AuditRepository
	whitelistRepo   repository.WhitelistRepository
	limits          LimitSource
	converter       Converter
	rails           RailProvider
	sink            notify.Sink
	cfg             PaymentConfig
}

// NewPaymentService creates a new instance of PaymentService.
func NewPaymentService(
	dbExecutor repository.DBExecutor,
	tx *TxRunner,
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	auditRepo repository.AuditRepository,
	whitelistRepo repository.WhitelistRepository,
	limits LimitSource,
	converter Converter,
	rails RailProvider,
	sink notify.Sink,
	cfg PaymentConfig,
) PaymentService {
	if cfg.LedgerCurrency == "" {
		cfg.LedgerCurrency = domain.CurrencyNSP
	}
	if cfg.SettlementLookback <= 0 {
		cfg.SettlementLookback = 100
	}
	return &paymentService{
		dbExecutor:      dbExecutor,
		tx:              tx,
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		auditRepo:       auditRepo,
		whitelistRepo:   whitelistRepo,
		limits:          limits,
		converter:       converter,
		rails:           rails,
		sink:            sink,
		cfg:             cfg,
	}
}

func (s *paymentService) checkLimits(ctx context.Context, r domain.Rail, direction domain.Direction, currency string, amount decimal.Decimal) error {
	min, max, err := s.limits.Limits(ctx, r, direction, currency)
	if err != nil {
		return fmt.Errorf("read limits: %w", err)
	}
	if min.Valid && amount.LessThan(min.Decimal) {
		return util.Invalid("amount", "the minimum %s on %s is %s %s", direction, r, min.Decimal, currency)
	}
	if max.Valid && amount.GreaterThan(max.Decimal) {
		return util.Invalid("amount", "the maximum %s on %s is %s %s", direction, r, max.Decimal, currency)
	}
	return nil
}

// DepositInstructions returns the receiving destinations and limits for a deposit.
func (s *paymentService) DepositInstructions(ctx context.Context, r domain.Rail, currency, chain string) (*DepositInstructions, error) {
	currency = domain.NormalizeCurrency(currency)
	if !r.SupportsDeposit(currency, s.cfg.LedgerCurrency) {
		return nil, util.Invalid("currency", "%s deposits accept %s", r, strings.Join(r.DepositCurrencies(s.cfg.LedgerCurrency), ", "))
	}
	chain, err := r.NormalizeChain(chain)
	if err != nil {
		return nil, util.Invalid("chain", "%s", err.Error())
	}
	adapter, err := s.rails.Get(r)
	if err != nil {
		return nil, err
	}
	destinations, err := adapter.GetReceivingDestination(ctx, currency, chain)
	if err != nil {
		return nil, fmt.Errorf("deposit instructions: %w", err)
	}
	min, max, err := s.limits.Limits(ctx, r, domain.DirectionDeposit, currency)
	if err != nil {
		return nil, fmt.Errorf("deposit instructions: %w", err)
	}
	return &DepositInstructions{Rail: r, Currency: currency, Chain: chain, Destinations: destinations, Minimum: min, Maximum: max}, nil
}

// checkAmount rejects non-positive amounts and amounts finer than the currency's scale.
// Accepted amounts are stored and moved exactly; nothing is rounded away.
func checkAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return util.Invalid("amount", "must be positive")
	}
	if !domain.FitsScale(amount, currency) {
		return util.Invalid("amount", "%s amounts take at most %d decimal places", currency, domain.CurrencyScale(currency))
	}
	return nil
}

// CreateDeposit validates a deposit claim and stores it as pending.
func (s *paymentService) CreateDeposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error) {
	currency := domain.NormalizeCurrency(req.Currency)
	if !req.Rail.SupportsDeposit(currency, s.cfg.LedgerCurrency) {
		return nil, util.Invalid("currency", "%s deposits accept %s", req.Rail, strings.Join(req.Rail.DepositCurrencies(s.cfg.LedgerCurrency), ", "))
	}
	chain, err := req.Rail.NormalizeChain(req.Chain)
	if err != nil {
		return nil, util.Invalid("chain", "%s", err.Error())
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, util.Invalid("reference", "the transfer reference is required")
	}
	if err := checkAmount(req.Amount, currency); err != nil {
		return nil, err
	}
	if err := s.checkLimits(ctx, req.Rail, domain.DirectionDeposit, currency, req.Amount); err != nil {
		return nil, err
	}
	// The rate must exist now; the credited amount itself is fixed at approval.
	if _, err := s.converter.Convert(ctx, req.Amount, currency, s.cfg.LedgerCurrency); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	var t *domain.Transaction
	err = s.tx.InTx(ctx, "deposit", func(q repository.DBExecutor) error {
		user, err := s.userRepo.GetOrCreateUser(ctx, q, req.Identity)
		if err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		taken, err := s.transactionRepo.ExistsActiveReference(ctx, q, req.Rail, reference)
		if err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		if taken {
			return fmt.Errorf("reference %s was already submitted: %w", reference, util.ErrDuplicateEntry)
		}
		t = domain.NewDeposit(user.ID, req.Rail, currency, chain, req.Amount, reference, s.cfg.LedgerCurrency)
		if err := s.transactionRepo.CreateTransaction(ctx, q, t); err != nil {
			return fmt.Errorf("deposit: failed to create transaction: %w", err)
		}
		return s.auditRepo.Append(ctx, q, domain.NewAuditEntry(t.Source(), t.ID, string(domain.StatusPending), domain.ActorUser(req.Identity), nil))
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, domain.ActorUser(req.Identity))
	s.sink.NotifyAdmins(ctx, notify.Message{
		Text: fmt.Sprintf("New %s deposit %s from user %s: %s %s, reference %s",
			t.Rail, t.Ref(), req.Identity, t.Amount, t.Currency, reference),
		Actions: reviewActions(t.Ref()),
	})
	return t, nil
}

// CreateWithdrawal validates a withdrawal, debits the ledger and stores the record as pending.
func (s *paymentService) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error) {
	ledger := s.cfg.LedgerCurrency
	if err := checkAmount(req.Amount, ledger); err != nil {
		return nil, err
	}
	chain, err := req.Rail.NormalizeChain(req.Chain)
	if err != nil {
		return nil, util.Invalid("chain", "%s", err.Error())
	}
	destination := strings.TrimSpace(req.Destination)
	if err := req.Rail.ValidateDestination(destination, chain); err != nil {
		return nil, util.Invalid("destination", "%s", err.Error())
	}
	if err := s.checkLimits(ctx, req.Rail, domain.DirectionWithdraw, ledger, req.Amount); err != nil {
		return nil, err
	}
	feeRate, err := s.limits.FeeRate(ctx, req.Rail, domain.DirectionWithdraw)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	fee, net, err := ApplyFee(req.Amount, feeRate, ledger)
	if err != nil {
		return nil, err
	}
	payoutCurrency := req.Rail.PayoutCurrency(ledger)
	payout, err := s.converter.Convert(ctx, net, ledger, payoutCurrency)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	if !payout.IsPositive() {
		return nil, util.Invalid("amount", "amount is too small to pay out in %s", payoutCurrency)
	}

	var (
		t       *domain.Transaction
		balance decimal.Decimal
	)
	err = s.tx.InTx(ctx, "withdraw", func(q repository.DBExecutor) error {
		user, err := s.userRepo.GetOrCreateUser(ctx, q, req.Identity)
		if err != nil {
			return fmt.Errorf("withdraw: %w", err)
		}
		ok, err := activeEntry(ctx, s.whitelistRepo, q, user.ID, req.Rail, chain, destination)
		if err != nil {
			return fmt.Errorf("withdraw: %w", err)
		}
		if !ok {
			return fmt.Errorf("add %s to your %s destinations first: %w", destination, req.Rail, util.ErrNotWhitelisted)
		}
		if balance, err = s.userRepo.Debit(ctx, q, user.ID, req.Amount); err != nil {
			return fmt.Errorf("withdraw: %w", err)
		}
		t = domain.NewWithdrawal(user.ID, req.Rail, ledger, chain, destination, req.Amount, fee, payout, payoutCurrency)
		if err := s.transactionRepo.CreateTransaction(ctx, q, t); err != nil {
			return fmt.Errorf("withdraw: failed to create transaction: %w", err)
		}
		return s.auditRepo.Append(ctx, q, domain.NewAuditEntry(t.Source(), t.ID, string(domain.StatusPending), domain.ActorUser(req.Identity), nil))
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, domain.ActorUser(req.Identity))
	s.sink.NotifyAdmins(ctx, notify.Message{
		Text: fmt.Sprintf("New %s withdrawal %s from user %s: %s %s (fee %s), pay %s %s to %s %s. Balance now %s.",
			t.Rail, t.Ref(), req.Identity, t.Amount, t.Currency, t.Fee, payout, payoutCurrency, chain, destination, balance),
		Actions: reviewActions(t.Ref()),
	})
	return t, nil
}

// Approve applies an administrator's approval. Only a pending record can be approved;
// any other status reports util.ErrAlreadyReviewed without side effects.
func (s *paymentService) Approve(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	t, err := s.transactionRepo.GetTransaction(ctx, s.dbExecutor, ref)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", ref, err)
	}
	if t.Status != domain.StatusPending {
		return nil, fmt.Errorf("approve %s (status %s): %w", ref, t.Status, util.ErrAlreadyReviewed)
	}
	switch {
	case t.IsDeposit():
		return s.approveDeposit(ctx, t, admin)
	case t.Rail.ManualSettlement():
		return s.approveManualWithdrawal(ctx, ref, admin)
	default:
		return s.approvePayout(ctx, t, admin)
	}
}

func (s *paymentService) approveDeposit(ctx context.Context, claim *domain.Transaction, admin string) (*domain.Transaction, error) {
	ref := claim.Ref()
	credit, err := s.converter.Convert(ctx, claim.Amount, claim.Currency, s.cfg.LedgerCurrency)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", ref, err)
	}
	if !credit.IsPositive() {
		return nil, util.Invalid("amount", "%s %s converts to nothing at the current rate", claim.Amount, claim.Currency)
	}

	var (
		t       *domain.Transaction
		owner   *domain.User
		balance decimal.Decimal
	)
	actor := domain.ActorAdmin(admin)
	err = s.tx.InTx(ctx, "approve deposit", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockPending(ctx, q, ref); err != nil {
			return err
		}
		if balance, err = s.userRepo.Credit(ctx, q, t.UserID, credit); err != nil {
			return fmt.Errorf("approve %s: %w", ref, err)
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusApproved, SettledAmount: &credit, DecidedAt: &now, CompletedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, nil); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your deposit %s of %s %s was approved. %s %s credited, balance %s.",
			ref, t.Amount, t.Currency, credit, s.cfg.LedgerCurrency, balance),
	})
	return t, nil
}

func (s *paymentService) approveManualWithdrawal(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	var (
		t     *domain.Transaction
		owner *domain.User
	)
	actor := domain.ActorAdmin(admin)
	err := s.tx.InTx(ctx, "approve withdrawal", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockPending(ctx, q, ref); err != nil {
			return err
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusApprovedAwaitingReference, DecidedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, nil); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s was approved. %s %s is being sent to %s.",
			ref, t.SettledAmount.Decimal, t.SettledCurrency, t.Destination),
	})
	s.sink.NotifyAdmins(ctx, notify.Message{
		Text:    fmt.Sprintf("Send %s %s to %s for %s, then reply with the transfer reference.", t.SettledAmount.Decimal, t.SettledCurrency, t.Destination, ref),
		Actions: []notify.Action{{Label: "Enter reference", Data: "reference:" + ref.String()}},
	})
	return t, nil
}

// approvePayout runs the exchange payout in two phases so no row lock is held across the network call:
// claim the record, submit the payout, then record the outcome.
func (s *paymentService) approvePayout(ctx context.Context, claim *domain.Transaction, admin string) (*domain.Transaction, error) {
	ref := claim.Ref()
	adapter, err := s.rails.Get(claim.Rail)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", ref, err)
	}
	actor := domain.ActorAdmin(admin)
	key := uuid.NewString()

	var t *domain.Transaction
	err = s.tx.InTx(ctx, "approve payout", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockPending(ctx, q, ref); err != nil {
			return err
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusApprovedAwaitingReference, PayoutKey: &key, DecidedAt: &now}
		return s.transition(ctx, q, t, upd, actor, nil)
	})
	if err != nil {
		return nil, err
	}
	s.observe(t, actor)

	// The payout and its bookkeeping must not be abandoned if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	res, err := adapter.SubmitPayout(ctx, rail.PayoutRequest{
		Asset:          t.SettledCurrency,
		Chain:          t.Chain,
		Destination:    t.Destination,
		Amount:         t.SettledAmount.Decimal,
		IdempotencyKey: key,
	})
	if err != nil {
		s.recordIndeterminate(ctx, t, actor, err)
		return nil, fmt.Errorf("approve %s: outcome unknown, reconcile before any retry: %w: %v", ref, util.ErrRailIndeterminate, err)
	}

	var owner *domain.User
	err = s.tx.InTx(ctx, "record payout", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockAwaiting(ctx, q, ref, &key); err != nil {
			return err
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusApproved, CompletedAt: &now}
		var reason *string
		if res.OK {
			upd.ExternalReference = &res.ExternalID
		} else {
			upd.Status = domain.StatusFailed
			reason = &res.Error
			upd.Reason = reason
		}
		if err := s.transition(ctx, q, t, upd, domain.ActorSystem, reason); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		util.GetLogger().Error("payout outcome not recorded", "ref", ref.String(), "ok", res.OK, "external_id", res.ExternalID, "error", err)
		s.sink.NotifyAdmins(ctx, notify.Message{
			Text:    fmt.Sprintf("Payout for %s returned ok=%t (%s%s) but could not be recorded: %v. Reconcile it.", ref, res.OK, res.ExternalID, res.Error, err),
			Actions: []notify.Action{{Label: "Reconcile", Data: "reconcile:" + ref.String()}},
		})
		return nil, fmt.Errorf("approve %s: %w", ref, err)
	}
	s.observe(t, domain.ActorSystem)

	if !res.OK {
		s.sink.NotifyAdmins(ctx, notify.Message{
			Text: fmt.Sprintf("Payout for %s was refused by %s: %s. The user was not refunded; check the rail before refunding.",
				ref, t.Rail, res.Error),
			Actions: []notify.Action{{Label: "Refund", Data: "refund:" + ref.String()}},
		})
		s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
			Text: fmt.Sprintf("Your withdrawal %s is delayed and under review.", ref),
		})
		return nil, fmt.Errorf("approve %s: %w: %s", ref, util.ErrRailFailure, res.Error)
	}
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s of %s %s was sent to %s. Reference: %s",
			ref, t.SettledAmount.Decimal, t.SettledCurrency, t.Destination, res.ExternalID),
	})
	return t, nil
}

// recordIndeterminate leaves the record awaiting a reference and alerts administrators.
func (s *paymentService) recordIndeterminate(ctx context.Context, t *domain.Transaction, actor string, cause error) {
	ref := t.Ref()
	util.GetLogger().Error("payout outcome indeterminate", "ref", ref.String(), "actor", actor, "error", cause)
	detail := cause.Error()
	err := s.tx.InTx(ctx, "record indeterminate payout", func(q repository.DBExecutor) error {
		return s.auditRepo.Append(ctx, q, domain.NewAuditEntry(t.Source(), t.ID, "payout_indeterminate", domain.ActorSystem, &detail))
	})
	if err != nil {
		util.GetLogger().Error("failed to audit indeterminate payout", "ref", ref.String(), "error", err)
	}
	s.sink.NotifyAdmins(ctx, notify.Message{
		Text: fmt.Sprintf("Payout for %s (%s %s to %s) has an unknown outcome: %v. Do not retry; reconcile against the exchange history.",
			ref, t.SettledAmount.Decimal, t.SettledCurrency, t.Destination, cause),
		Actions: []notify.Action{
			{Label: "Reconcile", Data: "reconcile:" + ref.String()},
			{Label: "Mark failed", Data: "fail:" + ref.String()},
		},
	})
}

// Reject rejects a pending record. A withdrawal is refunded in the same transaction.
func (s *paymentService) Reject(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, util.Invalid("reason", "a rejection reason is required")
	}
	var (
		t     *domain.Transaction
		owner *domain.User
	)
	actor := domain.ActorAdmin(admin)
	err := s.tx.InTx(ctx, "reject", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockPending(ctx, q, ref); err != nil {
			return err
		}
		if t.IsWithdrawal() {
			if _, err := s.userRepo.Credit(ctx, q, t.UserID, t.Amount); err != nil {
				return fmt.Errorf("reject %s: refund failed: %w", ref, err)
			}
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusRejected, Reason: &reason, DecidedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, &reason); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	text := fmt.Sprintf("Your %s %s was rejected: %s", t.Direction, ref, reason)
	if t.IsWithdrawal() {
		text += fmt.Sprintf(". %s %s was returned to your balance.", t.Amount, t.Currency)
	}
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{Text: text})
	return t, nil
}

// SetExternalReference completes a withdrawal awaiting its transfer reference.
func (s *paymentService) SetExternalReference(ctx context.Context, ref domain.TxRef, admin, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, util.Invalid("reference", "the transfer reference is required")
	}
	var (
		t     *domain.Transaction
		owner *domain.User
	)
	actor := domain.ActorAdmin(admin)
	err := s.tx.InTx(ctx, "set reference", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockAwaiting(ctx, q, ref, nil); err != nil {
			return err
		}
		taken, err := s.transactionRepo.ExistsActiveReference(ctx, q, t.Rail, reference)
		if err != nil {
			return fmt.Errorf("set reference %s: %w", ref, err)
		}
		if taken {
			return fmt.Errorf("reference %s is already used on %s: %w", reference, t.Rail, util.ErrDuplicateEntry)
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusApproved, ExternalReference: &reference, CompletedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, nil); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s of %s %s was sent to %s. Reference: %s",
			ref, t.SettledAmount.Decimal, t.SettledCurrency, t.Destination, reference),
	})
	return t, nil
}

// MarkFailed resolves a withdrawal awaiting reference as failed. The ledger is not refunded.
func (s *paymentService) MarkFailed(ctx context.Context, ref domain.TxRef, admin, reason string) (*domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, util.Invalid("reason", "a failure reason is required")
	}
	var (
		t     *domain.Transaction
		owner *domain.User
	)
	actor := domain.ActorAdmin(admin)
	err := s.tx.InTx(ctx, "mark failed", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockAwaiting(ctx, q, ref, nil); err != nil {
			return err
		}
		now := time.Now().UTC()
		upd := domain.StatusUpdate{Status: domain.StatusFailed, Reason: &reason, CompletedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, &reason); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s is delayed and under review.", ref),
	})
	return t, nil
}

// Reconcile looks an awaiting payout up in the rail's history and completes it if found.
// It never resubmits the payout.
func (s *paymentService) Reconcile(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	t, err := s.transactionRepo.GetTransaction(ctx, s.dbExecutor, ref)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ref, err)
	}
	if !t.IsWithdrawal() || t.Status != domain.StatusApprovedAwaitingReference {
		return nil, fmt.Errorf("reconcile %s (status %s): %w", ref, t.Status, util.ErrInvalidTransition)
	}
	adapter, err := s.rails.Get(t.Rail)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ref, err)
	}
	settlements, err := adapter.ListRecentSettlements(ctx, rail.SettlementQuery{
		Direction: domain.DirectionWithdraw,
		Asset:     t.SettledCurrency,
		Chain:     t.Chain,
		Limit:     s.cfg.SettlementLookback,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ref, err)
	}
	var match *rail.Settlement
	for _, st := range payoutCandidates(t, settlements) {
		if st.ExternalID == "" {
			continue
		}
		claimed, err := s.transactionRepo.ExistsActiveReference(ctx, s.dbExecutor, t.Rail, st.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", ref, err)
		}
		if !claimed {
			match = &st
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("reconcile %s: no unclaimed matching settlement in the last %d: %w", ref, len(settlements), util.ErrNotFound)
	}

	var owner *domain.User
	actor := domain.ActorAdmin(admin)
	externalID := match.ExternalID
	err = s.tx.InTx(ctx, "reconcile", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.lockAwaiting(ctx, q, ref, t.PayoutKey); err != nil {
			return err
		}
		now := time.Now().UTC()
		detail := "reconciled against settlement " + externalID
		upd := domain.StatusUpdate{Status: domain.StatusApproved, ExternalReference: &externalID, CompletedAt: &now}
		if err := s.transition(ctx, q, t, upd, actor, &detail); err != nil {
			return err
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.observe(t, actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s of %s %s was sent to %s. Reference: %s",
			ref, t.SettledAmount.Decimal, t.SettledCurrency, t.Destination, externalID),
	})
	return t, nil
}

// payoutCandidates lists the settlements that may be this payout, best first: the one
// echoing its idempotency key, then those to the same destination for the same amount
// made after the decision. Settlements carrying another payout's key are never candidates.
func payoutCandidates(t *domain.Transaction, settlements []rail.Settlement) []rail.Settlement {
	var key string
	if t.PayoutKey != nil {
		key = *t.PayoutKey
	}
	var exact, loose []rail.Settlement
	var notBefore time.Time
	if t.DecidedAt != nil {
		notBefore = t.DecidedAt.Add(-time.Minute)
	}
	for _, st := range settlements {
		switch {
		case key != "" && st.Memo == key:
			exact = append(exact, st)
		case st.Memo != "":
			// Settled under another payout's key.
		case strings.EqualFold(st.Destination, t.Destination) &&
			st.Amount.Equal(t.SettledAmount.Decimal) &&
			!st.CreatedAt.Before(notBefore):
			loose = append(loose, st)
		}
	}
	return append(exact, loose...)
}

// RefundFailed re-credits a failed withdrawal exactly once. The status stays failed.
func (s *paymentService) RefundFailed(ctx context.Context, ref domain.TxRef, admin string) (*domain.Transaction, error) {
	var (
		t       *domain.Transaction
		owner   *domain.User
		balance decimal.Decimal
	)
	actor := domain.ActorAdmin(admin)
	err := s.tx.InTx(ctx, "refund", func(q repository.DBExecutor) error {
		var err error
		if t, err = s.transactionRepo.GetTransactionForUpdate(ctx, q, ref); err != nil {
			return fmt.Errorf("refund %s: %w", ref, err)
		}
		if !t.IsWithdrawal() || t.Status != domain.StatusFailed {
			return fmt.Errorf("refund %s (status %s): only failed withdrawals can be refunded: %w", ref, t.Status, util.ErrInvalidTransition)
		}
		marked, err := s.transactionRepo.MarkRefunded(ctx, q, ref)
		if err != nil {
			return fmt.Errorf("refund %s: %w", ref, err)
		}
		if !marked {
			return fmt.Errorf("refund %s: already refunded: %w", ref, util.ErrAlreadyReviewed)
		}
		if balance, err = s.userRepo.Credit(ctx, q, t.UserID, t.Amount); err != nil {
			return fmt.Errorf("refund %s: %w", ref, err)
		}
		now := time.Now().UTC()
		t.RefundedAt = &now
		if err := s.auditRepo.Append(ctx, q, domain.NewAuditEntry(t.Source(), t.ID, "refunded", actor, nil)); err != nil {
			return fmt.Errorf("refund %s: %w", ref, err)
		}
		owner, err = s.userRepo.GetUserByID(ctx, q, t.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	util.GetLogger().Info("failed withdrawal refunded", "ref", ref.String(), "amount", t.Amount.String(), "actor", actor)
	s.sink.NotifyUser(ctx, owner.Identity, notify.Message{
		Text: fmt.Sprintf("Your withdrawal %s could not be completed. %s %s was returned to your balance, now %s.",
			ref, t.Amount, t.Currency, balance),
	})
	return t, nil
}

// CheckDepositProof looks a deposit's reference up in the rail's deposit history.
// It is informational and never approves anything.
func (s *paymentService) CheckDepositProof(ctx context.Context, ref domain.TxRef) (*ProofCheck, error) {
	t, err := s.transactionRepo.GetTransaction(ctx, s.dbExecutor, ref)
	if err != nil {
		return nil, fmt.Errorf("check proof %s: %w", ref, err)
	}
	if !t.IsDeposit() || t.ExternalReference == nil {
		return nil, util.Invalid("ref", "%s is not a deposit with a reference", ref)
	}
	adapter, err := s.rails.Get(t.Rail)
	if err != nil {
		return nil, fmt.Errorf("check proof %s: %w", ref, err)
	}
	settlements, err := adapter.ListRecentSettlements(ctx, rail.SettlementQuery{
		Direction: domain.DirectionDeposit,
		Asset:     t.Currency,
		Chain:     t.Chain,
		Limit:     s.cfg.SettlementLookback,
	})
	if err != nil {
		return nil, fmt.Errorf("check proof %s: %w", ref, err)
	}
	for i := range settlements {
		if strings.EqualFold(settlements[i].ExternalID, *t.ExternalReference) {
			st := settlements[i]
			return &ProofCheck{Found: true, AmountCovers: st.Amount.GreaterThanOrEqual(t.Amount), Settlement: &st}, nil
		}
	}
	return &ProofCheck{Found: false}, nil
}

// ListPending returns all pending records across rails, oldest first.
func (s *paymentService) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	return s.transactionRepo.ListByStatus(ctx, s.dbExecutor, domain.StatusPending)
}

// ListAwaitingReference returns approved withdrawals still missing their transfer reference.
func (s *paymentService) ListAwaitingReference(ctx context.Context) ([]domain.Transaction, error) {
	return s.transactionRepo.ListByStatus(ctx, s.dbExecutor, domain.StatusApprovedAwaitingReference)
}

// GetTransaction returns one record.
func (s *paymentService) GetTransaction(ctx context.Context, ref domain.TxRef) (*domain.Transaction, error) {
	return s.transactionRepo.GetTransaction(ctx, s.dbExecutor, ref)
}

// History returns a page of the user's records, newest first, and the total count.
func (s *paymentService) History(ctx context.Context, identity string, limit, offset int) ([]domain.Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	user, err := s.userRepo.GetUserByIdentity(ctx, s.dbExecutor, identity)
	if errors.Is(err, util.ErrUserNotFound) {
		return []domain.Transaction{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("history: %w", err)
	}
	return s.transactionRepo.ListByUser(ctx, s.dbExecutor, user.ID, limit, offset)
}

// AuditTrail returns the audit entries of one record in order.
func (s *paymentService) AuditTrail(ctx context.Context, ref domain.TxRef) ([]domain.AuditEntry, error) {
	t, err := s.transactionRepo.GetTransaction(ctx, s.dbExecutor, ref)
	if err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", ref, err)
	}
	return s.auditRepo.ListBySubject(ctx, s.dbExecutor, t.Source(), t.ID)
}

// RecentAudit returns the newest audit entries across all sources.
func (s *paymentService) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.auditRepo.ListRecent(ctx, s.dbExecutor, limit)
}

// lockPending locks the record and requires it to still be pending.
func (s *paymentService) lockPending(ctx context.Context, q repository.DBExecutor, ref domain.TxRef) (*domain.Transaction, error) {
	t, err := s.transactionRepo.GetTransactionForUpdate(ctx, q, ref)
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", ref, err)
	}
	if t.Status != domain.StatusPending {
		return nil, fmt.Errorf("review %s (status %s): %w", ref, t.Status, util.ErrAlreadyReviewed)
	}
	return t, nil
}

// lockAwaiting locks a withdrawal awaiting its reference. With payoutKey set, the record
// must still belong to that payout attempt.
func (s *paymentService) lockAwaiting(ctx context.Context, q repository.DBExecutor, ref domain.TxRef, payoutKey *string) (*domain.Transaction, error) {
	t, err := s.transactionRepo.GetTransactionForUpdate(ctx, q, ref)
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", ref, err)
	}
	switch {
	case !t.IsWithdrawal():
		return nil, fmt.Errorf("review %s: not a withdrawal: %w", ref, util.ErrInvalidTransition)
	case t.Status == domain.StatusApproved || t.Status == domain.StatusFailed:
		return nil, fmt.Errorf("review %s (status %s): %w", ref, t.Status, util.ErrAlreadyReviewed)
	case t.Status != domain.StatusApprovedAwaitingReference:
		return nil, fmt.Errorf("review %s (status %s): %w", ref, t.Status, util.ErrInvalidTransition)
	case payoutKey != nil && (t.PayoutKey == nil || *t.PayoutKey != *payoutKey):
		return nil, fmt.Errorf("review %s: payout attempt changed: %w", ref, util.ErrAlreadyReviewed)
	}
	return t, nil
}

// transition applies one state-machine step and writes its audit entry.
func (s *paymentService) transition(ctx context.Context, q repository.DBExecutor, t *domain.Transaction, upd domain.StatusUpdate, actor string, reason *string) error {
	ref := t.Ref()
	if !t.Status.CanTransitionTo(upd.Status) {
		return fmt.Errorf("%s: %s -> %s: %w", ref, t.Status, upd.Status, util.ErrInvalidTransition)
	}
	if err := s.transactionRepo.UpdateStatus(ctx, q, ref, upd); err != nil {
		return fmt.Errorf("%s: failed to update status: %w", ref, err)
	}
	if err := s.auditRepo.Append(ctx, q, domain.NewAuditEntry(t.Source(), t.ID, string(upd.Status), actor, reason)); err != nil {
		return fmt.Errorf("%s: failed to write audit entry: %w", ref, err)
	}

	t.Status = upd.Status
	t.UpdatedAt = time.Now().UTC()
	if upd.Reason != nil {
		t.Reason = upd.Reason
	}
	if upd.ExternalReference != nil {
		t.ExternalReference = upd.ExternalReference
	}
	if upd.PayoutKey != nil {
		t.PayoutKey = upd.PayoutKey
	}
	if upd.SettledAmount != nil {
		t.SettledAmount = decimal.NewNullDecimal(*upd.SettledAmount)
	}
	if upd.DecidedAt != nil {
		t.DecidedAt = upd.DecidedAt
	}
	if upd.CompletedAt != nil {
		t.CompletedAt = upd.CompletedAt
	}
	return nil
}

func (s *paymentService) observe(t *domain.Transaction, actor string) {
	metrics.ObserveTransition(string(t.Rail), string(t.Direction), string(t.Status))
	util.GetLogger().Info("transaction status changed",
		"rail", t.Rail, "direction", t.Direction, "tx_id", t.ID, "status", t.Status, "actor", actor)
}

func reviewActions(ref domain.TxRef) []notify.Action {
	return []notify.Action{
		{Label: "Approve", Data: "approve:" + ref.String()},
		{Label: "Reject", Data: "reject:" + ref.String()},
	}
}

// internal/service/settings_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"paygate/internal/domain"
	"paygate/internal/repository"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// DefaultSettings returns the built-in limits and fees for a ledger currency.
// Rates and receiving identifiers have no defaults and must be configured.
func DefaultSettings(ledger string) map[string]string {
	return map[string]string{
		domain.MinKey(domain.RailCashAgent, domain.DirectionDeposit, ledger):   "25000",
		domain.MinKey(domain.RailCashAgent, domain.DirectionWithdraw, ledger):  "50000",
		domain.MaxKey(domain.RailCashAgent, domain.DirectionWithdraw, ledger):  "500000",
		domain.FeeKey(domain.RailCashAgent, domain.DirectionWithdraw):          "0.10",
		domain.MinKey(domain.RailWalletCash, domain.DirectionDeposit, "USD"):   "5",
		domain.MinKey(domain.RailWalletCash, domain.DirectionDeposit, ledger):  "25000",
		domain.MinKey(domain.RailWalletCash, domain.DirectionWithdraw, ledger): "50000",
		domain.FeeKey(domain.RailWalletCash, domain.DirectionWithdraw):         "0.10",
		domain.MinKey(domain.RailExchange, domain.DirectionDeposit, "USDT"):    "1",
		domain.MinKey(domain.RailExchange, domain.DirectionWithdraw, ledger):   "10000",
		domain.FeeKey(domain.RailExchange, domain.DirectionWithdraw):           "0",
	}
}

// SettingsService is the versioned key-value configuration store.
// Reads take the latest stored value, falling back to defaults. Every write is audited.
type SettingsService struct {
	dbExecutor repository.DBExecutor // For non-transactional reads
	tx         *TxRunner
	repo       repository.SettingsRepository
	audit      repository.AuditRepository
	defaults   map[string]string
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(
	dbExecutor repository.DBExecutor,
	tx *TxRunner,
	repo repository.SettingsRepository,
	audit repository.AuditRepository,
	defaults map[string]string,
) *SettingsService {
	d := make(map[string]string, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &SettingsService{dbExecutor: dbExecutor, tx: tx, repo: repo, audit: audit, defaults: d}
}

// Get returns the effective value of key, or util.ErrNotFound.
func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	setting, err := s.repo.Get(ctx, s.dbExecutor, key)
	if err == nil {
		return setting.Value, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return "", fmt.Errorf("settings: failed to read %s: %w", key, err)
	}
	if v, ok := s.defaults[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("setting %s: %w", key, util.ErrNotFound)
}

// Decimal returns key parsed as a decimal; ok is false when the key is unset.
func (s *SettingsService) Decimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, util.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("setting %s holds a non-numeric value %q: %w", key, raw, util.ErrInvalidInput)
	}
	return v, true, nil
}

// Limits returns the configured minimum and maximum for a rail, direction and currency.
func (s *SettingsService) Limits(ctx context.Context, rail domain.Rail, direction domain.Direction, currency string) (min, max decimal.NullDecimal, err error) {
	if v, ok, err := s.Decimal(ctx, domain.MinKey(rail, direction, currency)); err != nil {
		return min, max, err
	} else if ok {
		min = decimal.NewNullDecimal(v)
	}
	if v, ok, err := s.Decimal(ctx, domain.MaxKey(rail, direction, currency)); err != nil {
		return min, max, err
	} else if ok {
		max = decimal.NewNullDecimal(v)
	}
	return min, max, nil
}

// FeeRate returns the fee rate for a rail and direction, zero when unset.
func (s *SettingsService) FeeRate(ctx context.Context, rail domain.Rail, direction domain.Direction) (decimal.Decimal, error) {
	v, _, err := s.Decimal(ctx, domain.FeeKey(rail, direction))
	return v, err
}

func validateSetting(key, value string) error {
	if !domain.ValidSettingKey(key) {
		return util.Invalid("key", "unknown setting %q", key)
	}
	if strings.HasPrefix(key, "receive.") {
		if strings.TrimSpace(value) == "" {
			return util.Invalid("value", "must not be empty")
		}
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return util.Invalid("value", "%q is not a number", value)
	}
	switch {
	case strings.HasPrefix(key, "rate."):
		if !v.IsPositive() {
			return util.Invalid("value", "rate must be positive")
		}
	case strings.HasPrefix(key, "fee."):
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return util.Invalid("value", "fee rate must be between 0 and 1")
		}
	case strings.HasPrefix(key, "limit."):
		if v.IsNegative() {
			return util.Invalid("value", "limit must not be negative")
		}
	}
	return nil
}

// Set writes a setting and its audit entry in one transaction. Last writer wins.
func (s *SettingsService) Set(ctx context.Context, key, value, actor string) (*domain.Setting, error) {
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if err := validateSetting(key, value); err != nil {
		return nil, err
	}

	var stored *domain.Setting
	err := s.tx.InTx(ctx, "set setting", func(q repository.DBExecutor) error {
		var err error
		if stored, err = s.repo.Upsert(ctx, q, key, value, actor); err != nil {
			return fmt.Errorf("set setting: failed to write %s: %w", key, err)
		}
		detail := fmt.Sprintf("%s=%s (v%d)", key, value, stored.Version)
		if err := s.audit.Append(ctx, q, domain.NewAuditEntry(domain.SourceSettings, 0, "set", actor, &detail)); err != nil {
			return fmt.Errorf("set setting: failed to audit %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	util.GetLogger().Info("setting changed", "key", key, "version", stored.Version, "actor", actor)
	return stored, nil
}

// SetRate stores the rate converting one unit of from into to.
func (s *SettingsService) SetRate(ctx context.Context, from, to string, rate decimal.Decimal, actor string) (*domain.Setting, error) {
	from, to = domain.NormalizeCurrency(from), domain.NormalizeCurrency(to)
	if from == "" || to == "" || from == to {
		return nil, util.Invalid("currency", "a rate needs two different currencies")
	}
	return s.Set(ctx, domain.RateKey(from, to), rate.String(), actor)
}

// List returns the effective settings: defaults overlaid by stored values.
// Defaults that were never written carry version 0 and updated_by "default".
func (s *SettingsService) List(ctx context.Context) ([]domain.Setting, error) {
	stored, err := s.repo.List(ctx, s.dbExecutor)
	if err != nil {
		return nil, fmt.Errorf("settings: failed to list: %w", err)
	}
	byKey := make(map[string]domain.Setting, len(stored)+len(s.defaults))
	for k, v := range s.defaults {
		byKey[k] = domain.Setting{Key: k, Value: v, UpdatedBy: "default"}
	}
	for _, st := range stored {
		byKey[st.Key] = st
	}
	out := make([]domain.Setting, 0, len(byKey))
	for _, st := range byKey {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

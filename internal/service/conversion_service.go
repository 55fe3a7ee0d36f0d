// internal/service/conversion_service.go
package service

import (
	"context"
	"fmt"

	"paygate/internal/domain"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// RateSource reads decimal settings.
type RateSource interface {
	Decimal(ctx context.Context, key string) (decimal.Decimal, bool, error)
}

// ConversionService converts between currencies using rates held in settings.
// All truncation is floor at the target currency's scale.
type ConversionService struct {
	rates RateSource
}

// NewConversionService creates a ConversionService.
func NewConversionService(rates RateSource) *ConversionService {
	return &ConversionService{rates: rates}
}

func (c *ConversionService) lookup(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	v, ok, err := c.rates.Decimal(ctx, domain.RateKey(from, to))
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	if !v.IsPositive() {
		return decimal.Zero, false, nil
	}
	return v, true, nil
}

// Rate returns how many units of to one unit of from is worth.
// A missing direct rate falls back to the inverse of the reverse rate.
func (c *ConversionService) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = domain.NormalizeCurrency(from), domain.NormalizeCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	direct, ok, err := c.lookup(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return direct, nil
	}
	reverse, ok, err := c.lookup(ctx, to, from)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return decimal.NewFromInt(1).DivRound(reverse, 16), nil
	}
	return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, util.ErrRateUnavailable)
}

// Convert converts amount and floors the result at the target scale.
func (c *ConversionService) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = domain.NormalizeCurrency(from), domain.NormalizeCurrency(to)
	scale := domain.CurrencyScale(to)
	if from == to {
		return amount.RoundFloor(scale), nil
	}
	direct, ok, err := c.lookup(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return amount.Mul(direct).RoundFloor(scale), nil
	}
	reverse, ok, err := c.lookup(ctx, to, from)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		// Truncated division: no intermediate rounding of the inverse rate.
		q, _ := amount.QuoRem(reverse, scale)
		return q, nil
	}
	return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, util.ErrRateUnavailable)
}

// ApplyFee splits amount into fee = floor(amount * feeRate) and net = amount - fee.
func ApplyFee(amount, feeRate decimal.Decimal, currency string) (fee, net decimal.Decimal, err error) {
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, util.Invalid("amount", "must not be negative")
	}
	if feeRate.IsNegative() || feeRate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, util.Invalid("fee", "fee rate %s is outside [0, 1]", feeRate)
	}
	fee = amount.Mul(feeRate).RoundFloor(domain.CurrencyScale(currency))
	return fee, amount.Sub(fee), nil
}

// internal/domain/money.go
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies and assets handled by the gateway.
const (
	CurrencyNSP  = "NSP"
	CurrencyUSD  = "USD"
	CurrencyUSDT = "USDT"
)

// CurrencyScale returns the number of decimal places kept for a currency.
// Unknown currencies (including the ledger unit) are whole units.
func CurrencyScale(currency string) int32 {
	switch strings.ToUpper(currency) {
	case CurrencyUSD:
		return 2
	case CurrencyUSDT:
		return 6
	default:
		return 0
	}
}

// Floor truncates amount towards negative infinity at the currency's scale.
func Floor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundFloor(CurrencyScale(currency))
}

// FitsScale reports whether amount has no more decimal places than the currency keeps.
func FitsScale(amount decimal.Decimal, currency string) bool {
	return amount.Equal(amount.Truncate(CurrencyScale(currency)))
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

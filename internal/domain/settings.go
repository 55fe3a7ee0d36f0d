// internal/domain/settings.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Setting is one versioned key-value entry. Writes are last-writer-wins.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	Version   int64     `db:"version" json:"version"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Receiving identifier keys for the manual rails.
const (
	KeyCashAgentNumbers  = "receive.cash_agent.numbers"
	KeyWalletCashAddress = "receive.wallet_cash.address"
)

// RateKey is the settings key of the rate converting one unit of from into to.
func RateKey(from, to string) string {
	return fmt.Sprintf("rate.%s.%s", NormalizeCurrency(from), NormalizeCurrency(to))
}

// MinKey is the settings key of the minimum amount for a rail, direction and currency.
func MinKey(rail Rail, direction Direction, currency string) string {
	return fmt.Sprintf("limit.%s.%s.%s.min", rail, direction, NormalizeCurrency(currency))
}

// MaxKey is the settings key of the maximum amount for a rail, direction and currency.
func MaxKey(rail Rail, direction Direction, currency string) string {
	return fmt.Sprintf("limit.%s.%s.%s.max", rail, direction, NormalizeCurrency(currency))
}

// FeeKey is the settings key of the fee rate for a rail and direction.
func FeeKey(rail Rail, direction Direction) string {
	return fmt.Sprintf("fee.%s.%s", rail, direction)
}

// ValidSettingKey reports whether key belongs to a known settings family.
func ValidSettingKey(key string) bool {
	switch {
	case key == KeyCashAgentNumbers, key == KeyWalletCashAddress:
		return true
	case strings.HasPrefix(key, "rate."):
		return len(strings.Split(key, ".")) == 3
	case strings.HasPrefix(key, "limit."):
		parts := strings.Split(key, ".")
		return len(parts) == 5 && (parts[4] == "min" || parts[4] == "max")
	case strings.HasPrefix(key, "fee."):
		return len(strings.Split(key, ".")) == 3
	}
	return false
}

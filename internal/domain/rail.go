// internal/domain/rail.go
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Rail is an external settlement channel.
type Rail string

const (
	RailCashAgent  Rail = "cash_agent"  // Cash-agent network, phone-number destinations
	RailWalletCash Rail = "wallet_cash" // Wallet-address cash service
	RailExchange   Rail = "exchange"    // Cryptocurrency exchange
)

// Supported exchange chains.
const (
	ChainBEP20 = "BEP20"
	ChainTRC20 = "TRC20"
)

// Rails lists every rail in display order.
var Rails = []Rail{RailCashAgent, RailWalletCash, RailExchange}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	bep20Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	trc20Pattern = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
)

// ParseRail converts a textual rail name.
func ParseRail(s string) (Rail, error) {
	r := Rail(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RailCashAgent, RailWalletCash, RailExchange:
		return r, nil
	}
	return "", fmt.Errorf("unknown rail %q", s)
}

// ManualSettlement reports whether an administrator moves the money out-of-band.
func (r Rail) ManualSettlement() bool {
	return r == RailCashAgent || r == RailWalletCash
}

// RequiresChain reports whether requests on this rail must name a chain.
func (r Rail) RequiresChain() bool {
	return r == RailExchange
}

// DepositCurrencies lists the currencies a user may deposit in.
func (r Rail) DepositCurrencies(ledgerCurrency string) []string {
	switch r {
	case RailCashAgent:
		return []string{ledgerCurrency}
	case RailWalletCash:
		return []string{ledgerCurrency, CurrencyUSD}
	case RailExchange:
		return []string{CurrencyUSDT}
	}
	return nil
}

// SupportsDeposit reports whether currency can be deposited on the rail.
func (r Rail) SupportsDeposit(currency, ledgerCurrency string) bool {
	for _, c := range r.DepositCurrencies(ledgerCurrency) {
		if c == currency {
			return true
		}
	}
	return false
}

// PayoutCurrency is the currency a withdrawal is paid out in.
func (r Rail) PayoutCurrency(ledgerCurrency string) string {
	if r == RailExchange {
		return CurrencyUSDT
	}
	return ledgerCurrency
}

// NormalizeChain validates the chain for the rail and returns its canonical form.
func (r Rail) NormalizeChain(chain string) (string, error) {
	chain = strings.ToUpper(strings.TrimSpace(chain))
	if !r.RequiresChain() {
		return "", nil
	}
	switch chain {
	case ChainBEP20, ChainTRC20:
		return chain, nil
	case "":
		return "", fmt.Errorf("a chain is required for rail %s", r)
	}
	return "", fmt.Errorf("unsupported chain %q, use %s or %s", chain, ChainBEP20, ChainTRC20)
}

// ValidateDestination checks the shape of a payout destination.
func (r Rail) ValidateDestination(destination, chain string) error {
	switch r {
	case RailCashAgent:
		if !phonePattern.MatchString(destination) {
			return fmt.Errorf("phone number must be 8 to 15 digits")
		}
	case RailWalletCash:
		if n := len(destination); n < 6 || n > 128 {
			return fmt.Errorf("wallet address must be 6 to 128 characters")
		}
	case RailExchange:
		switch chain {
		case ChainBEP20:
			if !bep20Pattern.MatchString(destination) {
				return fmt.Errorf("BEP20 address must be 0x followed by 40 hex characters")
			}
		case ChainTRC20:
			if !trc20Pattern.MatchString(destination) {
				return fmt.Errorf("TRC20 address must start with T and be 34 characters")
			}
		default:
			return fmt.Errorf("unsupported chain %q", chain)
		}
	default:
		return fmt.Errorf("unknown rail %q", r)
	}
	return nil
}

// internal/rail/manual.go
package rail

import (
	"context"
	"fmt"
	"strings"

	"paygate/internal/domain"
	"paygate/internal/util"
)

// SettingsReader is the read side of the settings store.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// ManualAdapter serves rails where an administrator moves the money by hand.
// Receiving identifiers come from settings; payouts and history are not automated.
type ManualAdapter struct {
	rail     domain.Rail
	settings SettingsReader
}

// NewManualAdapter creates an adapter for a manually settled rail.
func NewManualAdapter(r domain.Rail, settings SettingsReader) *ManualAdapter {
	return &ManualAdapter{rail: r, settings: settings}
}

// GetReceivingDestination returns the configured phone numbers or wallet address.
func (a *ManualAdapter) GetReceivingDestination(ctx context.Context, asset, chain string) ([]string, error) {
	var key string
	switch a.rail {
	case domain.RailCashAgent:
		key = domain.KeyCashAgentNumbers
	case domain.RailWalletCash:
		key = domain.KeyWalletCashAddress
	default:
		return nil, fmt.Errorf("%s: %w", a.rail, util.ErrUnsupported)
	}
	raw, err := a.settings.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s receiving destination: %w", a.rail, err)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s receiving destination is not configured: %w", a.rail, util.ErrNotFound)
	}
	return out, nil
}

// ListRecentSettlements is not available for manual rails.
func (a *ManualAdapter) ListRecentSettlements(ctx context.Context, query SettlementQuery) ([]Settlement, error) {
	return nil, fmt.Errorf("%s settlement history: %w", a.rail, util.ErrUnsupported)
}

// SubmitPayout is refused: manual rails settle out-of-band.
func (a *ManualAdapter) SubmitPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	return PayoutResult{OK: false, Error: "manual rail does not accept automated payouts"}, nil
}

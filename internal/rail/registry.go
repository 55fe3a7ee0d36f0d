// internal/rail/registry.go
package rail

import (
	"context"
	"fmt"
	"time"

	"paygate/internal/domain"
	"paygate/internal/metrics"
	"paygate/internal/util"
)

// Registry maps rails to adapters and instruments every call.
type Registry struct {
	adapters map[domain.Rail]Adapter
	timeout  time.Duration
}

// NewRegistry creates an empty registry. timeout bounds every adapter call.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{adapters: make(map[domain.Rail]Adapter), timeout: timeout}
}

// Register binds an adapter to a rail, replacing any previous one.
func (r *Registry) Register(rail domain.Rail, a Adapter) {
	r.adapters[rail] = a
}

// Get returns the instrumented adapter of a rail.
func (r *Registry) Get(rail domain.Rail) (Adapter, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return nil, fmt.Errorf("no adapter for rail %s: %w", rail, util.ErrUnsupported)
	}
	return &instrumented{rail: rail, next: a, timeout: r.timeout}, nil
}

// instrumented applies the call timeout and records metrics.
type instrumented struct {
	rail    domain.Rail
	next    Adapter
	timeout time.Duration
}

func (i *instrumented) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

func (i *instrumented) GetReceivingDestination(ctx context.Context, asset, chain string) ([]string, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	start := time.Now()
	out, err := i.next.GetReceivingDestination(ctx, asset, chain)
	metrics.ObserveRailCall(string(i.rail), "receiving_destination", outcome(err, true), time.Since(start))
	return out, err
}

func (i *instrumented) ListRecentSettlements(ctx context.Context, query SettlementQuery) ([]Settlement, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	start := time.Now()
	out, err := i.next.ListRecentSettlements(ctx, query)
	metrics.ObserveRailCall(string(i.rail), "list_settlements", outcome(err, true), time.Since(start))
	return out, err
}

func (i *instrumented) SubmitPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	start := time.Now()
	res, err := i.next.SubmitPayout(ctx, req)
	metrics.ObserveRailCall(string(i.rail), "submit_payout", outcome(err, err != nil || res.OK), time.Since(start))
	return res, err
}

func outcome(err error, ok bool) string {
	switch {
	case err != nil:
		return "error"
	case !ok:
		return "refused"
	default:
		return "ok"
	}
}

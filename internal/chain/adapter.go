// Package chain holds the per-network adapters that turn raw provider
// responses into normalized transfer candidates. Each provider's response is
// modeled as an explicit parsed type at the adapter boundary; nothing
// loosely-shaped leaves this package.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

// ErrUpstreamUnavailable marks a fetch that failed to reach the provider at
// all. Callers treat it as "no match yet": reconciliation is always safe to
// retry.
var ErrUpstreamUnavailable = errors.New("chain provider unavailable")

// Adapter fetches USDC transfers into a wallet observed since the given
// time. A transport or parse error on one transaction must not abort the
// batch; implementations skip the bad item, log, and continue.
type Adapter interface {
	Network() domain.Network
	FetchTransfers(ctx context.Context, walletAddress string, since time.Time) ([]domain.TransferCandidate, error)
}

// Registry resolves the adapter for a link's network.
type Registry struct {
	adapters map[domain.Network]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Network]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Network()] = a
	}
	return r
}

func (r *Registry) For(network domain.Network) (Adapter, error) {
	a, ok := r.adapters[network]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for network %q", network)
	}
	return a, nil
}

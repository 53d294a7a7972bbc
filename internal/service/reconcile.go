// Package service hosts the reconciliation coordinator: the orchestration
// that turns observed on-chain transfers into exactly-once payment records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/chain"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/match"
)

var (
	ErrLinkInactive = errors.New("payment link is inactive")
)

// Buyer-facing reconciliation outcomes. Internal adapter and persistence
// errors are never surfaced verbatim.
const (
	msgConfirmed    = "payment confirmed"
	msgNoMatch      = "no matching payments found"
	msgAllProcessed = "all matching transactions already processed"
	msgProviderDown = "payment network unreachable, please retry"
	msgLinkInactive = "payment link is no longer active"
)

var (
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halaxa_reconcile_total",
		Help: "Reconciliation attempts by outcome",
	}, []string{"outcome"})

	claimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "halaxa_claim_conflicts_total",
		Help: "Claims lost to a concurrent reconciliation",
	})

	adapterFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halaxa_adapter_fetch_duration_seconds",
		Help:    "Latency of chain adapter transfer fetches",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"network"})
)

// Ledger is the persistence contract the coordinator needs. *store.Store
// satisfies it; tests use an in-memory fake.
type Ledger interface {
	CreateLink(ctx context.Context, link *domain.PaymentLink) error
	GetLink(ctx context.Context, id string) (*domain.PaymentLink, error)
	ListLinksByStatus(ctx context.Context, status string) ([]domain.PaymentLink, error)
	UpdateLinkStatus(ctx context.Context, id, status string) error
	FindPaymentByHash(ctx context.Context, hash string) (*domain.Payment, error)
	FindPaymentByLink(ctx context.Context, linkID string) (*domain.Payment, error)
	InsertPaymentIfAbsent(ctx context.Context, p *domain.Payment) (bool, error)
	RecordBuyerIntent(ctx context.Context, linkID, buyerEmail string) error
}

// AdapterRegistry resolves the chain adapter for a network; *chain.Registry
// satisfies it.
type AdapterRegistry interface {
	For(network domain.Network) (chain.Adapter, error)
}

// Reconciler coordinates fetch, match, claim, and link state. It holds no
// in-process locks: mutual exclusion between concurrent reconciliations is
// delegated entirely to the ledger's tx_hash uniqueness.
type Reconciler struct {
	ledger     Ledger
	adapters   AdapterRegistry
	matcher    *match.Matcher
	rpcTimeout time.Duration
	now        func() time.Time
}

func NewReconciler(ledger Ledger, adapters AdapterRegistry, matcher *match.Matcher, rpcTimeout time.Duration) *Reconciler {
	if rpcTimeout <= 0 {
		rpcTimeout = 15 * time.Second
	}
	return &Reconciler{
		ledger:     ledger,
		adapters:   adapters,
		matcher:    matcher,
		rpcTimeout: rpcTimeout,
		now:        time.Now,
	}
}

// CreateLink publishes a new payment request.
func (r *Reconciler) CreateLink(ctx context.Context, wallet string, amountUSDC float64, network domain.Network) (*domain.PaymentLink, error) {
	link := &domain.PaymentLink{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		AmountMicro:   domain.MicroFromUSDC(amountUSDC),
		Network:       network,
		Status:        domain.StatusActive,
		CreatedAt:     r.now().UTC(),
	}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	if err := r.ledger.CreateLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// GetLink returns the link as stored.
func (r *Reconciler) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	return r.ledger.GetLink(ctx, id)
}

// FindPaymentByHash exposes the claim ledger lookup.
func (r *Reconciler) FindPaymentByHash(ctx context.Context, hash string) (*domain.Payment, error) {
	return r.ledger.FindPaymentByHash(ctx, hash)
}

// SignalIntent records the buyer's "I paid" signal and moves the link to
// pending_verification. Repeated signals are idempotent, and a failure to
// store the buyer record never blocks the transition.
func (r *Reconciler) SignalIntent(ctx context.Context, id, buyerEmail string) (*domain.PaymentLink, error) {
	link, err := r.ledger.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	switch link.Status {
	case domain.StatusConfirmed:
		return link, nil
	case domain.StatusInactive:
		return nil, ErrLinkInactive
	}

	if err := r.ledger.UpdateLinkStatus(ctx, id, domain.StatusPendingVerification); err != nil {
		return nil, err
	}
	if err := r.ledger.RecordBuyerIntent(ctx, id, buyerEmail); err != nil {
		log.Printf("reconcile: buyer intent for link %s not recorded: %v", id, err)
	}

	link.Status = domain.StatusPendingVerification
	return link, nil
}

// Deactivate retires a link. Links are never deleted.
func (r *Reconciler) Deactivate(ctx context.Context, id string) error {
	return r.ledger.UpdateLinkStatus(ctx, id, domain.StatusInactive)
}

// Reconcile runs one end-to-end verification attempt for a link: fetch raw
// transfers, match by amount and window, drop hashes already claimed, then
// claim the newest remaining candidate. The in-process existence check is
// only an optimization; the payments unique constraint is the arbiter, so a
// lost insert race falls through to the next candidate instead of failing.
func (r *Reconciler) Reconcile(ctx context.Context, linkID string) (*domain.VerificationResult, error) {
	link, err := r.ledger.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case domain.StatusConfirmed:
		// Terminal: re-running reconciliation must not move anything.
		payment, err := r.ledger.FindPaymentByLink(ctx, linkID)
		if err != nil {
			return nil, err
		}
		reconcileTotal.WithLabelValues("confirmed").Inc()
		return &domain.VerificationResult{Verified: true, Payment: payment, Message: msgConfirmed}, nil
	case domain.StatusInactive:
		return &domain.VerificationResult{Verified: false, Message: msgLinkInactive}, nil
	}

	adapter, err := r.adapters.For(link.Network)
	if err != nil {
		return nil, err
	}

	now := r.now()
	fetchCtx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := adapter.FetchTransfers(fetchCtx, link.WalletAddress, now.Add(-r.matcher.Window))
	adapterFetchDuration.WithLabelValues(string(link.Network)).Observe(time.Since(start).Seconds())
	if err != nil {
		// Provider outages and timeouts are soft: it is always safe to
		// retry reconciliation, so the buyer just sees "not yet".
		log.Printf("reconcile: fetch for link %s failed: %v", linkID, err)
		reconcileTotal.WithLabelValues("upstream_unavailable").Inc()
		return &domain.VerificationResult{Verified: false, Message: msgProviderDown}, nil
	}

	matched := r.matcher.Match(candidates, link.AmountMicro, now)
	if len(matched) == 0 {
		reconcileTotal.WithLabelValues("no_match").Inc()
		return &domain.VerificationResult{Verified: false, Message: msgNoMatch}, nil
	}

	unclaimed, err := r.filterClaimed(ctx, matched)
	if err != nil {
		reconcileTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(unclaimed) == 0 {
		reconcileTotal.WithLabelValues("already_processed").Inc()
		return &domain.VerificationResult{Verified: false, Message: msgAllProcessed}, nil
	}

	// Latest wins: the newest transfer is most likely the buyer's current
	// action; older ones presumably belong to earlier invoices.
	sort.Slice(unclaimed, func(i, j int) bool {
		if !unclaimed[i].Timestamp.Equal(unclaimed[j].Timestamp) {
			return unclaimed[i].Timestamp.After(unclaimed[j].Timestamp)
		}
		return unclaimed[i].BlockRef > unclaimed[j].BlockRef
	})

	for _, cand := range unclaimed {
		payment := &domain.Payment{
			TxHash:        cand.Hash,
			PaymentLinkID: link.ID,
			AmountMicro:   cand.AmountMicro,
			Network:       cand.Network,
			FromAddress:   cand.From,
			ToAddress:     cand.To,
			Status:        domain.StatusConfirmed,
			ConfirmedAt:   r.now().UTC(),
		}

		inserted, err := r.ledger.InsertPaymentIfAbsent(ctx, payment)
		if err != nil {
			// Real persistence failure: surface it, never mark confirmed.
			reconcileTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("claim of %s failed: %w", cand.Hash, err)
		}
		if !inserted {
			// Lost the race to a concurrent reconciliation; try the next
			// candidate rather than failing the whole attempt.
			claimConflictsTotal.Inc()
			continue
		}

		if err := r.ledger.UpdateLinkStatus(ctx, link.ID, domain.StatusConfirmed); err != nil {
			// The claim is already durable; the link state will converge on
			// the next read. Log, don't unwind.
			log.Printf("reconcile: link %s claimed %s but status update failed: %v", link.ID, cand.Hash, err)
		}
		reconcileTotal.WithLabelValues("confirmed").Inc()
		return &domain.VerificationResult{Verified: true, Payment: payment, Message: msgConfirmed}, nil
	}

	reconcileTotal.WithLabelValues("already_processed").Inc()
	return &domain.VerificationResult{Verified: false, Message: msgAllProcessed}, nil
}

func (r *Reconciler) filterClaimed(ctx context.Context, candidates []domain.TransferCandidate) ([]domain.TransferCandidate, error) {
	unclaimed := make([]domain.TransferCandidate, 0, len(candidates))
	for _, c := range candidates {
		existing, err := r.ledger.FindPaymentByHash(ctx, c.Hash)
		if err != nil {
			return nil, fmt.Errorf("claim check for %s failed: %w", c.Hash, err)
		}
		if existing != nil {
			continue
		}
		unclaimed = append(unclaimed, c)
	}
	return unclaimed, nil
}

package service

import (
	"context"
	"log"
	"time"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

// Poller periodically reconciles links stuck in pending_verification, so a
// buyer who paid but never returned to the page still gets confirmed.
// Reconciliation is idempotent, so overlap with button-triggered attempts is
// harmless.
type Poller struct {
	reconciler *Reconciler
	ledger     Ledger
	interval   time.Duration
}

func NewPoller(reconciler *Reconciler, ledger Ledger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{reconciler: reconciler, ledger: ledger, interval: interval}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("poller: started, interval %s", p.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("poller: stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	links, err := p.ledger.ListLinksByStatus(ctx, domain.StatusPendingVerification)
	if err != nil {
		log.Printf("poller: listing pending links failed: %v", err)
		return
	}

	for _, link := range links {
		result, err := p.reconciler.Reconcile(ctx, link.ID)
		if err != nil {
			log.Printf("poller: reconcile of link %s failed: %v", link.ID, err)
			continue
		}
		if result.Verified {
			log.Printf("poller: link %s confirmed by %s", link.ID, result.Payment.TxHash)
		}
	}
}

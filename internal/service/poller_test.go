package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

func TestPollerTickConfirmsPendingLinks(t *testing.T) {
	ledger := newFakeLedger()
	adapter := &fakeAdapter{network: domain.NetworkPolygon, candidates: []domain.TransferCandidate{
		polygonCandidate("0xA", 50_000_000, 5*time.Minute),
	}}
	r := newTestReconciler(ledger, adapter)

	link := seedLink(t, r, 50.0)
	_, err := r.SignalIntent(context.Background(), link.ID, "")
	require.NoError(t, err)

	// Link the buyer never re-visited: the poller should pick it up.
	p := NewPoller(r, ledger, time.Minute)
	p.tick(context.Background())

	stored, err := ledger.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
}

func TestPollerTickIgnoresActiveLinks(t *testing.T) {
	ledger := newFakeLedger()
	adapter := &fakeAdapter{network: domain.NetworkPolygon, candidates: []domain.TransferCandidate{
		polygonCandidate("0xA", 50_000_000, 5*time.Minute),
	}}
	r := newTestReconciler(ledger, adapter)

	link := seedLink(t, r, 50.0) // stays active, no buyer intent

	p := NewPoller(r, ledger, time.Minute)
	p.tick(context.Background())

	stored, err := ledger.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
}

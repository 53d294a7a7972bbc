package domain

import (
	"fmt"
	"math"
	"time"
)

// Network identifies the chain a payment link settles on.
type Network string

const (
	NetworkPolygon Network = "polygon"
	NetworkSolana  Network = "solana"
)

// Supported reports whether the network is one the engine can reconcile.
func (n Network) Supported() bool {
	return n == NetworkPolygon || n == NetworkSolana
}

// Link lifecycle states. Links are never deleted, only deactivated.
const (
	StatusActive              = "active"
	StatusPendingVerification = "pending_verification"
	StatusConfirmed           = "confirmed"
	StatusInactive            = "inactive"
)

// USDC amounts are carried internally as int64 micro-USDC (6 decimals),
// mirroring the on-chain integer representation.
const MicroPerUSDC = 1_000_000

// MicroFromUSDC converts a decimal USDC amount to micro-USDC, rounding to
// the nearest unit.
func MicroFromUSDC(amount float64) int64 {
	return int64(math.Round(amount * MicroPerUSDC))
}

// USDCFromMicro converts micro-USDC back to a decimal USDC amount.
func USDCFromMicro(micro int64) float64 {
	return float64(micro) / MicroPerUSDC
}

// PaymentLink is a seller-published payment request. Its status is mutated
// only through CanTransition-approved moves.
type PaymentLink struct {
	ID            string    `json:"link_id"`
	WalletAddress string    `json:"wallet_address"`
	AmountMicro   int64     `json:"amount_micro"`
	Network       Network   `json:"network"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// TransferCandidate is an observed on-chain transfer that may pay a link.
// Candidates are ephemeral: produced fresh on every fetch, never persisted.
type TransferCandidate struct {
	Hash        string    `json:"hash"`
	AmountMicro int64     `json:"amount_micro"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Timestamp   time.Time `json:"timestamp"`
	Network     Network   `json:"network"`
	BlockRef    uint64    `json:"block_reference"`
}

// Payment is the durable claim of one on-chain transfer by one link.
// TxHash is globally unique: a transfer may back at most one Payment, ever.
// Rows are append-only and never mutated after creation.
type Payment struct {
	TxHash        string    `json:"tx_hash"`
	PaymentLinkID string    `json:"payment_link_id"`
	AmountMicro   int64     `json:"amount_micro"`
	Network       Network   `json:"network"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	Status        string    `json:"status"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// VerificationResult is the outcome of one reconciliation attempt.
// Payment is present iff Verified; Message carries the human-readable
// reason when it is not.
type VerificationResult struct {
	Verified bool     `json:"verified"`
	Payment  *Payment `json:"payment,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// CanTransition reports whether a link status move is legal. Confirmed is
// terminal; there is no failed terminal state because a non-match is always
// retryable.
func CanTransition(from, to string) bool {
	switch from {
	case StatusActive:
		return to == StatusPendingVerification || to == StatusConfirmed || to == StatusInactive
	case StatusPendingVerification:
		// Repeated buyer signals re-enter pending_verification; that must
		// stay idempotent rather than error.
		return to == StatusPendingVerification || to == StatusConfirmed || to == StatusInactive
	default:
		return false
	}
}

// Validate checks the link invariants enforced at creation time.
func (l *PaymentLink) Validate() error {
	if l.WalletAddress == "" {
		return fmt.Errorf("wallet address is required")
	}
	if l.AmountMicro <= 0 {
		return fmt.Errorf("expected amount must be positive")
	}
	if !l.Network.Supported() {
		return fmt.Errorf("unsupported network %q", l.Network)
	}
	return nil
}

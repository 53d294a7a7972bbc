// Package match filters fetched transfers down to the ones that plausibly
// pay a given invoice.
package match

import (
	"time"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

// DefaultToleranceMicro is the absolute amount tolerance: 0.5 USDC. It
// absorbs rounding from integer/decimal conversions, not underpayment, so it
// is a small constant rather than a percentage.
const DefaultToleranceMicro = int64(domain.MicroPerUSDC / 2)

// DefaultWindow bounds how long a buyer's transfer stays eligible for
// auto-match.
const DefaultWindow = 30 * time.Minute

// Matcher selects transfer candidates by amount tolerance and time window.
type Matcher struct {
	ToleranceMicro int64
	Window         time.Duration
}

func New(toleranceMicro int64, window time.Duration) *Matcher {
	if toleranceMicro <= 0 {
		toleranceMicro = DefaultToleranceMicro
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Matcher{ToleranceMicro: toleranceMicro, Window: window}
}

// Match returns the candidates within tolerance of the expected amount and
// inside the window ending at now. A candidate must carry a non-empty hash.
// Order of results is not guaranteed; tie-breaking is the caller's job.
func (m *Matcher) Match(candidates []domain.TransferCandidate, expectedMicro int64, now time.Time) []domain.TransferCandidate {
	windowStart := now.Add(-m.Window)

	var matched []domain.TransferCandidate
	for _, c := range candidates {
		if c.Hash == "" {
			continue
		}
		if !amountWithin(c.AmountMicro, expectedMicro, m.ToleranceMicro) {
			continue
		}
		if c.Timestamp.Before(windowStart) {
			continue
		}
		matched = append(matched, c)
	}
	return matched
}

func amountWithin(amount, expected, tolerance int64) bool {
	diff := amount - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

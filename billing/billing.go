// Package billing holds the pure money and date arithmetic for group
// subscriptions. Everything here is deterministic and side-effect free;
// amounts are integer cents throughout.
package billing

import (
	"math"
	"time"
)

// FairShares splits total cents across n members. The per-head value is
// rounded half-to-even to the nearest cent and the last member absorbs the
// remainder, so the shares always sum to total exactly.
func FairShares(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	per := PerMemberShare(total, n)
	shares := make([]int64, n)
	for i := 0; i < n-1; i++ {
		shares[i] = per
	}
	shares[n-1] = total - per*int64(n-1)
	return shares
}

// PerMemberShare is the rounded per-head value before remainder adjustment.
func PerMemberShare(total int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	nn := int64(n)
	q := total / nn
	r := total % nn
	switch {
	case 2*r < nn:
		return q
	case 2*r > nn:
		return q + 1
	default:
		// exactly half a cent: round to even
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}

// NextPaymentDate returns the first due date strictly after today, advancing
// by whole cycles when the group has not been looked at for a while.
func NextPaymentDate(start time.Time, cycleDays int, today time.Time) time.Time {
	start = dateOnly(start)
	today = dateOnly(today)
	candidate := start.AddDate(0, 0, cycleDays)
	if candidate.After(today) {
		return candidate
	}
	elapsed := daysBetween(start, today) / cycleDays
	return start.AddDate(0, 0, (elapsed+1)*cycleDays)
}

// DaysUntil returns whole days from today until next, floored at zero.
func DaysUntil(next, today time.Time) int {
	d := daysBetween(dateOnly(today), dateOnly(next))
	if d < 0 {
		return 0
	}
	return d
}

// GrossUp inflates a target net amount so the member still nets amountEach
// after the processor takes pct of the gross plus a fixed fee. Fees are per
// transaction, so this is applied per member.
func GrossUp(net int64, pct float64, fixed int64) int64 {
	return int64(math.Round(float64(net+fixed) / (1 - pct)))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

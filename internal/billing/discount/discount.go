// Package discount resolves early-payment discount percentages from
// contract tiers.
package discount

import (
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
)

// Resolve returns the discount percentage applicable when paying today for
// an obligation due at dueDate. Once the due date is today or past, no
// discount applies. Among tiers whose days-before-deadline threshold is
// met, the highest percentage wins.
func Resolve(tiers []domain.EarlyDiscountTier, dueDate, today time.Time) float64 {
	days := daysUntil(dueDate, today)
	if days <= 0 {
		return 0
	}

	best := 0.0
	for _, tier := range tiers {
		if tier.Percentage <= 0 {
			continue
		}
		if days < tier.DaysBeforeDeadline {
			continue
		}
		if tier.Percentage > best {
			best = tier.Percentage
		}
	}
	return best
}

func daysUntil(dueDate, today time.Time) int {
	due := startOfDay(dueDate)
	now := startOfDay(today)
	return int(due.Sub(now).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

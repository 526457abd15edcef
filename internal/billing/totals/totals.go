// Package totals aggregates payment line items into invoice amounts.
// All arithmetic is integer cents.
package totals

import (
	"math"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/billing/discount"
)

// Totals is the computed amount breakdown of an invoice.
type Totals struct {
	BaseAmount     int64
	DiscountAmount int64
	TotalAmount    int64
}

// Compute aggregates the given payments plus fine/interest minus the
// early-payment discount into invoice totals. Deterministic and pure:
// recomputing with the same inputs yields identical output.
//
// Rounding of the discount is to nearest, ties away from zero, matching
// how stored payment discounts were produced.
func Compute(payments []domain.Payment, dueDate time.Time, contract *domain.Contract, fineAmount, interestAmount int64, today time.Time) Totals {
	var base int64
	for _, payment := range payments {
		base += payment.Amount
	}

	pct := 0.0
	if contract != nil {
		pct = discount.Resolve(contract.Tiers, dueDate, today)
	}

	disc := int64(math.Round(float64(base) * pct / 100))
	if disc < 0 {
		disc = 0
	}
	if disc > base {
		disc = base
	}

	total := base + fineAmount + interestAmount - disc
	if total < 0 {
		total = 0
	}

	return Totals{
		BaseAmount:     base,
		DiscountAmount: disc,
		TotalAmount:    total,
	}
}

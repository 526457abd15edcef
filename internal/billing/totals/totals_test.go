package totals

import (
	"testing"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func contractWithTiers() *domain.Contract {
	return &domain.Contract{
		Tiers: []domain.EarlyDiscountTier{
			{Percentage: 10, DaysBeforeDeadline: 30},
			{Percentage: 5, DaysBeforeDeadline: 10},
		},
	}
}

func TestCompute_SumsActivePayments(t *testing.T) {
	payments := []domain.Payment{{Amount: 10000}, {Amount: 5000}}
	got := Compute(payments, day(2025, time.March, 10), nil, 0, 0, day(2025, time.March, 9))

	assert.Equal(t, int64(15000), got.BaseAmount)
	assert.Equal(t, int64(0), got.DiscountAmount)
	assert.Equal(t, int64(15000), got.TotalAmount)
}

func TestCompute_AppliesTierDiscount(t *testing.T) {
	payments := []domain.Payment{{Amount: 10000}}
	got := Compute(payments, day(2025, time.April, 15), contractWithTiers(), 0, 0, day(2025, time.March, 1))

	assert.Equal(t, int64(10000), got.BaseAmount)
	assert.Equal(t, int64(1000), got.DiscountAmount)
	assert.Equal(t, int64(9000), got.TotalAmount)
}

func TestCompute_RoundsTiesAwayFromZero(t *testing.T) {
	// 5% of 1250 cents = 62.5 -> 63
	contract := &domain.Contract{Tiers: []domain.EarlyDiscountTier{{Percentage: 5, DaysBeforeDeadline: 1}}}
	got := Compute([]domain.Payment{{Amount: 1250}}, day(2025, time.March, 20), contract, 0, 0, day(2025, time.March, 1))

	assert.Equal(t, int64(63), got.DiscountAmount)
	assert.Equal(t, int64(1187), got.TotalAmount)
}

func TestCompute_FineAndInterestAdded(t *testing.T) {
	got := Compute([]domain.Payment{{Amount: 10000}}, day(2025, time.March, 10), nil, 200, 35, day(2025, time.March, 20))

	assert.Equal(t, int64(10235), got.TotalAmount)
}

func TestCompute_TotalFlooredAtZero(t *testing.T) {
	contract := &domain.Contract{Tiers: []domain.EarlyDiscountTier{{Percentage: 100, DaysBeforeDeadline: 1}}}
	got := Compute([]domain.Payment{{Amount: 500}}, day(2025, time.March, 20), contract, 0, 0, day(2025, time.March, 1))

	assert.Equal(t, int64(500), got.DiscountAmount)
	assert.Equal(t, int64(0), got.TotalAmount)
}

func TestCompute_EmptyPayments(t *testing.T) {
	got := Compute(nil, day(2025, time.March, 10), contractWithTiers(), 0, 0, day(2025, time.February, 1))

	assert.Equal(t, int64(0), got.BaseAmount)
	assert.Equal(t, int64(0), got.DiscountAmount)
	assert.Equal(t, int64(0), got.TotalAmount)
}

func TestCompute_Idempotent(t *testing.T) {
	payments := []domain.Payment{{Amount: 10000}, {Amount: 3333}}
	dueDate := day(2025, time.April, 15)
	today := day(2025, time.March, 1)
	contract := contractWithTiers()

	first := Compute(payments, dueDate, contract, 150, 75, today)
	second := Compute(payments, dueDate, contract, 150, 75, today)

	assert.Equal(t, first, second)
}

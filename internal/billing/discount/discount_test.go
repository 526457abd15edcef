package discount

import (
	"testing"
	"time"

	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/stretchr/testify/assert"
)

func tiers() []domain.EarlyDiscountTier {
	return []domain.EarlyDiscountTier{
		{Percentage: 10, DaysBeforeDeadline: 30},
		{Percentage: 5, DaysBeforeDeadline: 10},
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolve_Boundaries(t *testing.T) {
	today := day(2025, time.March, 1)

	assert.Equal(t, 10.0, Resolve(tiers(), day(2025, time.April, 1), today), "31 days out")
	assert.Equal(t, 10.0, Resolve(tiers(), day(2025, time.March, 31), today), "exactly 30 days out")
	assert.Equal(t, 5.0, Resolve(tiers(), day(2025, time.March, 11), today), "exactly 10 days out")
	assert.Equal(t, 0.0, Resolve(tiers(), day(2025, time.March, 10), today), "9 days out")
	assert.Equal(t, 0.0, Resolve(tiers(), today, today), "due today")
	assert.Equal(t, 0.0, Resolve(tiers(), day(2025, time.February, 1), today), "past due")
}

func TestResolve_IgnoresTimeOfDay(t *testing.T) {
	today := time.Date(2025, time.March, 1, 23, 59, 0, 0, time.UTC)
	due := time.Date(2025, time.March, 11, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 5.0, Resolve(tiers(), due, today))
}

func TestResolve_Empty(t *testing.T) {
	today := day(2025, time.March, 1)
	assert.Equal(t, 0.0, Resolve(nil, day(2025, time.April, 1), today))
	assert.Equal(t, 0.0, Resolve([]domain.EarlyDiscountTier{}, day(2025, time.April, 1), today))
}

func TestResolve_ZeroPercentageTierSkipped(t *testing.T) {
	today := day(2025, time.March, 1)
	zeroed := []domain.EarlyDiscountTier{{Percentage: 0, DaysBeforeDeadline: 1}}
	assert.Equal(t, 0.0, Resolve(zeroed, day(2025, time.April, 1), today))
}

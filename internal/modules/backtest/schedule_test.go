package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestSchedule_EveryPeriod(t *testing.T) {
	dates := []time.Time{d(2024, 1, 2), d(2024, 1, 3), d(2024, 1, 4)}
	assert.Equal(t, []int{0, 1, 2}, Schedule(dates, EveryPeriod))
}

func TestSchedule_Monthly(t *testing.T) {
	dates := []time.Time{
		d(2024, 1, 2), d(2024, 1, 15), d(2024, 1, 31),
		d(2024, 2, 1), d(2024, 2, 14),
		d(2024, 3, 4),
	}
	assert.Equal(t, []int{0, 3, 5}, Schedule(dates, Monthly))
}

func TestSchedule_Quarterly(t *testing.T) {
	dates := []time.Time{
		d(2024, 1, 2), d(2024, 2, 1), d(2024, 3, 1),
		d(2024, 4, 1), d(2024, 6, 3),
		d(2024, 7, 1),
		d(2025, 1, 2),
	}
	assert.Equal(t, []int{0, 3, 5, 6}, Schedule(dates, Quarterly))
}

func TestSchedule_Annually(t *testing.T) {
	dates := []time.Time{
		d(2023, 6, 1), d(2023, 12, 29),
		d(2024, 1, 2), d(2024, 7, 1),
		d(2025, 1, 2),
	}
	assert.Equal(t, []int{0, 2, 4}, Schedule(dates, Annually))
}

func TestSchedule_Empty(t *testing.T) {
	assert.Empty(t, Schedule(nil, Monthly))
}

func TestFrequency_String(t *testing.T) {
	assert.Equal(t, "every_period", EveryPeriod.String())
	assert.Equal(t, "monthly", Monthly.String())
	assert.Equal(t, "quarterly", Quarterly.String())
	assert.Equal(t, "annually", Annually.String())
}

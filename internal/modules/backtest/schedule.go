package backtest

import (
	"fmt"
	"time"
)

// Frequency is the rebalancing cadence, resolved against the sample's date
// index: a rebalance candidate is the first observation of each new
// calendar bucket.
type Frequency int

const (
	// EveryPeriod rebalances at every observation.
	EveryPeriod Frequency = iota
	// Monthly rebalances at the first observation of each month.
	Monthly
	// Quarterly rebalances at the first observation of each quarter.
	Quarterly
	// Annually rebalances at the first observation of each year.
	Annually
)

// String returns the frequency name.
func (f Frequency) String() string {
	switch f {
	case EveryPeriod:
		return "every_period"
	case Monthly:
		return "monthly"
	case Quarterly:
		return "quarterly"
	case Annually:
		return "annually"
	}
	return fmt.Sprintf("frequency(%d)", int(f))
}

// Schedule derives the ordered rebalance candidate indices from a date
// index. Whether a candidate actually triggers a solve depends on the
// training-window filter applied by the driver.
func Schedule(dates []time.Time, freq Frequency) []int {
	if freq == EveryPeriod {
		out := make([]int, len(dates))
		for i := range dates {
			out[i] = i
		}
		return out
	}

	var out []int
	for i, d := range dates {
		if i == 0 || newBucket(dates[i-1], d, freq) {
			out = append(out, i)
		}
	}
	return out
}

func newBucket(prev, cur time.Time, freq Frequency) bool {
	switch freq {
	case Monthly:
		return cur.Year() != prev.Year() || cur.Month() != prev.Month()
	case Quarterly:
		return cur.Year() != prev.Year() || quarter(cur) != quarter(prev)
	case Annually:
		return cur.Year() != prev.Year()
	}
	return true
}

func quarter(t time.Time) int {
	return (int(t.Month()) - 1) / 3
}

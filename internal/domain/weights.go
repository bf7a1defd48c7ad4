package domain

import "time"

// dayOfWeekWeights bias the advisory per-day estimate toward early-week publishing.
var dayOfWeekWeights = map[time.Weekday]float64{
	time.Monday:    1.10,
	time.Tuesday:   1.20,
	time.Wednesday: 1.10,
	time.Thursday:  1.00,
	time.Friday:    0.90,
}

// DayWeight returns the editorial weight of a weekday; weekends weigh 1.0.
func DayWeight(d time.Weekday) float64 {
	if w, ok := dayOfWeekWeights[d]; ok {
		return w
	}
	return 1.0
}

// PositionWeight favours the opening fifth of a period and eases off in the closing fifth.
func PositionWeight(index, total int) float64 {
	if total <= 0 {
		return 1.0
	}
	pos := float64(index) / float64(total)
	switch {
	case pos < 0.2:
		return 1.05
	case pos >= 0.8:
		return 0.95
	default:
		return 1.0
	}
}

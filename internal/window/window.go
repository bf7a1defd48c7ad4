package window

import (
	"time"

	"pubflow/internal/calendar"
	"pubflow/internal/domain"
)

// Window is an immutable publication range with per-day capacity bounds.
type Window struct {
	cal       *calendar.Calendar
	start     time.Time
	end       time.Time
	minPerDay int
	maxPerDay int
	days      []domain.WorkingDay
}

func ForDateRange(cal *calendar.Calendar, start, end time.Time, minPerDay, maxPerDay int) (Window, error) {
	if err := validateBounds(minPerDay, maxPerDay); err != nil {
		return Window{}, err
	}
	start, end = calendar.Midnight(start), calendar.Midnight(end)
	if start.After(end) {
		return Window{}, domain.NewConfigError("end", "%s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	if cal == nil {
		cal = calendar.New()
	}
	days := cal.ListWorkingDays(start, end)
	if len(days) == 0 {
		return Window{}, domain.NewConfigError("range", "%s..%s contains no working day", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return Window{cal: cal, start: start, end: end, minPerDay: minPerDay, maxPerDay: maxPerDay, days: days}, nil
}

// ForDays ends the window on the dayCount-th working day from start inclusive.
func ForDays(cal *calendar.Calendar, start time.Time, dayCount, minPerDay, maxPerDay int) (Window, error) {
	if dayCount <= 0 {
		return Window{}, domain.NewConfigError("dayCount", "must be positive, got %d", dayCount)
	}
	if err := validateBounds(minPerDay, maxPerDay); err != nil {
		return Window{}, err
	}
	if cal == nil {
		cal = calendar.New()
	}
	end := cal.NthWorkingDay(start, dayCount)
	return ForDateRange(cal, start, end, minPerDay, maxPerDay)
}

// ForItemCount picks the fewest working days whose capacity at maxPerDay holds itemCount, at least one.
func ForItemCount(cal *calendar.Calendar, start time.Time, itemCount, minPerDay, maxPerDay int) (Window, error) {
	if itemCount < 0 {
		return Window{}, domain.NewConfigError("itemCount", "must not be negative, got %d", itemCount)
	}
	if err := validateBounds(minPerDay, maxPerDay); err != nil {
		return Window{}, err
	}
	return ForDays(cal, start, DaysNeeded(itemCount, maxPerDay), minPerDay, maxPerDay)
}

// DaysNeeded is ceil(items/maxPerDay), never below one.
func DaysNeeded(items, maxPerDay int) int {
	if items <= 0 || maxPerDay <= 0 {
		return 1
	}
	return (items + maxPerDay - 1) / maxPerDay
}

func validateBounds(minPerDay, maxPerDay int) error {
	if minPerDay <= 0 {
		return domain.NewConfigError("minPerDay", "must be positive, got %d", minPerDay)
	}
	if minPerDay > maxPerDay {
		return domain.NewConfigError("minPerDay", "%d exceeds maxPerDay %d", minPerDay, maxPerDay)
	}
	return nil
}

func (w Window) Start() time.Time { return w.start }
func (w Window) End() time.Time   { return w.end }
func (w Window) MinPerDay() int   { return w.minPerDay }
func (w Window) MaxPerDay() int   { return w.maxPerDay }
func (w Window) DayCount() int    { return len(w.days) }

func (w Window) MaxCapacity() int { return w.maxPerDay * len(w.days) }

func (w Window) Calendar() *calendar.Calendar { return w.cal }

// WorkingDays returns a copy of the window's working days.
func (w Window) WorkingDays() []domain.WorkingDay {
	out := make([]domain.WorkingDay, len(w.days))
	copy(out, w.days)
	return out
}

// WithDayCount builds a new window from the same start spanning dayCount working days.
func (w Window) WithDayCount(dayCount int) (Window, error) {
	return ForDays(w.cal, w.start, dayCount, w.minPerDay, w.maxPerDay)
}

func (w Window) IsZero() bool { return len(w.days) == 0 }

package calendar

import (
	"fmt"
	"time"

	"pubflow/internal/domain"
)

const dateLayout = "2006-01-02"

// Calendar decides which dates are publication days: Monday to Friday minus configured holidays.
type Calendar struct {
	holidays map[string]struct{}
}

func New() *Calendar {
	return &Calendar{holidays: map[string]struct{}{}}
}

// WithHolidays parses YYYY-MM-DD dates and returns a calendar that skips them.
func WithHolidays(dates []string) (*Calendar, error) {
	c := New()
	for _, d := range dates {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		c.holidays[t.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (c *Calendar) IsWorkingDay(date time.Time) bool {
	iso := domain.ISOWeekday(date.Weekday())
	if iso > 5 {
		return false
	}
	if c == nil || len(c.holidays) == 0 {
		return true
	}
	_, holiday := c.holidays[date.Format(dateLayout)]
	return !holiday
}

func (c *Calendar) AdjustToNextWorkingDay(date time.Time) time.Time {
	d := Midnight(date)
	for !c.IsWorkingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// ListWorkingDays returns working days in [start, end], both inclusive, ascending.
func (c *Calendar) ListWorkingDays(start, end time.Time) []domain.WorkingDay {
	from, to := Midnight(start), Midnight(end)
	if from.After(to) {
		return nil
	}
	var days []domain.WorkingDay
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsWorkingDay(d) {
			days = append(days, domain.WorkingDay{Date: d, DayOfWeekISO: domain.ISOWeekday(d.Weekday())})
		}
	}
	return days
}

// NthWorkingDay returns the n-th working day counting from start inclusive (n >= 1).
func (c *Calendar) NthWorkingDay(start time.Time, n int) time.Time {
	d := c.AdjustToNextWorkingDay(start)
	for i := 1; i < n; i++ {
		d = c.AdjustToNextWorkingDay(d.AddDate(0, 0, 1))
	}
	return d
}

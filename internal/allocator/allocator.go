package allocator

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"pubflow/internal/domain"
	"pubflow/internal/window"
)

// Plan is the authoritative per-day split of a batch.
type Plan struct {
	Window    window.Window
	Days      []domain.DayAllocation
	Expansion *domain.Expansion
}

// Planned sums PlannedCount over every day.
func (p Plan) Planned() int {
	n := 0
	for _, d := range p.Days {
		n += d.PlannedCount
	}
	return n
}

type Allocator struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Allocator {
	return &Allocator{logger: logger}
}

// Allocate maps contiguous slices of items onto the window's working days. A window too small for
// the batch is rebuilt with ceil(len(items)/maxPerDay) working days first.
func (a *Allocator) Allocate(items []domain.Item, w window.Window) (Plan, error) {
	if w.IsZero() {
		return Plan{}, domain.NewConfigError("window", "has no working days")
	}

	total := len(items)
	grown, exp, err := Fit(w, total)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Window: grown, Expansion: exp}
	if exp != nil {
		a.logger.Info().
			Int("items", total).
			Int("capacity", w.MaxCapacity()).
			Int("from_days", exp.FromDays).
			Int("to_days", exp.ToDays).
			Msg("publishing window expanded")
	}

	counts := Distribute(total, plan.Window.DayCount(), plan.Window.MaxPerDay())
	days := plan.Window.WorkingDays()
	plan.Days = make([]domain.DayAllocation, len(days))
	cursor := 0
	for i, day := range days {
		n := counts[i]
		plan.Days[i] = domain.DayAllocation{
			Date:         day.Date,
			PlannedCount: n,
			Items:        items[cursor : cursor+n],
			StartIndex:   cursor,
			EndIndex:     cursor + n,
		}
		cursor += n
	}

	if cursor != total {
		return Plan{}, fmt.Errorf("allocation lost items: planned %d of %d", cursor, total)
	}
	return plan, nil
}

// Fit returns w unchanged when it can hold total items at maxPerDay, otherwise a window rebuilt
// from the same start with ceil(total/maxPerDay) working days and the expansion that was applied.
func Fit(w window.Window, total int) (window.Window, *domain.Expansion, error) {
	if w.IsZero() {
		return window.Window{}, nil, domain.NewConfigError("window", "has no working days")
	}
	if total <= w.MaxCapacity() {
		return w, nil, nil
	}
	need := window.DaysNeeded(total, w.MaxPerDay())
	grown, err := w.WithDayCount(need)
	if err != nil {
		return window.Window{}, nil, fmt.Errorf("expand window to %d days: %w", need, err)
	}
	return grown, &domain.Expansion{FromDays: w.DayCount(), ToDays: grown.DayCount()}, nil
}

// Distribute is the remainder-driven split: each day takes the rounded average of what is left,
// clamped to [1, maxPerDay] and never more than remains; the last day takes the rest up to maxPerDay.
func Distribute(total, dayCount, maxPerDay int) []int {
	counts := make([]int, dayCount)
	remaining := total
	for i := 0; i < dayCount; i++ {
		remainingDays := dayCount - i
		var n int
		if remainingDays == 1 {
			n = min(remaining, maxPerDay)
		} else {
			avg := float64(remaining) / float64(remainingDays)
			n = clamp(int(math.Round(avg)), 1, maxPerDay)
			n = min(n, remaining)
		}
		counts[i] = n
		remaining -= n
	}
	return counts
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DayEstimate is an advisory figure for reports; it is never used to place items.
type DayEstimate struct {
	Date           time.Time `json:"date"`
	Estimated      int       `json:"estimated"`
	DayWeight      float64   `json:"day_weight"`
	PositionWeight float64   `json:"position_weight"`
}

// Preview estimates per-day volume with weekday and position weighting applied to the average
// load, clamped to the window bounds.
func Preview(w window.Window, total int) []DayEstimate {
	days := w.WorkingDays()
	if len(days) == 0 {
		return nil
	}
	avg := float64(total) / float64(len(days))
	out := make([]DayEstimate, len(days))
	for i, day := range days {
		dw := domain.DayWeight(day.Date.Weekday())
		pw := domain.PositionWeight(i, len(days))
		est := clamp(int(math.Round(avg*dw*pw)), w.MinPerDay(), w.MaxPerDay())
		out[i] = DayEstimate{Date: day.Date, Estimated: est, DayWeight: dw, PositionWeight: pw}
	}
	return out
}

package api

import (
	"time"

	"pubflow/internal/allocator"
	"pubflow/internal/calendar"
	"pubflow/internal/domain"
	"pubflow/internal/window"
)

const dateLayout = "2006-01-02"

// Preview requests are answered synchronously, so they are capped well below anything a real
// batch needs: about ten years of working days and a million items.
const (
	MaxPreviewDays  = 2600
	MaxPreviewItems = 1_000_000
	maxPreviewSpan  = 3660 * 24 * time.Hour
)

// PreviewRequest describes a window by end date, day count, or item count, in that order of
// precedence. Total defaults to Items.
type PreviewRequest struct {
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
	Days      int    `json:"days,omitempty"`
	Items     int    `json:"items,omitempty"`
	Total     int    `json:"total"`
	MinPerDay int    `json:"min_per_day"`
	MaxPerDay int    `json:"max_per_day"`
}

type PreviewWindow struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	DayCount    int    `json:"day_count"`
	MaxCapacity int    `json:"max_capacity"`
}

type PreviewDay struct {
	Date      string `json:"date"`
	Planned   int    `json:"planned"`
	Estimated int    `json:"estimated"`
}

type PreviewResponse struct {
	Window    PreviewWindow           `json:"window"`
	Expansion *domain.Expansion       `json:"expansion,omitempty"`
	Days      []PreviewDay            `json:"days"`
	Estimates []allocator.DayEstimate `json:"estimates"`
}

// BuildPreview shows the allocation a run would use next to the advisory weighted estimates.
func BuildPreview(cal *calendar.Calendar, req PreviewRequest) (PreviewResponse, error) {
	start, err := parseDate("start", req.Start)
	if err != nil {
		return PreviewResponse{}, err
	}
	total := req.Total
	if total == 0 {
		total = req.Items
	}
	if total < 0 {
		return PreviewResponse{}, domain.NewConfigError("total", "must not be negative, got %d", total)
	}
	if total > MaxPreviewItems {
		return PreviewResponse{}, domain.NewConfigError("total", "%d exceeds the preview limit of %d", total, MaxPreviewItems)
	}
	if req.Days > MaxPreviewDays {
		return PreviewResponse{}, domain.NewConfigError("days", "%d exceeds the preview limit of %d", req.Days, MaxPreviewDays)
	}
	if req.MaxPerDay > 0 && window.DaysNeeded(total, req.MaxPerDay) > MaxPreviewDays {
		return PreviewResponse{}, domain.NewConfigError("total", "%d items at %d per day need more than %d working days", total, req.MaxPerDay, MaxPreviewDays)
	}

	var w window.Window
	switch {
	case req.End != "":
		end, perr := parseDate("end", req.End)
		if perr != nil {
			return PreviewResponse{}, perr
		}
		if end.Sub(start) > maxPreviewSpan {
			return PreviewResponse{}, domain.NewConfigError("end", "%s is too far after start %s", req.End, req.Start)
		}
		w, err = window.ForDateRange(cal, start, end, req.MinPerDay, req.MaxPerDay)
	case req.Days > 0:
		w, err = window.ForDays(cal, start, req.Days, req.MinPerDay, req.MaxPerDay)
	default:
		w, err = window.ForItemCount(cal, start, total, req.MinPerDay, req.MaxPerDay)
	}
	if err != nil {
		return PreviewResponse{}, err
	}

	fitted, exp, err := allocator.Fit(w, total)
	if err != nil {
		return PreviewResponse{}, err
	}
	counts := allocator.Distribute(total, fitted.DayCount(), fitted.MaxPerDay())
	estimates := allocator.Preview(fitted, total)

	resp := PreviewResponse{
		Window: PreviewWindow{
			Start:       fitted.Start().Format(dateLayout),
			End:         fitted.End().Format(dateLayout),
			DayCount:    fitted.DayCount(),
			MaxCapacity: fitted.MaxCapacity(),
		},
		Expansion: exp,
		Estimates: estimates,
	}
	for i, d := range fitted.WorkingDays() {
		day := PreviewDay{Date: d.Date.Format(dateLayout), Planned: counts[i]}
		if i < len(estimates) {
			day.Estimated = estimates[i].Estimated
		}
		resp.Days = append(resp.Days, day)
	}
	return resp, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, domain.NewConfigError(field, "must be YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

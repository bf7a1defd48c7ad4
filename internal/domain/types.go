package domain

import (
	"fmt"
	"time"
)

// Item is a draft content record waiting for a publication slot.
type Item struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	SourceRef           string    `json:"source_ref,omitempty"` // non-empty for imported items
	OriginalCreatedAt   time.Time `json:"original_created_at,omitempty"`
	OriginalPublishedAt time.Time `json:"original_published_at,omitempty"`
}

// Imported reports whether the item came from an external source and keeps its original dates.
func (i Item) Imported() bool { return i.SourceRef != "" }

type WorkingDay struct {
	Date         time.Time `json:"date"`
	DayOfWeekISO int       `json:"day_of_week"` // 1=Mon..7=Sun
}

// ISOWeekday maps time.Weekday onto 1=Mon..7=Sun.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

type ScheduleSlot struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	IsPeakHour  bool      `json:"is_peak_hour"`
	DayWeight   float64   `json:"day_weight"`
}

type DayAllocation struct {
	Date         time.Time `json:"date"`
	PlannedCount int       `json:"planned_count"`
	Items        []Item    `json:"-"`
	StartIndex   int       `json:"start_index"` // inclusive
	EndIndex     int       `json:"end_index"`   // exclusive
}

type ScheduledAssignment struct {
	Item        Item      `json:"item"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Expansion records a window that had to grow to hold every item.
type Expansion struct {
	FromDays int `json:"from_days"`
	ToDays   int `json:"to_days"`
}

type WarningKind string

const (
	WarningCapacityExpanded WarningKind = "capacity_expanded"
	WarningSlotShortfall    WarningKind = "slot_shortfall"
	WarningSlotCollision    WarningKind = "slot_collision"
	WarningFallbackSchedule WarningKind = "fallback_schedule"
	WarningBudgetExceeded   WarningKind = "budget_exceeded"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Date    time.Time   `json:"date,omitempty"`
	Message string      `json:"message"`
}

// ItemError is a per-item failure; the batch carries on.
type ItemError struct {
	ItemID  string    `json:"item_id"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

type SlotSource string

const (
	SlotSourceDistributor SlotSource = "distributor"
	SlotSourceFallback    SlotSource = "fallback"
)

type DaySummary struct {
	Date       time.Time  `json:"date"`
	Planned    int        `json:"planned"`
	Scheduled  int        `json:"scheduled"`
	Failed     int        `json:"failed"`
	Shortfall  int        `json:"shortfall,omitempty"`
	Collisions int        `json:"collisions,omitempty"`
	Source     SlotSource `json:"source"`
}

type RunResult struct {
	Total        int                   `json:"total"`
	Processed    int                   `json:"processed"`
	Scheduled    int                   `json:"scheduled"`
	Failed       int                   `json:"failed"`
	StoppedEarly bool                  `json:"stopped_early"`
	Expansion    *Expansion            `json:"expansion,omitempty"`
	Warnings     []Warning             `json:"warnings"`
	Errors       []ItemError           `json:"errors"`
	Unscheduled  []string              `json:"unscheduled"`
	Days         []DaySummary          `json:"days"`
	Assignments  []ScheduledAssignment `json:"assignments,omitempty"`
	Duration     time.Duration         `json:"duration_ns"`
}

// Remaining is the number of items that were never reached, e.g. after the budget ran out.
func (r RunResult) Remaining() int { return r.Total - r.Processed }

// RunSummary is the persisted and published view of one run; assignments travel separately.
type RunSummary struct {
	ID           string      `json:"id"`
	StartedAt    time.Time   `json:"started_at"`
	WindowStart  time.Time   `json:"window_start"`
	WindowEnd    time.Time   `json:"window_end"`
	Total        int         `json:"total"`
	Processed    int         `json:"processed"`
	Scheduled    int         `json:"scheduled"`
	Failed       int         `json:"failed"`
	StoppedEarly bool        `json:"stopped_early"`
	Expansion    *Expansion  `json:"expansion,omitempty"`
	Warnings     []Warning   `json:"warnings"`
	Errors       []ItemError `json:"errors"`
	Unscheduled  []string    `json:"unscheduled"`
	DurationMS   int64       `json:"duration_ms"`
}

func NewRunSummary(id string, startedAt, windowStart, windowEnd time.Time, r RunResult) RunSummary {
	return RunSummary{
		ID:           id,
		StartedAt:    startedAt,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Total:        r.Total,
		Processed:    r.Processed,
		Scheduled:    r.Scheduled,
		Failed:       r.Failed,
		StoppedEarly: r.StoppedEarly,
		Expansion:    r.Expansion,
		Warnings:     r.Warnings,
		Errors:       r.Errors,
		Unscheduled:  r.Unscheduled,
		DurationMS:   r.Duration.Milliseconds(),
	}
}

// ConfigError rejects a run before any allocation work begins.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

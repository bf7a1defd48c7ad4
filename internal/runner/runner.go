package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pubflow/internal/allocator"
	"pubflow/internal/distributor"
	"pubflow/internal/domain"
	"pubflow/internal/window"
	"pubflow/internal/worker"
)

const (
	DefaultFallbackBaseHour = 9
	DefaultFallbackMaxHour  = 18
)

type Options struct {
	// Workers above one generates days in parallel; results are still merged in day order.
	Workers          int
	Mode             distributor.Mode
	FallbackBaseHour int
	FallbackMaxHour  int
}

// Runner turns a batch of drafts into scheduled assignments inside an execution budget.
type Runner struct {
	alloc  *allocator.Allocator
	dist   *distributor.Distributor
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

func New(alloc *allocator.Allocator, dist *distributor.Distributor, opts Options, logger zerolog.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FallbackBaseHour <= 0 {
		opts.FallbackBaseHour = DefaultFallbackBaseHour
	}
	if opts.FallbackMaxHour <= opts.FallbackBaseHour {
		opts.FallbackMaxHour = DefaultFallbackMaxHour
	}
	return &Runner{alloc: alloc, dist: dist, opts: opts, now: time.Now, logger: logger}
}

// WithClock swaps the clock used for the execution budget.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// dayOutcome is everything one day produced; it is merged by a single accumulator.
type dayOutcome struct {
	index       int
	summary     domain.DaySummary
	assignments []domain.ScheduledAssignment
	errors      []domain.ItemError
	warnings    []domain.Warning
	unscheduled []string
}

// Run allocates items over w and schedules them day by day until done or until budget is spent.
// A zero budget means unlimited. Only configuration problems are returned as errors; everything
// else is reported in the result.
func (r *Runner) Run(ctx context.Context, items []domain.Item, w window.Window, budget time.Duration) (domain.RunResult, error) {
	started := r.now()
	result := domain.RunResult{Total: len(items)}

	plan, err := r.alloc.Allocate(items, w)
	if err != nil {
		return result, fmt.Errorf("allocate: %w", err)
	}
	if plan.Expansion != nil {
		result.Expansion = plan.Expansion
		result.Warnings = append(result.Warnings, domain.Warning{
			Kind:    domain.WarningCapacityExpanded,
			Date:    plan.Window.Start(),
			Message: fmt.Sprintf("window expanded from %d to %d working days", plan.Expansion.FromDays, plan.Expansion.ToDays),
		})
	}

	outcomes, stopped := r.processDays(ctx, plan.Days, started, budget)
	for _, out := range outcomes {
		result.Processed += out.summary.Planned
		result.Scheduled += len(out.assignments)
		result.Failed += out.summary.Failed
		result.Assignments = append(result.Assignments, out.assignments...)
		result.Errors = append(result.Errors, out.errors...)
		result.Warnings = append(result.Warnings, out.warnings...)
		result.Unscheduled = append(result.Unscheduled, out.unscheduled...)
		result.Days = append(result.Days, out.summary)
	}
	if stopped {
		result.StoppedEarly = true
		result.Warnings = append(result.Warnings, domain.Warning{
			Kind:    domain.WarningBudgetExceeded,
			Message: fmt.Sprintf("execution budget %s spent after %d of %d days; %d items left", budget, len(outcomes), len(plan.Days), result.Remaining()),
		})
	}
	result.Duration = r.now().Sub(started)

	r.logger.Info().
		Int("total", result.Total).
		Int("processed", result.Processed).
		Int("scheduled", result.Scheduled).
		Int("failed", result.Failed).
		Bool("stopped_early", result.StoppedEarly).
		Dur("duration", result.Duration).
		Msg("schedule run finished")

	return result, nil
}

func (r *Runner) exhausted(ctx context.Context, started time.Time, budget time.Duration) bool {
	if ctx.Err() != nil {
		return true
	}
	return budget > 0 && r.now().Sub(started) >= budget
}

// processDays checks the budget before each day; a day that has started always completes.
func (r *Runner) processDays(ctx context.Context, days []domain.DayAllocation, started time.Time, budget time.Duration) ([]dayOutcome, bool) {
	if r.opts.Workers == 1 {
		var outcomes []dayOutcome
		for i, day := range days {
			if r.exhausted(ctx, started, budget) {
				return outcomes, true
			}
			outcomes = append(outcomes, r.processDay(i, day))
		}
		return outcomes, false
	}

	pool := worker.NewPool(r.opts.Workers)
	results := make(chan dayOutcome, len(days))
	stopped := false
	for i, day := range days {
		i, day := i, day
		if r.exhausted(ctx, started, budget) {
			stopped = true
			break
		}
		if !pool.Go(ctx, func() { results <- r.processDay(i, day) }) {
			stopped = true
			break
		}
	}
	pool.Wait()
	close(results)

	ordered := make([]*dayOutcome, len(days))
	for out := range results {
		out := out
		ordered[out.index] = &out
	}
	// dispatched days always form a prefix of the plan
	var outcomes []dayOutcome
	for _, out := range ordered {
		if out == nil {
			break
		}
		outcomes = append(outcomes, *out)
	}
	return outcomes, stopped
}

func (r *Runner) processDay(index int, day domain.DayAllocation) dayOutcome {
	out := dayOutcome{
		index: index,
		summary: domain.DaySummary{
			Date:    day.Date,
			Planned: day.PlannedCount,
			Source:  domain.SlotSourceDistributor,
		},
	}
	if day.PlannedCount == 0 {
		return out
	}

	dc := r.dist.NewDayContext(day.Date)
	slots, err := r.dist.GenerateDaySchedule(dc, day.PlannedCount, r.opts.Mode)
	if err != nil {
		r.logger.Warn().Err(err).Time("day", day.Date).Msg("slot generation failed, using fallback schedule")
		slots = distributor.FallbackSchedule(day.Date, day.PlannedCount, r.opts.FallbackBaseHour, r.opts.FallbackMaxHour)
		out.summary.Source = domain.SlotSourceFallback
		out.warnings = append(out.warnings, domain.Warning{
			Kind:    domain.WarningFallbackSchedule,
			Date:    day.Date,
			Message: err.Error(),
		})
	}
	if n := dc.Collisions(); n > 0 {
		out.summary.Collisions = n
		out.warnings = append(out.warnings, domain.Warning{
			Kind:    domain.WarningSlotCollision,
			Date:    day.Date,
			Message: fmt.Sprintf("%d duplicate timestamps accepted after retries", n),
		})
	}

	items := day.Items
	if len(slots) < len(items) {
		short := items[len(slots):]
		items = items[:len(slots)]
		out.summary.Shortfall = len(short)
		out.summary.Failed += len(short)
		for _, it := range short {
			out.unscheduled = append(out.unscheduled, it.ID)
		}
		out.warnings = append(out.warnings, domain.Warning{
			Kind:    domain.WarningSlotShortfall,
			Date:    day.Date,
			Message: fmt.Sprintf("%d slots for %d planned items", len(slots), day.PlannedCount),
		})
	}

	for k, item := range items {
		a, err := BuildAssignment(item, slots[k])
		if err != nil {
			out.summary.Failed++
			out.errors = append(out.errors, domain.ItemError{ItemID: item.ID, Date: day.Date, Message: err.Error()})
			continue
		}
		out.assignments = append(out.assignments, a)
	}
	out.summary.Scheduled = len(out.assignments)

	r.logger.Debug().
		Time("day", day.Date).
		Int("planned", day.PlannedCount).
		Int("scheduled", out.summary.Scheduled).
		Str("source", string(out.summary.Source)).
		Msg("day scheduled")
	return out
}

// BuildAssignment derives the record dates for one item. Imported items keep their original
// created/published dates; new items take every date from the slot.
func BuildAssignment(item domain.Item, slot domain.ScheduleSlot) (domain.ScheduledAssignment, error) {
	if strings.TrimSpace(item.ID) == "" {
		return domain.ScheduledAssignment{}, fmt.Errorf("item has no identifier")
	}
	if slot.ScheduledAt.IsZero() {
		return domain.ScheduledAssignment{}, fmt.Errorf("item %s: empty slot", item.ID)
	}
	a := domain.ScheduledAssignment{
		Item:        item,
		ScheduledAt: slot.ScheduledAt,
		CreatedAt:   slot.ScheduledAt,
		PublishedAt: slot.ScheduledAt,
		UpdatedAt:   slot.ScheduledAt,
	}
	if item.Imported() {
		if !item.OriginalCreatedAt.IsZero() {
			a.CreatedAt = item.OriginalCreatedAt
		}
		if !item.OriginalPublishedAt.IsZero() {
			a.PublishedAt = item.OriginalPublishedAt
		}
	}
	return a, nil
}

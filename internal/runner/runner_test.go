package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pubflow/internal/allocator"
	"pubflow/internal/calendar"
	"pubflow/internal/distributor"
	"pubflow/internal/domain"
	"pubflow/internal/window"
)

var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func newItems(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{ID: fmt.Sprintf("itm-%03d", i), Title: fmt.Sprintf("Draft %d", i)}
	}
	return items
}

func newRunner(distOpts distributor.Options, opts Options) *Runner {
	if distOpts.Seed == 0 {
		distOpts.Seed = 11
	}
	return New(allocator.New(zerolog.Nop()), distributor.New(distOpts), opts, zerolog.Nop())
}

func mustWindow(t *testing.T, days, lo, hi int) window.Window {
	t.Helper()
	w, err := window.ForDays(calendar.New(), monday, days, lo, hi)
	if err != nil {
		t.Fatalf("ForDays: %v", err)
	}
	return w
}

// tickingClock advances one second every time it is read.
func tickingClock() func() time.Time {
	now := monday
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestRunSchedulesWholeBatch(t *testing.T) {
	r := newRunner(distributor.Options{}, Options{})
	res, err := r.Run(context.Background(), newItems(300), mustWindow(t, 5, 50, 80), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 300 || res.Processed != 300 || res.Scheduled != 300 || res.Failed != 0 {
		t.Fatalf("counts total=%d processed=%d scheduled=%d failed=%d", res.Total, res.Processed, res.Scheduled, res.Failed)
	}
	if res.StoppedEarly {
		t.Fatal("StoppedEarly = true, want false")
	}
	if len(res.Days) != 5 || len(res.Assignments) != 300 {
		t.Fatalf("days=%d assignments=%d", len(res.Days), len(res.Assignments))
	}

	seen := map[string]bool{}
	for i, a := range res.Assignments {
		if seen[a.Item.ID] {
			t.Fatalf("item %s assigned twice", a.Item.ID)
		}
		seen[a.Item.ID] = true
		if !a.CreatedAt.Equal(a.ScheduledAt) || !a.PublishedAt.Equal(a.ScheduledAt) || !a.UpdatedAt.Equal(a.ScheduledAt) {
			t.Fatalf("assignment %d dates not derived from slot: %+v", i, a)
		}
		if i > 0 && a.ScheduledAt.Before(res.Assignments[i-1].ScheduledAt) {
			t.Fatalf("assignments out of order at %d", i)
		}
	}
}

func TestRunExpandsCapacity(t *testing.T) {
	r := newRunner(distributor.Options{}, Options{})
	res, err := r.Run(context.Background(), newItems(500), mustWindow(t, 5, 50, 80), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Expansion == nil || res.Expansion.ToDays != 7 {
		t.Fatalf("Expansion = %+v, want 7 days", res.Expansion)
	}
	if res.Scheduled != 500 || len(res.Days) != 7 {
		t.Fatalf("scheduled=%d days=%d", res.Scheduled, len(res.Days))
	}
	if res.Warnings[0].Kind != domain.WarningCapacityExpanded {
		t.Fatalf("first warning = %s, want capacity_expanded", res.Warnings[0].Kind)
	}
}

func TestRunStopsWhenBudgetSpent(t *testing.T) {
	r := newRunner(distributor.Options{}, Options{}).WithClock(tickingClock())
	res, err := r.Run(context.Background(), newItems(300), mustWindow(t, 5, 50, 80), 3*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StoppedEarly {
		t.Fatal("StoppedEarly = false, want true")
	}
	if res.Processed >= res.Total {
		t.Fatalf("processed %d of %d, want fewer", res.Processed, res.Total)
	}
	if res.Processed != 120 || len(res.Days) != 2 {
		t.Fatalf("processed=%d days=%d, want 120 over 2 days", res.Processed, len(res.Days))
	}
	if res.Remaining() != 180 {
		t.Fatalf("Remaining = %d, want 180", res.Remaining())
	}
}

func TestRunParallelStopsWhenBudgetSpent(t *testing.T) {
	w := mustWindow(t, 5, 50, 80)
	r := newRunner(distributor.Options{}, Options{Workers: 2}).WithClock(tickingClock())
	res, err := r.Run(context.Background(), newItems(300), w, 3*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StoppedEarly || res.Processed >= res.Total {
		t.Fatalf("stopped=%v processed=%d of %d", res.StoppedEarly, res.Processed, res.Total)
	}
	if res.Processed != 120 || res.Remaining() != 180 {
		t.Fatalf("processed=%d remaining=%d, want 120 and 180", res.Processed, res.Remaining())
	}
	days := w.WorkingDays()
	if len(res.Days) != 2 {
		t.Fatalf("len(Days) = %d, want 2", len(res.Days))
	}
	for i, d := range res.Days {
		if !d.Date.Equal(days[i].Date) {
			t.Fatalf("day %d = %v, want %v", i, d.Date, days[i].Date)
		}
	}
	for i, a := range res.Assignments {
		if a.Item.ID != fmt.Sprintf("itm-%03d", i) {
			t.Fatalf("assignment %d holds %s", i, a.Item.ID)
		}
	}
}

func TestRunParallelMatchesDayOrder(t *testing.T) {
	r := newRunner(distributor.Options{}, Options{Workers: 4})
	res, err := r.Run(context.Background(), newItems(300), mustWindow(t, 5, 50, 80), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scheduled != 300 {
		t.Fatalf("scheduled = %d, want 300", res.Scheduled)
	}
	for i := 1; i < len(res.Days); i++ {
		if !res.Days[i].Date.After(res.Days[i-1].Date) {
			t.Fatalf("days out of order at %d", i)
		}
	}
	for i, a := range res.Assignments {
		if a.Item.ID != fmt.Sprintf("itm-%03d", i) {
			t.Fatalf("assignment %d holds %s", i, a.Item.ID)
		}
	}
}

func TestRunFallsBackOnMisconfiguredDay(t *testing.T) {
	profiles := distributor.DefaultProfiles()
	delete(profiles, time.Monday)
	r := newRunner(distributor.Options{Profiles: profiles}, Options{})

	res, err := r.Run(context.Background(), newItems(120), mustWindow(t, 2, 50, 80), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scheduled != 120 {
		t.Fatalf("scheduled = %d, want 120", res.Scheduled)
	}
	if res.Days[0].Source != domain.SlotSourceFallback || res.Days[1].Source != domain.SlotSourceDistributor {
		t.Fatalf("sources = %s, %s", res.Days[0].Source, res.Days[1].Source)
	}
	first := res.Assignments[0].ScheduledAt
	if first.Hour() != DefaultFallbackBaseHour || first.Minute() != 0 {
		t.Fatalf("first fallback slot = %v", first)
	}
	found := false
	for _, w := range res.Warnings {
		found = found || w.Kind == domain.WarningFallbackSchedule
	}
	if !found {
		t.Fatal("missing fallback warning")
	}
}

func TestRunReportsShortfall(t *testing.T) {
	profiles := distributor.DefaultProfiles()
	profiles[time.Monday] = distributor.HourProfile{Start: 9, End: 10, PeakStart: 9, PeakEnd: 10}
	r := newRunner(distributor.Options{Profiles: profiles}, Options{})

	res, err := r.Run(context.Background(), newItems(80), mustWindow(t, 1, 1, 80), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scheduled != 60 || res.Failed != 20 || res.Processed != 80 {
		t.Fatalf("scheduled=%d failed=%d processed=%d", res.Scheduled, res.Failed, res.Processed)
	}
	if len(res.Unscheduled) != 20 || res.Unscheduled[0] != "itm-060" {
		t.Fatalf("unscheduled = %v", res.Unscheduled)
	}
	if res.Days[0].Shortfall != 20 {
		t.Fatalf("day shortfall = %d, want 20", res.Days[0].Shortfall)
	}
}

func TestRunCountsItemFailures(t *testing.T) {
	items := newItems(10)
	items[4].ID = ""
	r := newRunner(distributor.Options{}, Options{})

	res, err := r.Run(context.Background(), items, mustWindow(t, 1, 1, 20), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scheduled != 9 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("scheduled=%d failed=%d errors=%d", res.Scheduled, res.Failed, len(res.Errors))
	}
}

func TestRunCancelledContextStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRunner(distributor.Options{}, Options{})
	res, err := r.Run(ctx, newItems(50), mustWindow(t, 2, 1, 30), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StoppedEarly || res.Processed != 0 {
		t.Fatalf("stopped=%v processed=%d", res.StoppedEarly, res.Processed)
	}
}

func TestRunRejectsInvalidWindow(t *testing.T) {
	r := newRunner(distributor.Options{}, Options{})
	_, err := r.Run(context.Background(), newItems(3), window.Window{}, 0)
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestBuildAssignment(t *testing.T) {
	slot := domain.ScheduleSlot{ScheduledAt: monday.Add(10 * time.Hour)}
	created := time.Date(2019, 3, 1, 8, 0, 0, 0, time.UTC)
	published := time.Date(2019, 3, 2, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		item          domain.Item
		wantCreated   time.Time
		wantPublished time.Time
		wantErr       bool
	}{
		{name: "new item", item: domain.Item{ID: "a"}, wantCreated: slot.ScheduledAt, wantPublished: slot.ScheduledAt},
		{
			name:          "imported keeps originals",
			item:          domain.Item{ID: "b", SourceRef: "csv:12", OriginalCreatedAt: created, OriginalPublishedAt: published},
			wantCreated:   created,
			wantPublished: published,
		},
		{
			name:          "imported without dates falls back to slot",
			item:          domain.Item{ID: "c", SourceRef: "csv:13"},
			wantCreated:   slot.ScheduledAt,
			wantPublished: slot.ScheduledAt,
		},
		{name: "missing id", item: domain.Item{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := BuildAssignment(tt.item, slot)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAssignment: %v", err)
			}
			if !a.CreatedAt.Equal(tt.wantCreated) || !a.PublishedAt.Equal(tt.wantPublished) {
				t.Fatalf("created=%v published=%v", a.CreatedAt, a.PublishedAt)
			}
			if !a.UpdatedAt.Equal(slot.ScheduledAt) || !a.ScheduledAt.Equal(slot.ScheduledAt) {
				t.Fatalf("updated=%v scheduled=%v", a.UpdatedAt, a.ScheduledAt)
			}
		})
	}
}

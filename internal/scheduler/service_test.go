package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pubflow/internal/allocator"
	"pubflow/internal/calendar"
	"pubflow/internal/distributor"
	"pubflow/internal/domain"
	"pubflow/internal/runner"
	"pubflow/internal/store"
)

// friday morning; the first working day after it is Monday 2025-06-02
var now = time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)

type recordingSink struct {
	got []domain.ScheduledAssignment
	err error
}

func (s *recordingSink) Apply(_ context.Context, as []domain.ScheduledAssignment) error {
	s.got = append(s.got, as...)
	return s.err
}

type recordingPublisher struct{ runs []domain.RunSummary }

func (p *recordingPublisher) PublishRun(run domain.RunSummary) error {
	p.runs = append(p.runs, run)
	return nil
}
func (p *recordingPublisher) Close() {}

func newRepo(t *testing.T, drafts int) store.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := store.EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo := store.NewSQLiteRepo(db)
	for i := 0; i < drafts; i++ {
		if _, err := repo.AddDraft(context.Background(), domain.Item{ID: fmt.Sprintf("d%03d", i)}); err != nil {
			t.Fatalf("AddDraft: %v", err)
		}
	}
	return repo
}

func newRunner() *runner.Runner {
	return runner.New(allocator.New(zerolog.Nop()), distributor.New(distributor.Options{Seed: 3}), runner.Options{}, zerolog.Nop())
}

func opts() Options {
	return Options{Cron: "*/15 * * * *", MinPerDay: 50, MaxPerDay: 80}
}

func TestPlanPendingSchedulesEveryDraft(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, 130)
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	svc := NewService(repo, newRunner(), calendar.New(), pub, opts(), zerolog.Nop(), sink)

	summary, err := svc.PlanPending(ctx, now)
	if err != nil {
		t.Fatalf("PlanPending: %v", err)
	}
	if summary.Scheduled != 130 || summary.StoppedEarly {
		t.Fatalf("summary = %+v", summary)
	}
	if want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC); !summary.WindowStart.Equal(want) {
		t.Fatalf("WindowStart = %v, want %v", summary.WindowStart, want)
	}
	if !summary.WindowEnd.Equal(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("WindowEnd = %v, want 2025-06-03", summary.WindowEnd)
	}

	pending, err := repo.PendingDrafts(ctx, 1000)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending = %d, err %v", len(pending), err)
	}
	saved, err := repo.ListAssignments(ctx, summary.ID)
	if err != nil || len(saved) != 130 {
		t.Fatalf("saved assignments = %d, err %v", len(saved), err)
	}
	if _, err := repo.GetRun(ctx, summary.ID); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(sink.got) != 130 {
		t.Fatalf("sink got %d assignments", len(sink.got))
	}
	if len(pub.runs) != 1 || pub.runs[0].ID != summary.ID {
		t.Fatalf("published = %+v", pub.runs)
	}

	if _, err := svc.PlanPending(ctx, now); !errors.Is(err, ErrNothingToPlan) {
		t.Fatalf("second pass err = %v, want ErrNothingToPlan", err)
	}
}

func TestPlanPendingLeavesUnreachedDrafts(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, 130)
	tick := now
	r := newRunner().WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	o := opts()
	o.Budget = 2 * time.Second
	svc := NewService(repo, r, calendar.New(), nil, o, zerolog.Nop())

	summary, err := svc.PlanPending(ctx, now)
	if err != nil {
		t.Fatalf("PlanPending: %v", err)
	}
	if !summary.StoppedEarly || summary.Scheduled != 65 {
		t.Fatalf("summary = %+v", summary)
	}
	pending, err := repo.PendingDrafts(ctx, 1000)
	if err != nil || len(pending) != 65 {
		t.Fatalf("pending = %d, err %v", len(pending), err)
	}
	if pending[0].ID != "d065" {
		t.Fatalf("first pending = %s, want d065", pending[0].ID)
	}
}

func TestPlanPendingSurvivesSinkFailure(t *testing.T) {
	repo := newRepo(t, 10)
	sink := &recordingSink{err: errors.New("mongo down")}
	o := opts()
	o.MinPerDay = 1
	svc := NewService(repo, newRunner(), calendar.New(), nil, o, zerolog.Nop(), sink)

	summary, err := svc.PlanPending(context.Background(), now)
	if err != nil {
		t.Fatalf("PlanPending: %v", err)
	}
	if summary.Scheduled != 10 || len(sink.got) != 10 {
		t.Fatalf("scheduled = %d, sink got %d", summary.Scheduled, len(sink.got))
	}
}

// failingRecorder lets every repository call through except the final write of a run.
type failingRecorder struct {
	store.Repository
}

func (failingRecorder) RecordRun(context.Context, domain.RunSummary, []domain.ScheduledAssignment) error {
	return errors.New("disk full")
}

func TestPlanPendingKeepsDraftsWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, 10)
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	o := opts()
	o.MinPerDay = 1
	svc := NewService(failingRecorder{repo}, newRunner(), calendar.New(), pub, o, zerolog.Nop(), sink)

	if _, err := svc.PlanPending(ctx, now); err == nil {
		t.Fatal("expected PlanPending to fail")
	}
	if len(sink.got) != 0 || len(pub.runs) != 0 {
		t.Fatalf("delivered %d assignments and %d summaries after failed write", len(sink.got), len(pub.runs))
	}
	pending, err := repo.PendingDrafts(ctx, 100)
	if err != nil || len(pending) != 10 {
		t.Fatalf("pending = %d, err %v", len(pending), err)
	}
	runs, err := repo.ListRuns(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("runs = %d, err %v", len(runs), err)
	}
}

func TestPlanPendingSkipsHolidays(t *testing.T) {
	repo := newRepo(t, 5)
	cal, err := calendar.WithHolidays([]string{"2025-06-02"})
	if err != nil {
		t.Fatalf("WithHolidays: %v", err)
	}
	o := opts()
	o.MinPerDay = 1
	svc := NewService(repo, newRunner(), cal, nil, o, zerolog.Nop())

	summary, err := svc.PlanPending(context.Background(), now)
	if err != nil {
		t.Fatalf("PlanPending: %v", err)
	}
	if want := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC); !summary.WindowStart.Equal(want) {
		t.Fatalf("WindowStart = %v, want %v", summary.WindowStart, want)
	}
}

func TestNextRun(t *testing.T) {
	svc := NewService(nil, nil, calendar.New(), nil, Options{Cron: "0 6 * * 1-5"}, zerolog.Nop())
	next, err := svc.NextRun(now)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if want := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

func TestValidateCronExpression(t *testing.T) {
	if err := ValidateCronExpression("*/5 * * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpression("soon"); err == nil {
		t.Fatal("invalid expression accepted")
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pubflow/internal/calendar"
	"pubflow/internal/domain"
	"pubflow/internal/events"
	"pubflow/internal/runner"
	"pubflow/internal/store"
	"pubflow/internal/telemetry"
	"pubflow/internal/window"
	"pubflow/internal/worker"
)

var ErrNothingToPlan = errors.New("no pending drafts")

// Sink receives the assignments of every persisted run, e.g. the content document store.
type Sink interface {
	Apply(ctx context.Context, as []domain.ScheduledAssignment) error
}

type Options struct {
	Cron       string
	Location   *time.Location
	MinPerDay  int
	MaxPerDay  int
	Budget     time.Duration
	BatchLimit int
	// SinkAttempts bounds delivery tries per sink and for the summary; one means no retry.
	SinkAttempts int
}

// Service drains pending drafts into the schedule, on demand or on a cron cadence.
type Service struct {
	repo      store.Repository
	runner    *runner.Runner
	cal       *calendar.Calendar
	publisher events.Publisher
	sinks     []Sink
	opts      Options
	logger    zerolog.Logger

	mu sync.Mutex
}

func NewService(repo store.Repository, r *runner.Runner, cal *calendar.Calendar, publisher events.Publisher, opts Options, logger zerolog.Logger, sinks ...Sink) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 1000
	}
	if opts.SinkAttempts <= 0 {
		opts.SinkAttempts = 1
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:      repo,
		runner:    r,
		cal:       cal,
		publisher: publisher,
		sinks:     sinks,
		opts:      opts,
		logger:    logger,
	}
}

// Start runs PlanPending on the configured cron expression until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc(s.opts.Cron, func() {
		if _, err := s.PlanPending(ctx, time.Now()); err != nil && !errors.Is(err, ErrNothingToPlan) {
			s.logger.Error().Err(err).Msg("scheduled planning pass failed")
		}
	}); err != nil {
		return fmt.Errorf("register cron %q: %w", s.opts.Cron, err)
	}
	c.Start()
	s.logger.Info().Str("cron", s.opts.Cron).Str("timezone", s.opts.Location.String()).Msg("planning service started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Msg("planning service stopped")
	return nil
}

// NextRun reports when the cron cadence fires next after from.
func (s *Service) NextRun(from time.Time) (time.Time, error) {
	return NextRunTime(s.opts.Cron, from.In(s.opts.Location))
}

// PlanPending schedules pending drafts starting on the first working day after now. Drafts the run
// did not reach stay pending for the next pass. Only one pass runs at a time.
func (s *Service) PlanPending(ctx context.Context, now time.Time) (domain.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.repo.PendingDrafts(ctx, s.opts.BatchLimit)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("load pending drafts: %w", err)
	}
	telemetry.PendingDrafts.Set(float64(len(items)))
	if len(items) == 0 {
		return domain.RunSummary{}, ErrNothingToPlan
	}

	local := now.In(s.opts.Location)
	start := s.cal.AdjustToNextWorkingDay(calendar.Midnight(local).AddDate(0, 0, 1))
	w, err := window.ForItemCount(s.cal, start, len(items), s.opts.MinPerDay, s.opts.MaxPerDay)
	if err != nil {
		return domain.RunSummary{}, err
	}

	res, err := s.runner.Run(ctx, items, w, s.opts.Budget)
	if err != nil {
		return domain.RunSummary{}, err
	}

	summary := domain.NewRunSummary(store.NewRunID(), now, w.Start(), w.End(), res)
	if err := s.persist(ctx, summary, res.Assignments); err != nil {
		return summary, err
	}
	telemetry.ObserveRun(res)

	for _, sink := range s.sinks {
		err := worker.Retry(ctx, s.opts.SinkAttempts, func() error { return sink.Apply(ctx, res.Assignments) })
		if err != nil {
			telemetry.SinkErrorsTotal.WithLabelValues(fmt.Sprintf("%T", sink)).Inc()
			s.logger.Error().Err(err).Str("run_id", summary.ID).Msg("sink rejected assignments")
		}
	}
	if err := worker.Retry(ctx, s.opts.SinkAttempts, func() error { return s.publisher.PublishRun(summary) }); err != nil {
		telemetry.SinkErrorsTotal.WithLabelValues("publisher").Inc()
		s.logger.Error().Err(err).Str("run_id", summary.ID).Msg("failed to publish run summary")
	}

	s.logger.Info().
		Str("run_id", summary.ID).
		Time("window_start", summary.WindowStart).
		Int("pending", len(items)).
		Int("scheduled", summary.Scheduled).
		Int("failed", summary.Failed).
		Int("remaining", res.Remaining()).
		Bool("stopped_early", summary.StoppedEarly).
		Msg("planning pass finished")
	return summary, nil
}

func (s *Service) persist(ctx context.Context, summary domain.RunSummary, as []domain.ScheduledAssignment) error {
	if err := s.repo.RecordRun(ctx, summary, as); err != nil {
		return fmt.Errorf("record run %s: %w", summary.ID, err)
	}
	return nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}

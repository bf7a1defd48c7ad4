package distributor

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"pubflow/internal/domain"
)

type Mode int

const (
	// ModeHumanized biases hours toward the peak sub-range.
	ModeHumanized Mode = iota
	ModeUniform
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "humanized":
		return ModeHumanized, nil
	case "uniform":
		return ModeUniform, nil
	}
	return 0, fmt.Errorf("unknown distribution mode %q", s)
}

func (m Mode) String() string {
	if m == ModeUniform {
		return "uniform"
	}
	return "humanized"
}

// CollisionPolicy decides what happens once retries for a free timestamp run out.
type CollisionPolicy string

const (
	CollisionAccept CollisionPolicy = "accept"
	CollisionProbe  CollisionPolicy = "probe"
)

const (
	DefaultPeakProbability = 0.6
	DefaultMaxRetries      = 10
)

type Options struct {
	Profiles        map[time.Weekday]HourProfile
	PeakProbability float64
	MaxRetries      int
	Collision       CollisionPolicy
	// Seed makes every day's draw reproducible; zero seeds from the clock.
	Seed int64
}

// Distributor spreads a day's items over working hours the way an editorial team would.
type Distributor struct {
	profiles  map[time.Weekday]HourProfile
	peakProb  float64
	retries   int
	collision CollisionPolicy
	seed      int64
}

func New(opts Options) *Distributor {
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.PeakProbability <= 0 || opts.PeakProbability > 1 {
		opts.PeakProbability = DefaultPeakProbability
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Collision == "" {
		opts.Collision = CollisionAccept
	}
	return &Distributor{
		profiles:  opts.Profiles,
		peakProb:  opts.PeakProbability,
		retries:   opts.MaxRetries,
		collision: opts.Collision,
		seed:      opts.Seed,
	}
}

// Profile returns the hour profile configured for the weekday of date.
func (d *Distributor) Profile(date time.Time) (HourProfile, error) {
	p, ok := d.profiles[date.Weekday()]
	if !ok {
		return HourProfile{}, fmt.Errorf("no hour profile for %s", date.Weekday())
	}
	if err := p.Validate(); err != nil {
		return HourProfile{}, fmt.Errorf("%s profile: %w", date.Weekday(), err)
	}
	return p, nil
}

// DayContext holds the timestamps already handed out for one day. It is owned by a single
// goroutine and must not be reused for another day without Reset.
type DayContext struct {
	date       time.Time
	used       map[int64]struct{}
	rng        *rand.Rand
	collisions int
}

func (d *Distributor) NewDayContext(date time.Time) *DayContext {
	y, m, day := date.Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, date.Location())
	seed := d.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DayContext{
		date: midnight,
		used: make(map[int64]struct{}),
		rng:  rand.New(rand.NewSource(seed ^ midnight.Unix())),
	}
}

func (c *DayContext) Date() time.Time { return c.date }

// Reset forgets every used timestamp and collision.
func (c *DayContext) Reset() {
	c.used = make(map[int64]struct{})
	c.collisions = 0
}

// Collisions counts duplicates accepted after the retry bound was exhausted.
func (c *DayContext) Collisions() int { return c.collisions }

func (c *DayContext) Used() int { return len(c.used) }

// GenerateDaySchedule returns up to count ascending slots for the context's day. When count exceeds
// what the working window can hold the result is shorter; callers compare lengths.
func (d *Distributor) GenerateDaySchedule(dc *DayContext, count int, mode Mode) ([]domain.ScheduleSlot, error) {
	if dc == nil {
		return nil, fmt.Errorf("day context is required")
	}
	if count < 0 {
		return nil, fmt.Errorf("slot count must not be negative, got %d", count)
	}
	if count == 0 {
		return []domain.ScheduleSlot{}, nil
	}

	profile, err := d.Profile(dc.date)
	if err != nil {
		return nil, err
	}
	if limit := profile.SpanMinutes(); count > limit {
		count = limit
	}

	weight := domain.DayWeight(dc.date.Weekday())
	slots := make([]domain.ScheduleSlot, 0, count)
	for i := 0; i < count; i++ {
		ts := d.pick(dc, profile, mode)
		dc.used[ts.Unix()] = struct{}{}
		slots = append(slots, domain.ScheduleSlot{
			ScheduledAt: ts,
			IsPeakHour:  profile.IsPeak(ts.Hour()),
			DayWeight:   weight,
		})
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].ScheduledAt.Before(slots[j].ScheduledAt) })
	return slots, nil
}

func (d *Distributor) pick(dc *DayContext, p HourProfile, mode Mode) time.Time {
	var candidate time.Time
	for attempt := 0; attempt < d.retries; attempt++ {
		candidate = d.draw(dc, p, mode)
		if _, taken := dc.used[candidate.Unix()]; !taken {
			return candidate
		}
	}
	if d.collision == CollisionProbe {
		if free, ok := probe(dc, p, candidate); ok {
			return free
		}
	}
	dc.collisions++
	return candidate
}

func (d *Distributor) draw(dc *DayContext, p HourProfile, mode Mode) time.Time {
	var hour int
	if mode == ModeHumanized && dc.rng.Float64() < d.peakProb {
		hour = p.PeakStart + dc.rng.Intn(p.PeakEnd-p.PeakStart)
	} else {
		hour = p.Start + dc.rng.Intn(p.End-p.Start)
	}
	return at(dc.date, hour, dc.rng.Intn(60), dc.rng.Intn(60))
}

// probe walks forward one second at a time from the candidate, wrapping inside the working window.
func probe(dc *DayContext, p HourProfile, from time.Time) (time.Time, bool) {
	span := (p.End - p.Start) * 3600
	offset := (from.Hour()-p.Start)*3600 + from.Minute()*60 + from.Second()
	for step := 1; step < span; step++ {
		o := (offset + step) % span
		t := at(dc.date, p.Start+o/3600, (o%3600)/60, o%60)
		if _, taken := dc.used[t.Unix()]; !taken {
			return t, true
		}
	}
	return time.Time{}, false
}

func at(day time.Time, hour, minute, second int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, second, 0, day.Location())
}

// FallbackSchedule spaces count slots evenly from baseHour, one minute apart at least, and drops
// any slot that would land at or after maxHour.
func FallbackSchedule(date time.Time, count, baseHour, maxHour int) []domain.ScheduleSlot {
	if count <= 0 || maxHour <= baseHour {
		return []domain.ScheduleSlot{}
	}
	start := at(date, baseHour, 0, 0)
	limit := at(date, maxHour, 0, 0)
	step := limit.Sub(start) / time.Duration(count)
	if step < time.Minute {
		step = time.Minute
	}
	step = step.Truncate(time.Second)

	weight := domain.DayWeight(date.Weekday())
	slots := make([]domain.ScheduleSlot, 0, count)
	for i := 0; i < count; i++ {
		t := start.Add(time.Duration(i) * step)
		if !t.Before(limit) {
			break
		}
		slots = append(slots, domain.ScheduleSlot{ScheduledAt: t, DayWeight: weight})
	}
	return slots
}

package distributor

import (
	"fmt"
	"strings"
	"time"
)

// HourProfile bounds a day's publishing hours. End and PeakEnd are exclusive.
type HourProfile struct {
	Start     int `yaml:"start" json:"start"`
	End       int `yaml:"end" json:"end"`
	PeakStart int `yaml:"peak_start" json:"peak_start"`
	PeakEnd   int `yaml:"peak_end" json:"peak_end"`
}

func (p HourProfile) Validate() error {
	if p.Start < 0 || p.End > 24 || p.End <= p.Start {
		return fmt.Errorf("working hours %02d:00-%02d:00 are not a valid range", p.Start, p.End)
	}
	if p.PeakStart < p.Start || p.PeakEnd > p.End || p.PeakEnd <= p.PeakStart {
		return fmt.Errorf("peak hours %02d:00-%02d:00 fall outside %02d:00-%02d:00", p.PeakStart, p.PeakEnd, p.Start, p.End)
	}
	return nil
}

// SpanMinutes is the most slots a day can hold.
func (p HourProfile) SpanMinutes() int { return (p.End - p.Start) * 60 }

func (p HourProfile) IsPeak(hour int) bool { return hour >= p.PeakStart && hour < p.PeakEnd }

func DefaultProfiles() map[time.Weekday]HourProfile {
	weekday := HourProfile{Start: 8, End: 18, PeakStart: 10, PeakEnd: 15}
	weekend := HourProfile{Start: 10, End: 16, PeakStart: 11, PeakEnd: 14}
	return map[time.Weekday]HourProfile{
		time.Monday:    weekday,
		time.Tuesday:   weekday,
		time.Wednesday: weekday,
		time.Thursday:  weekday,
		time.Friday:    {Start: 8, End: 17, PeakStart: 10, PeakEnd: 14},
		time.Saturday:  weekend,
		time.Sunday:    weekend,
	}
}

// ParseWeekday accepts English weekday names or their three-letter forms.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

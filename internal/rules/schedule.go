package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/technosupport/ts-events/internal/data"
)

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Schedule is a daily window [Start, End) in a fixed timezone. A window whose
// end is before its start runs past midnight, and its early-morning part
// belongs to the previous day for the day-of-week check. Equal start and end
// cover the whole day.
type Schedule struct {
	start, end int // minutes since midnight
	days       [7]bool
	loc        *time.Location
}

func ParseSchedule(spec data.ScheduleSpec) (*Schedule, error) {
	start, err := parseClock(spec.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(spec.End)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	s := &Schedule{start: start, end: end % (24 * 60), loc: time.Local}
	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
		s.loc = loc
	}

	if len(spec.Days) == 0 {
		for i := range s.days {
			s.days[i] = true
		}
	}
	for _, d := range spec.Days {
		wd, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", d)
		}
		s.days[wd] = true
	}
	return s, nil
}

func parseClock(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || mm < 0 || mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	return hh*60 + mm, nil
}

// Contains reports whether t falls inside the window.
func (s *Schedule) Contains(t time.Time) bool {
	lt := t.In(s.loc)
	m := lt.Hour()*60 + lt.Minute()
	day := lt.Weekday()

	switch {
	case s.start == s.end:
	case s.start < s.end:
		if m < s.start || m >= s.end {
			return false
		}
	default:
		if m >= s.start {
			break
		}
		if m >= s.end {
			return false
		}
		day = (day + 6) % 7
	}
	return s.days[day]
}

var errNoTimestamp = errors.New("event has no timestamp")

func (s *Schedule) Eval(e *data.Event) (bool, error) {
	if e.Timestamp.IsZero() {
		return false, errNoTimestamp
	}
	return s.Contains(e.Timestamp), nil
}

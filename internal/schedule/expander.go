// Package schedule expands recurring medication schedules into concrete dose
// occurrences and detects overlapping pending doses.
package schedule

import (
	"fmt"
	"time"

	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

// DefaultLookahead is how far ahead schedules are materialised
const DefaultLookahead = 30 * 24 * time.Hour

// Occurrence is a candidate dose produced by expanding a pattern
type Occurrence struct {
	ScheduleID    string
	MedicationID  string
	ScheduledTime time.Time
}

type timeOfDay struct {
	hour   int
	minute int
}

// Iterator lazily yields the occurrences of a schedule in ascending order.
// It is restartable: two iterators built from the same inputs yield the same sequence.
type Iterator struct {
	schedule *model.MedicationSchedule
	loc      *time.Location
	times    []timeOfDay
	startDay int
	endDay   int
	hasEnd   bool
	after    time.Time

	day       time.Time
	idx       int
	emptyRun  int
	maxEmpty  int
	exhausted bool
}

// NewIterator returns an iterator over occurrences strictly after the given instant.
// Times of day are interpreted in the location of the schedule's start date.
func NewIterator(s *model.MedicationSchedule, after time.Time) (*Iterator, error) {
	return NewIteratorIn(s, after, s.StartDate.Location())
}

// NewIteratorIn is NewIterator with times of day interpreted in loc. Start and
// end dates are calendar dates; their own offsets do not shift wall times.
func NewIteratorIn(s *model.MedicationSchedule, after time.Time, loc *time.Location) (*Iterator, error) {
	if err := s.Pattern.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = s.StartDate.Location()
	}

	it := &Iterator{
		schedule: s,
		loc:      loc,
		startDay: civilDay(s.StartDate),
		after:    after,
	}

	for _, t := range s.Pattern.Times {
		hour, minute, err := model.ParseTimeOfDay(t)
		if err != nil {
			return nil, fmt.Errorf("invalid time of day: %w", err)
		}
		it.times = append(it.times, timeOfDay{hour: hour, minute: minute})
	}

	if end := s.EffectiveEndDate(); end != nil {
		it.endDay = civilDay(*end)
		it.hasEnd = true
	}

	if s.Pattern.Type == model.PatternAsNeeded {
		it.exhausted = true
		return it, nil
	}

	// a valid pattern always matches within this many consecutive days
	interval := s.Pattern.Interval
	if interval < 1 {
		interval = 1
	}
	it.maxEmpty = 62 + interval

	first := time.Date(s.StartDate.Year(), s.StartDate.Month(), s.StartDate.Day(), 0, 0, 0, 0, loc)
	if a := after.In(loc); civilDay(a) > civilDay(first) {
		first = a
	}
	it.day = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	return it, nil
}

// Next returns the next occurrence, or false once the schedule has ended
func (it *Iterator) Next() (Occurrence, bool) {
	for !it.exhausted {
		day := civilDay(it.day)
		if it.hasEnd && day > it.endDay {
			it.exhausted = true
			break
		}

		if it.includes(it.day, day) {
			it.emptyRun = 0
			for it.idx < len(it.times) {
				tod := it.times[it.idx]
				it.idx++
				at := time.Date(it.day.Year(), it.day.Month(), it.day.Day(), tod.hour, tod.minute, 0, 0, it.loc)
				if at.After(it.after) {
					return Occurrence{
						ScheduleID:    it.schedule.ID,
						MedicationID:  it.schedule.MedicationID,
						ScheduledTime: at,
					}, true
				}
			}
		} else {
			it.emptyRun++
			if it.emptyRun > it.maxEmpty {
				it.exhausted = true
				break
			}
		}

		it.day = it.day.AddDate(0, 0, 1)
		it.idx = 0
	}
	return Occurrence{}, false
}

func (it *Iterator) includes(date time.Time, day int) bool {
	p := it.schedule.Pattern
	switch p.Type {
	case model.PatternDaily:
		return true
	case model.PatternWeekly:
		return p.DaysOfWeek[date.Weekday()]
	case model.PatternMonthly:
		// a day absent from a short month produces nothing that month
		for _, d := range p.DaysOfMonth {
			if d == date.Day() {
				return true
			}
		}
		return false
	case model.PatternInterval:
		since := day - it.startDay
		return since >= 0 && since%p.Interval == 0
	default:
		return false
	}
}

// Expander materialises occurrences over a bounded window
type Expander struct {
	Lookahead time.Duration
	// Location for times of day; nil uses each schedule's start date location
	Location *time.Location
}

// NewExpander creates an Expander; a non-positive lookahead selects the default
func NewExpander(lookahead time.Duration) *Expander {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Expander{Lookahead: lookahead}
}

// In sets the location times of day are interpreted in
func (e *Expander) In(loc *time.Location) *Expander {
	e.Location = loc
	return e
}

// Expand returns the occurrences of s within [windowStart, windowEnd], bounded by
// the look-ahead from now and by the schedule end date. Occurrences at or before
// now are dropped. The result is sorted ascending.
func (e *Expander) Expand(s *model.MedicationSchedule, windowStart, windowEnd, now time.Time) ([]Occurrence, error) {
	limit := now.Add(e.Lookahead)
	if windowEnd.Before(limit) {
		limit = windowEnd
	}

	after := now
	if ws := windowStart.Add(-time.Nanosecond); ws.After(after) {
		after = ws
	}

	it, err := NewIteratorIn(s, after, e.Location)
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for {
		occ, ok := it.Next()
		if !ok || occ.ScheduledTime.After(limit) {
			break
		}
		out = append(out, occ)
	}
	return out, nil
}

// civilDay returns the number of calendar days since the Unix epoch for the
// date of t in its own location
func civilDay(t time.Time) int {
	return int(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidPattern is returned when a schedule pattern is rejected at creation
var ErrInvalidPattern = errors.New("invalid schedule pattern")

func invalidPattern(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidTransition, ErrInvalidPattern, fmt.Sprintf(format, args...))
}

// ParseTimeOfDay parses an "HH:MM" string into hour and minute
func ParseTimeOfDay(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("time %q must be formatted as HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return hour, minute, nil
}

// Normalize sorts and deduplicates times and days of month in place
func (p *SchedulePattern) Normalize() {
	if len(p.Times) > 0 {
		seen := make(map[string]bool, len(p.Times))
		times := p.Times[:0]
		for _, t := range p.Times {
			if !seen[t] {
				seen[t] = true
				times = append(times, t)
			}
		}
		sort.Strings(times)
		p.Times = times
	}
	if len(p.DaysOfMonth) > 0 {
		seen := make(map[int]bool, len(p.DaysOfMonth))
		days := p.DaysOfMonth[:0]
		for _, d := range p.DaysOfMonth {
			if !seen[d] {
				seen[d] = true
				days = append(days, d)
			}
		}
		sort.Ints(days)
		p.DaysOfMonth = days
	}
}

// Validate checks the pattern invariants
func (p *SchedulePattern) Validate() error {
	switch p.Type {
	case PatternDaily, PatternWeekly, PatternMonthly, PatternInterval:
		if len(p.Times) == 0 {
			return invalidPattern("%s pattern requires at least one time", p.Type)
		}
	case PatternAsNeeded:
	default:
		return invalidPattern("unknown pattern type %q", p.Type)
	}

	for _, t := range p.Times {
		if _, _, err := ParseTimeOfDay(t); err != nil {
			return invalidPattern("%v", err)
		}
	}

	switch p.Type {
	case PatternWeekly:
		selected := false
		for _, on := range p.DaysOfWeek {
			selected = selected || on
		}
		if !selected {
			return invalidPattern("weekly pattern requires at least one day of week")
		}
	case PatternMonthly:
		if len(p.DaysOfMonth) == 0 {
			return invalidPattern("monthly pattern requires at least one day of month")
		}
		for _, d := range p.DaysOfMonth {
			if d < 1 || d > 31 {
				return invalidPattern("day of month %d out of range 1..31", d)
			}
		}
	case PatternInterval:
		if p.Interval < 1 {
			return invalidPattern("interval must be >= 1, got %d", p.Interval)
		}
	}

	return nil
}

// Validate checks the schedule invariants and fills defaults
func (s *MedicationSchedule) Validate() error {
	if s.MedicationID == "" {
		return fmt.Errorf("%w: medication ID is required", ErrInvalidInput)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidInput)
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return invalidPattern("end date %s is before start date %s",
			s.EndDate.Format("2006-01-02"), s.StartDate.Format("2006-01-02"))
	}

	switch s.Priority {
	case "":
		s.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s.Priority)
	}

	switch s.FoodRequirement {
	case "":
		s.FoodRequirement = FoodAny
	case FoodWithFood, FoodWithoutFood, FoodEmptyStomach, FoodAny:
	default:
		return fmt.Errorf("%w: unknown food requirement %q", ErrInvalidInput, s.FoodRequirement)
	}

	s.Pattern.Normalize()
	return s.Pattern.Validate()
}

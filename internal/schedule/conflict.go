package schedule

import (
	"sort"
	"time"

	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

// DefaultConflictWindow is the width of the buckets pending doses are grouped into
const DefaultConflictWindow = 15 * time.Minute

// ConflictDetector groups pending doses into fixed windows and grades overlaps
type ConflictDetector struct {
	Window time.Duration
}

// NewConflictDetector creates a ConflictDetector; windows are whole minutes
func NewConflictDetector(window time.Duration) *ConflictDetector {
	if window < time.Minute {
		window = DefaultConflictWindow
	}
	return &ConflictDetector{Window: window}
}

type bucketKey struct {
	year  int
	month time.Month
	day   int
	slot  int
}

// Detect returns every window holding more than one pending dose, sorted by time
func (d *ConflictDetector) Detect(doses []model.ScheduledDose) []model.ConflictRecord {
	width := int(d.Window / time.Minute)
	if width < 1 {
		width = int(DefaultConflictWindow / time.Minute)
	}

	buckets := make(map[bucketKey][]model.ScheduledDose)
	starts := make(map[bucketKey]time.Time)
	for _, dose := range doses {
		if dose.Status != model.DoseStatusPending {
			continue
		}
		t := dose.ScheduledTime
		slot := (t.Hour()*60 + t.Minute()) / width
		key := bucketKey{year: t.Year(), month: t.Month(), day: t.Day(), slot: slot}
		if _, ok := starts[key]; !ok {
			minutes := slot * width
			starts[key] = time.Date(t.Year(), t.Month(), t.Day(), minutes/60, minutes%60, 0, 0, t.Location())
		}
		buckets[key] = append(buckets[key], dose)
	}

	var conflicts []model.ConflictRecord
	for key, group := range buckets {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].ScheduledTime.Equal(group[j].ScheduledTime) {
				return group[i].ScheduledTime.Before(group[j].ScheduledTime)
			}
			return group[i].ID < group[j].ID
		})
		conflicts = append(conflicts, model.ConflictRecord{
			Time:     starts[key],
			Doses:    group,
			Severity: Severity(group),
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if !conflicts[i].Time.Equal(conflicts[j].Time) {
			return conflicts[i].Time.Before(conflicts[j].Time)
		}
		return conflicts[i].Doses[0].ID < conflicts[j].Doses[0].ID
	})
	return conflicts
}

// Severity grades a group of overlapping doses
func Severity(doses []model.ScheduledDose) model.Severity {
	severity := model.SeverityLow

	hasCritical, hasHigh := false, false
	foods := make(map[model.FoodRequirement]bool)
	for _, dose := range doses {
		switch dose.Priority {
		case model.PriorityCritical:
			hasCritical = true
		case model.PriorityHigh:
			hasHigh = true
		}
		if dose.FoodRequirement != "" && dose.FoodRequirement != model.FoodAny {
			foods[dose.FoodRequirement] = true
		}
	}

	if hasCritical {
		severity = model.SeverityHigh
	} else if hasHigh {
		severity = model.SeverityMedium
	}

	// incompatible meal constraints make any overlap harder to follow
	if len(foods) > 1 {
		severity = severity.Escalate()
	}

	return severity
}

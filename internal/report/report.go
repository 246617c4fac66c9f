package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

// Data contains everything an adherence report renders
type Data struct {
	PatientName  string
	From, To     time.Time
	GeneratedAt  time.Time
	Overall      adherence.Stats
	ByMedication map[string]adherence.Stats
	Schedules    []model.MedicationSchedule
	Logs         []model.DoseLog
	Conflicts    []model.ConflictRecord
}

// DateRange formats the reporting period
func (d *Data) DateRange() string {
	return d.From.Format("2006-01-02") + " to " + d.To.Format("2006-01-02")
}

// medicationNames maps medication IDs to display names from the schedules
func (d *Data) medicationNames() map[string]string {
	names := make(map[string]string, len(d.Schedules))
	for _, s := range d.Schedules {
		if s.MedicationName != "" {
			names[s.MedicationID] = s.MedicationName
		} else if _, ok := names[s.MedicationID]; !ok {
			names[s.MedicationID] = s.MedicationID
		}
	}
	return names
}

// medicationIDs returns the keys of ByMedication in a stable order
func (d *Data) medicationIDs() []string {
	ids := make([]string, 0, len(d.ByMedication))
	for id := range d.ByMedication {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// recentLogs returns up to n logs, newest first
func (d *Data) recentLogs(n int) []model.DoseLog {
	logs := append([]model.DoseLog(nil), d.Logs...)
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].ScheduledTime.After(logs[j].ScheduledTime)
	})
	if n > 0 && len(logs) > n {
		logs = logs[:n]
	}
	return logs
}

func describePattern(p model.SchedulePattern) string {
	switch p.Type {
	case model.PatternWeekly:
		var days []string
		for i, on := range p.DaysOfWeek {
			if on {
				days = append(days, time.Weekday(i).String()[:3])
			}
		}
		return "weekly " + strings.Join(days, ", ") + " at " + strings.Join(p.Times, ", ")
	case model.PatternInterval:
		return "every " + strconv.Itoa(p.Interval) + " days at " + strings.Join(p.Times, ", ")
	case model.PatternMonthly:
		days := make([]string, 0, len(p.DaysOfMonth))
		for _, d := range p.DaysOfMonth {
			days = append(days, strconv.Itoa(d))
		}
		return "monthly on " + strings.Join(days, ", ") + " at " + strings.Join(p.Times, ", ")
	case model.PatternAsNeeded:
		return "as needed"
	default:
		return "daily at " + strings.Join(p.Times, ", ")
	}
}

// Package adherence derives adherence statistics from dose history.
package adherence

import (
	"math"
	"sort"
	"time"

	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

const (
	// DefaultWindow is the trailing history considered for rates and streaks
	DefaultWindow = 30 * 24 * time.Hour
	// DefaultWeeks is the number of weekly buckets in the trend
	DefaultWeeks = 4

	week = 7 * 24 * time.Hour
)

// Options configures a calculation
type Options struct {
	Window time.Duration
	Weeks  int
}

// DefaultOptions returns the standard 30 day window with a 4 week trend
func DefaultOptions() Options {
	return Options{Window: DefaultWindow, Weeks: DefaultWeeks}
}

// Stats represents adherence over a window of dose logs
type Stats struct {
	AdherenceRate   float64   `json:"adherence_rate"`
	TakenCount      int       `json:"taken_count"`
	MissedCount     int       `json:"missed_count"`
	SkippedCount    int       `json:"skipped_count"`
	TotalCount      int       `json:"total_count"`
	Streak          int       `json:"streak"`
	LongestStreak   int       `json:"longest_streak"`
	WeeklyAdherence []float64 `json:"weekly_adherence"`
}

// Calculate computes adherence statistics as of now. Empty input yields zero values.
func Calculate(logs []model.DoseLog, now time.Time, opts Options) Stats {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Weeks <= 0 {
		opts.Weeks = DefaultWeeks
	}

	windowStart := now.Add(-opts.Window)
	var terminal []model.DoseLog
	for _, log := range logs {
		if !log.Status.IsTerminal() || !log.ScheduledTime.After(windowStart) {
			continue
		}
		terminal = append(terminal, log)
	}

	stats := Stats{WeeklyAdherence: weekly(logs, now, opts.Weeks)}
	for _, log := range terminal {
		switch log.Status {
		case model.DoseStatusTaken:
			stats.TakenCount++
		case model.DoseStatusMissed:
			stats.MissedCount++
		case model.DoseStatusSkipped:
			stats.SkippedCount++
		}
	}
	stats.TotalCount = len(terminal)
	stats.AdherenceRate = percent(stats.TakenCount, stats.TotalCount)

	sortByScheduledTime(terminal)
	stats.Streak = currentStreak(terminal)
	stats.LongestStreak = longestStreak(terminal)

	return stats
}

// ByMedication computes statistics per medication ID
func ByMedication(logs []model.DoseLog, now time.Time, opts Options) map[string]Stats {
	grouped := make(map[string][]model.DoseLog)
	for _, log := range logs {
		grouped[log.MedicationID] = append(grouped[log.MedicationID], log)
	}

	result := make(map[string]Stats, len(grouped))
	for medicationID, group := range grouped {
		result[medicationID] = Calculate(group, now, opts)
	}
	return result
}

// currentStreak counts consecutive taken doses from the most recent backwards.
// logs must be sorted ascending.
func currentStreak(logs []model.DoseLog) int {
	streak := 0
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].Status != model.DoseStatusTaken {
			break
		}
		streak++
	}
	return streak
}

func longestStreak(logs []model.DoseLog) int {
	longest, run := 0, 0
	for _, log := range logs {
		if log.Status == model.DoseStatusTaken {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

// weekly returns taken/total per 7-day bucket ending at now, oldest first
func weekly(logs []model.DoseLog, now time.Time, weeks int) []float64 {
	rates := make([]float64, weeks)
	for i := 0; i < weeks; i++ {
		end := now.Add(-time.Duration(weeks-1-i) * week)
		start := end.Add(-week)

		taken, total := 0, 0
		for _, log := range logs {
			if !log.Status.IsTerminal() {
				continue
			}
			if log.ScheduledTime.After(start) && !log.ScheduledTime.After(end) {
				total++
				if log.Status == model.DoseStatusTaken {
					taken++
				}
			}
		}
		rates[i] = percent(taken, total)
	}
	return rates
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func sortByScheduledTime(logs []model.DoseLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].ScheduledTime.Equal(logs[j].ScheduledTime) {
			return logs[i].ScheduledTime.Before(logs[j].ScheduledTime)
		}
		return logs[i].ID < logs[j].ID
	})
}

package adherence

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// history builds logs ending one hour before now, oldest first, one per hour
func history(statuses ...model.DoseStatus) []model.DoseLog {
	logs := make([]model.DoseLog, len(statuses))
	for i, status := range statuses {
		logs[i] = model.DoseLog{
			ID:            fmt.Sprintf("log-%02d", i),
			DoseID:        fmt.Sprintf("dose-%02d", i),
			MedicationID:  "med-1",
			Status:        status,
			ScheduledTime: now.Add(-time.Duration(len(statuses)-i) * time.Hour),
		}
	}
	return logs
}

const (
	taken   = model.DoseStatusTaken
	missed  = model.DoseStatusMissed
	skipped = model.DoseStatusSkipped
)

func TestCalculate_RateAndStreak(t *testing.T) {
	// oldest → newest; newest three are taken, missed, taken read newest first
	logs := history(taken, taken, missed, taken, taken, skipped, taken, taken, missed, taken)

	stats := Calculate(logs, now, DefaultOptions())

	assert.Equal(t, 70.0, stats.AdherenceRate)
	assert.Equal(t, 10, stats.TotalCount)
	assert.Equal(t, 7, stats.TakenCount)
	assert.Equal(t, 2, stats.MissedCount)
	assert.Equal(t, 1, stats.SkippedCount)
	assert.Equal(t, 1, stats.Streak)
	assert.Equal(t, 2, stats.LongestStreak)
}

func TestCalculate_StreakIgnoresInputOrder(t *testing.T) {
	logs := history(missed, taken, taken, taken)
	reversed := []model.DoseLog{logs[3], logs[1], logs[0], logs[2]}

	stats := Calculate(reversed, now, DefaultOptions())
	assert.Equal(t, 3, stats.Streak)
	assert.Equal(t, 3, stats.LongestStreak)
}

func TestCalculate_EmptyInput(t *testing.T) {
	stats := Calculate(nil, now, DefaultOptions())

	assert.Equal(t, 0.0, stats.AdherenceRate)
	assert.Equal(t, 0, stats.Streak)
	assert.Equal(t, 0, stats.LongestStreak)
	assert.Equal(t, []float64{0, 0, 0, 0}, stats.WeeklyAdherence)
}

func TestCalculate_ExcludesPendingAndOldLogs(t *testing.T) {
	logs := history(taken, missed)
	logs = append(logs,
		model.DoseLog{ID: "pending", Status: model.DoseStatusPending, ScheduledTime: now.Add(-time.Minute)},
		model.DoseLog{ID: "old", Status: missed, ScheduledTime: now.AddDate(0, 0, -31)},
	)

	stats := Calculate(logs, now, DefaultOptions())
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 50.0, stats.AdherenceRate)
}

func TestCalculate_WeeklyTrendOldestFirst(t *testing.T) {
	var logs []model.DoseLog
	add := func(daysAgo int, status model.DoseStatus) {
		logs = append(logs, model.DoseLog{
			ID:            fmt.Sprintf("log-%d-%d", daysAgo, len(logs)),
			Status:        status,
			ScheduledTime: now.AddDate(0, 0, -daysAgo),
		})
	}
	// week 4 (oldest): 1/2, week 3: none, week 2: 0/1, week 1 (newest): 3/3
	add(25, taken)
	add(24, missed)
	add(10, skipped)
	add(1, taken)
	add(2, taken)
	add(3, taken)

	stats := Calculate(logs, now, DefaultOptions())
	assert.Equal(t, []float64{50, 0, 0, 100}, stats.WeeklyAdherence)
}

func TestCalculate_RoundsToOneDecimal(t *testing.T) {
	stats := Calculate(history(taken, taken, missed), now, DefaultOptions())
	assert.Equal(t, 66.7, stats.AdherenceRate)
}

func TestByMedication(t *testing.T) {
	logs := history(taken, missed, taken)
	logs[1].MedicationID = "med-2"

	stats := ByMedication(logs, now, DefaultOptions())
	assert.Len(t, stats, 2)
	assert.Equal(t, 100.0, stats["med-1"].AdherenceRate)
	assert.Equal(t, 0.0, stats["med-2"].AdherenceRate)
}

// Property: the rate always equals taken/total and streaks never exceed totals
func TestProperty_AdherenceArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statusGen := gen.OneConstOf(taken, missed, skipped)

	properties.Property("rate, streak and longest streak are consistent", prop.ForAll(
		func(statuses []model.DoseStatus) bool {
			logs := history(statuses...)
			stats := Calculate(logs, now, DefaultOptions())

			takenCount := 0
			for _, s := range statuses {
				if s == taken {
					takenCount++
				}
			}
			if stats.TakenCount != takenCount || stats.TotalCount != len(statuses) {
				return false
			}
			if stats.AdherenceRate != percent(takenCount, len(statuses)) {
				return false
			}
			if stats.Streak > stats.LongestStreak || stats.LongestStreak > takenCount {
				return false
			}
			return stats.AdherenceRate >= 0 && stats.AdherenceRate <= 100
		},
		gen.SliceOf(statusGen),
	))

	properties.TestingRun(t)
}

package report

import (
	"bytes"
	"fmt"

	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	summarySheet = "Summary"
	historySheet = "Dose History"
)

var (
	summaryHeader = []string{"Medication", "Adherence %", "Taken", "Missed", "Skipped", "Total", "Streak", "Longest Streak"}
	historyHeader = []string{"Scheduled", "Medication", "Status", "Taken At", "Notes"}
)

// XLSXGenerator renders adherence reports as Excel workbooks
type XLSXGenerator struct {
	logger *zap.Logger
}

// NewXLSXGenerator creates a new XLSXGenerator
func NewXLSXGenerator(logger *zap.Logger) *XLSXGenerator {
	return &XLSXGenerator{logger: logger}
}

// Generate builds a workbook with a per-medication summary sheet and the full dose history
func (g *XLSXGenerator) Generate(data *Data) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6E6"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, summarySheet, summaryHeader, headerStyle, []float64{28, 12, 8, 8, 8, 8, 8, 15}); err != nil {
		return nil, err
	}
	if err := writeHeader(f, historySheet, historyHeader, headerStyle, []float64{18, 28, 10, 18, 40}); err != nil {
		return nil, err
	}

	if err := g.writeSummary(f, data); err != nil {
		return nil, err
	}
	if err := g.writeHistory(f, data); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		g.logger.Error("failed to generate XLSX", zap.Error(err))
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	g.logger.Info("XLSX report generated successfully",
		zap.Int("size_bytes", buf.Len()),
		zap.Int("logs", len(data.Logs)),
	)

	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int, widths []float64) error {
	for i, title := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(widths) {
			if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	return nil
}

func (g *XLSXGenerator) writeSummary(f *excelize.File, data *Data) error {
	names := data.medicationNames()
	row := 2

	for _, id := range data.medicationIDs() {
		name := names[id]
		if name == "" {
			name = id
		}
		if err := writeStatsRow(f, row, name, data.ByMedication[id]); err != nil {
			return err
		}
		row++
	}

	return writeStatsRow(f, row, "All medications", data.Overall)
}

func writeStatsRow(f *excelize.File, row int, label string, s adherence.Stats) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	values := []interface{}{label, s.AdherenceRate, s.TakenCount, s.MissedCount, s.SkippedCount, s.TotalCount, s.Streak, s.LongestStreak}
	if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write summary row %d: %w", row, err)
	}
	return nil
}

func (g *XLSXGenerator) writeHistory(f *excelize.File, data *Data) error {
	names := data.medicationNames()

	for i, l := range data.recentLogs(0) {
		takenAt := ""
		if l.ActualTime != nil {
			takenAt = l.ActualTime.Format("2006-01-02 15:04")
		}
		name := names[l.MedicationID]
		if name == "" {
			name = l.MedicationID
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := []interface{}{l.ScheduledTime.Format("2006-01-02 15:04"), name, string(l.Status), takenAt, l.Notes}
		if err := f.SetSheetRow(historySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write history row %d: %w", i+2, err)
		}
	}
	return nil
}

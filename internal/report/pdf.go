package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
)

// maxHistoryRows bounds the dose history table of the PDF
const maxHistoryRows = 40

// PDFGenerator renders adherence reports as PDF documents
type PDFGenerator struct {
	logger *zap.Logger
}

// NewPDFGenerator creates a new PDFGenerator
func NewPDFGenerator(logger *zap.Logger) *PDFGenerator {
	return &PDFGenerator{
		logger: logger,
	}
}

// Generate creates a PDF report from the provided data
func (g *PDFGenerator) Generate(data *Data) ([]byte, error) {
	g.logger.Info("generating PDF report",
		zap.String("patient", data.PatientName),
		zap.String("date_range", data.DateRange()),
	)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	g.addTitle(pdf, data)
	g.addSummary(pdf, data)
	g.addSchedules(pdf, data)
	g.addMedicationAdherence(pdf, data)
	g.addWeeklyTrend(pdf, data)
	g.addConflicts(pdf, data)
	g.addDoseHistory(pdf, data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		g.logger.Error("failed to generate PDF", zap.Error(err))
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	g.logger.Info("PDF report generated successfully",
		zap.Int("size_bytes", buf.Len()),
	)

	return buf.Bytes(), nil
}

func (g *PDFGenerator) addTitle(pdf *gofpdf.Fpdf, data *Data) {
	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 10, "Medication Adherence Report", "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "", 12)
	if data.PatientName != "" {
		pdf.CellFormat(0, 8, fmt.Sprintf("Patient: %s", data.PatientName), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 8, fmt.Sprintf("Period: %s", data.DateRange()), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(10)
}

func (g *PDFGenerator) addSectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(0, 10, title, "", 1, "L", true, 0, "")
	pdf.Ln(3)
	pdf.SetFont("Arial", "", 10)
}

func (g *PDFGenerator) addSummary(pdf *gofpdf.Fpdf, data *Data) {
	g.addSectionHeader(pdf, "Summary")

	s := data.Overall
	if s.TotalCount == 0 {
		pdf.CellFormat(0, 8, "No doses recorded during this period.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	pdf.CellFormat(0, 6, fmt.Sprintf("Adherence: %.1f%%", s.AdherenceRate), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Taken: %d  Missed: %d  Skipped: %d  Total: %d",
		s.TakenCount, s.MissedCount, s.SkippedCount, s.TotalCount), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Current streak: %d  Longest streak: %d", s.Streak, s.LongestStreak), "", 1, "L", false, 0, "")
	pdf.Ln(5)
}

func (g *PDFGenerator) addSchedules(pdf *gofpdf.Fpdf, data *Data) {
	g.addSectionHeader(pdf, "Medication Schedules")

	if len(data.Schedules) == 0 {
		pdf.CellFormat(0, 8, "No schedules recorded.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	for _, s := range data.Schedules {
		name := s.MedicationName
		if name == "" {
			name = s.MedicationID
		}
		if !s.IsActive {
			name += " (inactive)"
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, name, "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		if s.Dosage != "" {
			pdf.CellFormat(0, 5, fmt.Sprintf("  Dosage: %s", s.Dosage), "", 1, "L", false, 0, "")
		}
		pdf.CellFormat(0, 5, fmt.Sprintf("  Pattern: %s", describePattern(s.Pattern)), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("  Priority: %s", s.Priority), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("  Start Date: %s", s.StartDate.Format("2006-01-02")), "", 1, "L", false, 0, "")
		if end := s.EffectiveEndDate(); end != nil {
			pdf.CellFormat(0, 5, fmt.Sprintf("  End Date: %s", end.Format("2006-01-02")), "", 1, "L", false, 0, "")
		}
		pdf.Ln(3)
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addMedicationAdherence(pdf *gofpdf.Fpdf, data *Data) {
	g.addSectionHeader(pdf, "Adherence by Medication")

	ids := data.medicationIDs()
	if len(ids) == 0 {
		pdf.CellFormat(0, 8, "No adherence data recorded.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	names := data.medicationNames()
	for _, id := range ids {
		s := data.ByMedication[id]
		name := names[id]
		if name == "" {
			name = id
		}
		pdf.CellFormat(0, 6, fmt.Sprintf("%s: %.1f%% (%d of %d taken)", name, s.AdherenceRate, s.TakenCount, s.TotalCount), "", 1, "L", false, 0, "")
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addWeeklyTrend(pdf *gofpdf.Fpdf, data *Data) {
	weeks := data.Overall.WeeklyAdherence
	if len(weeks) == 0 {
		return
	}

	g.addSectionHeader(pdf, "Weekly Trend")
	for i, rate := range weeks {
		label := "This week"
		if ago := len(weeks) - 1 - i; ago > 0 {
			label = fmt.Sprintf("%d weeks ago", ago)
		}
		pdf.CellFormat(0, 5, fmt.Sprintf("%s: %.1f%%", label, rate), "", 1, "L", false, 0, "")
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addConflicts(pdf *gofpdf.Fpdf, data *Data) {
	if len(data.Conflicts) == 0 {
		return
	}

	g.addSectionHeader(pdf, "Upcoming Conflicts")
	names := data.medicationNames()
	for _, c := range data.Conflicts {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, fmt.Sprintf("%s (%s)", c.Time.Format("2006-01-02 15:04"), c.Severity), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, d := range c.Doses {
			pdf.CellFormat(0, 5, fmt.Sprintf("  - %s at %s", names[d.MedicationID], d.ScheduledTime.Format("15:04")), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addDoseHistory(pdf *gofpdf.Fpdf, data *Data) {
	g.addSectionHeader(pdf, "Dose History")

	logs := data.recentLogs(maxHistoryRows)
	if len(logs) == 0 {
		pdf.CellFormat(0, 8, "No doses recorded during this period.", "", 1, "L", false, 0, "")
		return
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Scheduled", "B", 0, "L", false, 0, "")
	pdf.CellFormat(55, 6, "Medication", "B", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Status", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Taken At", "B", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	names := data.medicationNames()
	for _, l := range logs {
		takenAt := ""
		if l.ActualTime != nil {
			takenAt = l.ActualTime.Format("2006-01-02 15:04")
		}
		name := names[l.MedicationID]
		if name == "" {
			name = l.MedicationID
		}
		pdf.CellFormat(45, 5, l.ScheduledTime.Format("2006-01-02 15:04"), "", 0, "L", false, 0, "")
		pdf.CellFormat(55, 5, name, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 5, string(l.Status), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, takenAt, "", 1, "L", false, 0, "")
	}
}

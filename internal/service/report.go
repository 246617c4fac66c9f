package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/report"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// ReportFormat selects the rendering of an adherence report
type ReportFormat string

const (
	ReportPDF  ReportFormat = "pdf"
	ReportXLSX ReportFormat = "xlsx"
)

// ReportService renders adherence reports from the engine state
type ReportService struct {
	schedules *ScheduleService
	pdfGen    *report.PDFGenerator
	xlsxGen   *report.XLSXGenerator
	adherence adherence.Options
	now       func() time.Time
	logger    *zap.Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	schedules *ScheduleService,
	pdfGen *report.PDFGenerator,
	xlsxGen *report.XLSXGenerator,
	opts adherence.Options,
	logger *zap.Logger,
) *ReportService {
	if opts.Window <= 0 {
		opts.Window = adherence.DefaultWindow
	}

	return &ReportService{
		schedules: schedules,
		pdfGen:    pdfGen,
		xlsxGen:   xlsxGen,
		adherence: opts,
		now:       time.Now,
		logger:    logger,
	}
}

// GenerateReport renders the adherence report over the configured window
func (s *ReportService) GenerateReport(ctx context.Context, format ReportFormat, patientName string) ([]byte, error) {
	data := s.collect(ctx, patientName)

	s.logger.Info("generating adherence report",
		zap.String("format", string(format)),
		zap.Int("schedules", len(data.Schedules)),
		zap.Int("logs", len(data.Logs)),
	)

	var (
		out []byte
		err error
	)
	switch format {
	case ReportPDF:
		out, err = s.pdfGen.Generate(data)
	case ReportXLSX:
		out, err = s.xlsxGen.Generate(data)
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
	if err != nil {
		s.logger.Error("failed to generate report", zap.String("format", string(format)), zap.Error(err))
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	return out, nil
}

func (s *ReportService) collect(ctx context.Context, patientName string) *report.Data {
	now := s.now()
	from := now.Add(-s.adherence.Window)

	var logs []model.DoseLog
	for _, l := range s.schedules.History(ctx, "") {
		if l.ScheduledTime.After(from) && !l.ScheduledTime.After(now) {
			logs = append(logs, l)
		}
	}

	return &report.Data{
		PatientName:  patientName,
		From:         from,
		To:           now,
		GeneratedAt:  now,
		Overall:      adherence.Calculate(logs, now, s.adherence),
		ByMedication: adherence.ByMedication(logs, now, s.adherence),
		Schedules:    s.schedules.ListSchedules(ctx, false),
		Logs:         logs,
		Conflicts:    s.schedules.Conflicts(ctx),
	}
}

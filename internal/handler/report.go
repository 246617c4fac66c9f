package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ReportHandler implements report download endpoints
type ReportHandler struct {
	service *service.ReportService
	logger  *zap.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(service *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		service: service,
		logger:  logger,
	}
}

// GetApiV1ReportsAdherencePdf renders the adherence report as a PDF
func (h *ReportHandler) GetApiV1ReportsAdherencePdf(c *gin.Context, params api.GetApiV1ReportsAdherenceParams) {
	h.download(c, service.ReportPDF, contentTypePDF, derefString(params.Patient))
}

// GetApiV1ReportsAdherenceXlsx renders the adherence report as a spreadsheet
func (h *ReportHandler) GetApiV1ReportsAdherenceXlsx(c *gin.Context, params api.GetApiV1ReportsAdherenceParams) {
	h.download(c, service.ReportXLSX, contentTypeXLSX, derefString(params.Patient))
}

func (h *ReportHandler) download(c *gin.Context, format service.ReportFormat, contentType, patient string) {
	data, err := h.service.GenerateReport(c.Request.Context(), format, patient)
	if err != nil {
		respondError(c, h.logger, err, "Failed to generate report", zap.String("format", string(format)))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=adherence_report.%s", format))
	c.Header("Content-Length", fmt.Sprintf("%d", len(data)))
	c.Data(http.StatusOK, contentType, data)

	h.logger.Info("report downloaded",
		zap.String("format", string(format)),
		zap.Int("size_bytes", len(data)),
	)
}

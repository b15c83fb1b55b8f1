package handlers

import (
	"errors"
	"net/http"
	"strings"

	apierrors "github.com/flowdata/salesreport/internal/errors"
	"github.com/flowdata/salesreport/internal/middleware"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/flowdata/salesreport/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ReportHandler handles reporting HTTP requests over the enriched orders.
type ReportHandler struct {
	service services.ReportService
}

// NewReportHandler creates a new ReportHandler instance.
func NewReportHandler(service services.ReportService) *ReportHandler {
	return &ReportHandler{
		service: service,
	}
}

// QuarterlyRequest represents the query parameters for the quarterly
// sales endpoint.
type QuarterlyRequest struct {
	State string `form:"state" binding:"required,len=2,alpha"`
	Year  int    `form:"year" binding:"required,gte=1970,lte=2100"`
}

// ExportResponse represents the flat export response.
type ExportResponse struct {
	Orders []models.ExportRow `json:"orders"`
	Count  int                `json:"count"`
}

// QuarterlyResponse represents the quarterly sales response.
type QuarterlyResponse struct {
	State    string                  `json:"state"`
	Year     int                     `json:"year"`
	Quarters []models.QuarterlySales `json:"quarters"`
	Count    int                     `json:"count"`
}

// Export handles GET /api/v1/reports/export.
// It returns the flat export of every order, including orders whose
// location fields are still unresolved.
func (h *ReportHandler) Export(c *gin.Context) {
	log := middleware.GetLogger(c)

	rows, err := h.service.GetExport(c.Request.Context())
	if err != nil {
		apierrors.InternalServerError(c, "Failed to read export data", err)
		return
	}

	if log != nil {
		log.Info("Export request served", map[string]interface{}{
			"count": len(rows),
		})
	}

	c.JSON(http.StatusOK, ExportResponse{
		Orders: rows,
		Count:  len(rows),
	})
}

// Quarterly handles GET /api/v1/reports/quarterly?state=IL&year=2021.
// It returns sales totals grouped by quarter and city for one state and
// calendar year.
func (h *ReportHandler) Quarterly(c *gin.Context) {
	var req QuarterlyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	quarters, err := h.service.GetQuarterlySales(c.Request.Context(), req.State, req.Year)
	if err != nil {
		if errors.Is(err, services.ErrInvalidState) || errors.Is(err, services.ErrInvalidYear) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to read quarterly sales", err)
		return
	}

	c.JSON(http.StatusOK, QuarterlyResponse{
		State:    strings.ToUpper(req.State),
		Year:     req.Year,
		Quarters: quarters,
		Count:    len(quarters),
	})
}

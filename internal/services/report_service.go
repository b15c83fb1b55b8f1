package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/flowdata/salesreport/internal/repository"
)

// Report year validation bounds
const (
	MinReportYear = 1970
	MaxReportYear = 2100
)

// Service-level errors
var (
	ErrInvalidState = errors.New("state must be a two-letter code")
	ErrInvalidYear  = errors.New("invalid report year")
)

// ReportService defines the read-only reporting operations over the
// enriched orders table.
type ReportService interface {
	// GetExport retrieves the flat export rows for every order, enriched
	// or not. Returns an empty slice when no orders are loaded.
	GetExport(ctx context.Context) ([]models.ExportRow, error)

	// GetQuarterlySales retrieves quarterly sales totals for one state and
	// calendar year. Returns ErrInvalidState or ErrInvalidYear for bad
	// parameters, an empty slice when there is no matching data.
	GetQuarterlySales(ctx context.Context, state string, year int) ([]models.QuarterlySales, error)
}

// reportService is the concrete implementation of ReportService.
type reportService struct {
	repo repository.OrderRepository
	log  *logger.Logger
}

// NewReportService creates a new instance of ReportService.
func NewReportService(repo repository.OrderRepository, log *logger.Logger) ReportService {
	return &reportService{
		repo: repo,
		log:  log,
	}
}

// GetExport retrieves the flat export rows.
func (s *reportService) GetExport(ctx context.Context) ([]models.ExportRow, error) {
	s.log.Info("Querying export rows", nil)

	rows, err := s.repo.ExportRows(ctx)
	if err != nil {
		s.log.Error("Failed to query export rows", err, nil)
		return nil, fmt.Errorf("failed to query export rows: %w", err)
	}

	s.log.Info("Export rows retrieved", map[string]interface{}{
		"count": len(rows),
	})
	return rows, nil
}

// GetQuarterlySales validates the parameters and retrieves the aggregate.
// The state code is case-insensitive on input and normalized to upper case
// before querying.
func (s *reportService) GetQuarterlySales(ctx context.Context, state string, year int) ([]models.QuarterlySales, error) {
	normalized := strings.ToUpper(strings.TrimSpace(state))
	if len(normalized) != 2 || !isAlpha(normalized) {
		s.log.Warn("Invalid state code provided", map[string]interface{}{
			"state": state,
		})
		return nil, fmt.Errorf("%w: got %q", ErrInvalidState, state)
	}

	if year < MinReportYear || year > MaxReportYear {
		s.log.Warn("Invalid report year provided", map[string]interface{}{
			"year": year,
		})
		return nil, fmt.Errorf("%w: year must be between %d and %d, got %d",
			ErrInvalidYear, MinReportYear, MaxReportYear, year)
	}

	s.log.Info("Querying quarterly sales", map[string]interface{}{
		"state": normalized,
		"year":  year,
	})

	rows, err := s.repo.QuarterlySales(ctx, normalized, year)
	if err != nil {
		s.log.Error("Failed to query quarterly sales", err, map[string]interface{}{
			"state": normalized,
			"year":  year,
		})
		return nil, fmt.Errorf("failed to query quarterly sales: %w", err)
	}

	s.log.Info("Quarterly sales retrieved", map[string]interface{}{
		"state": normalized,
		"year":  year,
		"count": len(rows),
	})
	return rows, nil
}

// isAlpha reports whether s contains only ASCII letters.
func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

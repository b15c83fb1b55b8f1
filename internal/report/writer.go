package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
)

// OrderReader is the read-only slice of the order repository the report
// writers need.
type OrderReader interface {
	ExportRows(ctx context.Context) ([]models.ExportRow, error)
	QuarterlySales(ctx context.Context, state string, year int) ([]models.QuarterlySales, error)
}

// Writer produces the flat export file and the quarterly sales report from
// the enriched orders table. Both are plain reads over already-clean data;
// orders with unresolved addresses appear in the export with empty
// location fields and are excluded from the state-filtered report.
type Writer struct {
	orders OrderReader
	log    *logger.Logger
}

// NewWriter creates a report Writer over the given order reader.
func NewWriter(orders OrderReader, log *logger.Logger) *Writer {
	return &Writer{
		orders: orders,
		log:    log,
	}
}

// WriteExport writes the flat export (order number plus location fields)
// to path and returns the number of data rows written.
func (w *Writer) WriteExport(ctx context.Context, path string) (int, error) {
	rows, err := w.orders.ExportRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read export rows: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"order_number", "city", "state", "zip_code"}); err != nil {
		return 0, fmt.Errorf("failed to write export header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.OrderNumber,
			deref(row.City),
			deref(row.State),
			deref(row.ZipCode),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("failed to write export row for order %s: %w", row.OrderNumber, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush export file: %w", err)
	}

	w.log.Info("Export file written", map[string]interface{}{
		"path": path,
		"rows": len(rows),
	})
	return len(rows), nil
}

// WriteQuarterlySales writes the quarterly sales report for one state and
// year into dir, returning the report path and the number of data rows.
// Quarters are formatted Q1 through Q4; totals keep two decimal places.
func (w *Writer) WriteQuarterlySales(ctx context.Context, dir, state string, year int) (string, int, error) {
	state = strings.ToUpper(strings.TrimSpace(state))

	rows, err := w.orders.QuarterlySales(ctx, state, year)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read quarterly sales: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_state_sales_report_%d.csv", state, year))

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create report file %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"Quarter", "City", "Total Sales"}); err != nil {
		return "", 0, fmt.Errorf("failed to write report header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			fmt.Sprintf("Q%d", row.Quarter),
			row.City,
			strconv.FormatFloat(row.TotalSales, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return "", 0, fmt.Errorf("failed to write report row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", 0, fmt.Errorf("failed to flush report file: %w", err)
	}

	w.log.Info("Quarterly sales report written", map[string]interface{}{
		"path":  path,
		"state": state,
		"year":  year,
		"rows":  len(rows),
	})
	return path, len(rows), nil
}

// deref maps a NULL field to an empty cell.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

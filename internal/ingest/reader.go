package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowdata/salesreport/internal/logger"
	"github.com/flowdata/salesreport/internal/models"
	"github.com/go-playground/validator/v10"
)

// Column names after header normalization.
const (
	colOrderNumber = "order_number"
	colOrderDate   = "order_date"
	colIPAddress   = "ip_address"
	colSaleAmount  = "sale_amount"
)

// headerAliases maps normalized source headers to canonical column names.
// The orders file in the wild uses "Date", "Zip" and "$ Sale" headings.
var headerAliases = map[string]string{
	"date":   colOrderDate,
	"zip":    "zip_code",
	"$_sale": colSaleAmount,
	"ip":     colIPAddress,
}

// dateLayouts are the order-date formats accepted from input files.
// Time of day, when present, is discarded.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
}

// Reader parses the pipeline's delimited input files. Rows failing shape
// validation are skipped and counted, never fatal: a bad row costs one
// order, not the run.
type Reader struct {
	log      *logger.Logger
	validate *validator.Validate
}

// NewReader creates a new input file Reader.
func NewReader(log *logger.Logger) *Reader {
	return &Reader{
		log:      log,
		validate: validator.New(),
	}
}

// ReadOrdersFile opens and parses the orders file at path.
// It returns the valid orders and the count of skipped rows.
func (r *Reader) ReadOrdersFile(path string) ([]models.Order, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open orders file %s: %w", path, err)
	}
	defer f.Close()

	return r.ReadOrders(f)
}

// ReadOrders parses orders from a delimited stream with a header row.
// Headers are normalized (trimmed, lowercased, spaces to underscores,
// aliases applied) so column order in the source file does not matter.
func (r *Reader) ReadOrders(src io.Reader) ([]models.Order, int, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true
	// Malformed quoting should cost one row, not the file
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read orders header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[normalizeHeader(h)] = i
	}
	for _, required := range []string{colOrderNumber, colOrderDate, colIPAddress, colSaleAmount} {
		if _, ok := columns[required]; !ok {
			return nil, 0, fmt.Errorf("orders file is missing required column %q", required)
		}
	}

	var orders []models.Order
	skipped := 0
	line := 1

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			skipped++
			r.log.Warn("Skipping unreadable orders row", map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			})
			continue
		}

		order, err := r.parseOrder(record, columns)
		if err != nil {
			skipped++
			r.log.Warn("Skipping invalid orders row", map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			})
			continue
		}

		orders = append(orders, *order)
	}

	return orders, skipped, nil
}

// parseOrder converts one record into an Order, normalizing the date to a
// calendar date, the amount to a plain float, and the IP to canonical form.
func (r *Reader) parseOrder(record []string, columns map[string]int) (*models.Order, error) {
	orderNumber := strings.TrimSpace(field(record, columns[colOrderNumber]))
	if orderNumber == "" {
		return nil, fmt.Errorf("missing order number")
	}

	orderDate, err := parseDate(field(record, columns[colOrderDate]))
	if err != nil {
		return nil, fmt.Errorf("invalid order date: %w", err)
	}

	amount, err := parseAmount(field(record, columns[colSaleAmount]))
	if err != nil {
		return nil, fmt.Errorf("invalid sale amount: %w", err)
	}

	order := &models.Order{
		OrderNumber: orderNumber,
		OrderDate:   orderDate,
		IPAddress:   CanonicalIP(field(record, columns[colIPAddress])),
		SaleAmount:  amount,
	}

	if err := r.validate.Struct(order); err != nil {
		return nil, err
	}

	return order, nil
}

// ReadIPAddressesFile opens and parses the IP-addresses file at path.
func (r *Reader) ReadIPAddressesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open IP file %s: %w", path, err)
	}
	defer f.Close()

	return r.ReadIPAddresses(f)
}

// ReadIPAddresses parses one address per row, tolerating an optional
// header. Addresses are deduplicated in order of first appearance;
// malformed addresses are kept verbatim because failing to resolve is an
// enrichment outcome, not an ingest error.
func (r *Reader) ReadIPAddresses(src io.Reader) ([]string, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var ips []string
	seen := make(map[string]struct{})
	first := true

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read IP file: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		value := strings.TrimSpace(record[0])

		// Optional header row
		if first {
			first = false
			if name := normalizeHeader(value); name == colIPAddress {
				continue
			}
		}

		if value == "" {
			continue
		}

		ip := CanonicalIP(value)
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}

	return ips, nil
}

// CanonicalIP returns the canonical string form of an IP address.
// Unparseable values are returned trimmed but otherwise verbatim so they
// flow through to the resolver stage and fail there with a reason code.
func CanonicalIP(value string) string {
	trimmed := strings.TrimSpace(value)
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return addr.String()
	}
	return trimmed
}

// normalizeHeader trims, lowercases, and underscores a header cell, then
// applies the known source-file aliases.
func normalizeHeader(h string) string {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
	if alias, ok := headerAliases[name]; ok {
		return alias
	}
	return name
}

// parseAmount strips currency formatting ("$1,234.56") and parses a float.
func parseAmount(value string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	return strconv.ParseFloat(cleaned, 64)
}

// parseDate tries the accepted layouts and truncates to a calendar date.
func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", trimmed)
}

// field returns record[i], or an empty string when the row is short.
func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}
